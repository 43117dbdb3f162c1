package queue

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/poi-importer/internal/pkg/logger"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func quietLogger() *logger.Logger {
	return logger.NewWriter(&bytes.Buffer{}, logger.ERROR)
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMemoryQueue_DeliversEveryJob(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 20; i++ {
		if _, err := q.Enqueue(ctx, []byte(`{"ID":1}`), EnqueueOptions{DiscardOnSuccess: true}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var handled atomic.Int64
	done := make(chan struct{})
	go func() {
		q.Consume(ctx, 4, func(ctx context.Context, job *Job) error {
			handled.Add(1)
			return nil
		})
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return handled.Load() == 20 })
	cancel()
	<-done

	stats, _ := q.Stats(context.Background())
	if stats.Succeeded != 20 || stats.Queued != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(q.jobs) != 0 {
		t.Errorf("discard-on-success should drop payloads, %d left", len(q.jobs))
	}
}

func TestMemoryQueue_CancelLetsInFlightJobFinish(t *testing.T) {
	q := NewMemoryQueue(RetryPolicy{MaxAttempts: 1}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, []byte(`{"ID":1}`), EnqueueOptions{MaxAttempts: 1}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var handled atomic.Int64
	done := make(chan struct{})
	go func() {
		q.Consume(ctx, 1, func(ctx context.Context, job *Job) error {
			if handled.Add(1) == 1 {
				close(started)
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(done)
	}()

	<-started
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)
	<-done

	stats, _ := q.Stats(context.Background())
	if stats.Succeeded != 1 || stats.Dead != 0 {
		t.Errorf("in-flight job should finish, got %+v", stats)
	}
	if handled.Load() != 1 || stats.Queued != 1 {
		t.Errorf("no new job should be claimed after cancel: handled=%d stats=%+v", handled.Load(), stats)
	}
}

func TestMemoryQueue_RetriesThenDeadLetters(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _ := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{MaxAttempts: 3})

	var mu sync.Mutex
	var attempts []int
	go q.Consume(ctx, 2, func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		return errors.New("store unavailable")
	})

	waitFor(t, 2*time.Second, func() bool {
		dead, _ := q.DeadJobs(context.Background(), 10)
		return len(dead) == 1
	})

	mu.Lock()
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("attempts = %v, want [1 2 3]", attempts)
	}
	mu.Unlock()

	dead, _ := q.DeadJobs(context.Background(), 10)
	if dead[0].ID != id || dead[0].State != StateDead || dead[0].LastError != "store unavailable" {
		t.Errorf("unexpected dead job %+v", dead[0])
	}
	stats, _ := q.Stats(context.Background())
	if stats.Failed != 3 || stats.Dead != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMemoryQueue_RecoversAfterTransientFailure(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{})

	var calls atomic.Int64
	go q.Consume(ctx, 1, func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	waitFor(t, 2*time.Second, func() bool {
		s, _ := q.Stats(context.Background())
		return s.Succeeded == 1
	})
	s, _ := q.Stats(context.Background())
	if s.Failed != 1 || s.Dead != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestMemoryQueue_PanicIsAFailure(t *testing.T) {
	q := NewMemoryQueue(RetryPolicy{MaxAttempts: 1}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{MaxAttempts: 1})
	go q.Consume(ctx, 1, func(ctx context.Context, job *Job) error {
		panic("nil pointer in payload")
	})

	waitFor(t, 2*time.Second, func() bool {
		dead, _ := q.DeadJobs(context.Background(), 1)
		return len(dead) == 1
	})
	dead, _ := q.DeadJobs(context.Background(), 1)
	if dead[0].LastError != "handler panic: nil pointer in payload" {
		t.Errorf("LastError = %q", dead[0].LastError)
	}
}

func TestMemoryQueue_RetryDead(t *testing.T) {
	q := NewMemoryQueue(RetryPolicy{MaxAttempts: 1}, quietLogger())
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{MaxAttempts: 1})
	job := q.claim()
	q.finish(job, errors.New("bad"))

	if err := q.RetryDead(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RetryDead(missing) = %v", err)
	}
	if err := q.RetryDead(ctx, id); err != nil {
		t.Fatalf("RetryDead: %v", err)
	}

	again := q.claim()
	if again == nil || again.ID != id || again.Attempt != 1 {
		t.Fatalf("retried job not redelivered with fresh attempts: %+v", again)
	}
	if dead, _ := q.DeadJobs(ctx, 0); len(dead) != 0 {
		t.Errorf("job still listed as dead")
	}
}

func TestMemoryQueue_EnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(), quietLogger())
	q.Close()
	if _, err := q.Enqueue(context.Background(), []byte(`{}`), EnqueueOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}
