package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/poi-importer/internal/pkg/logger"
)

// MemoryQueue is an in-process Queue. Jobs do not survive a restart.
type MemoryQueue struct {
	policy RetryPolicy
	log    *logger.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	pending []string
	dead    []string
	timers  map[string]*time.Timer
	closed  bool

	succeeded int64
	failed    int64

	notify chan struct{}
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(policy RetryPolicy, log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		policy: policy,
		log:    logger.OrDefault(log, "MemoryQueue"),
		jobs:   make(map[string]*Job),
		timers: make(map[string]*time.Timer),
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}

	job := newJob(uuid.NewString(), payload, opts, time.Now())
	q.jobs[job.ID] = job
	q.pushLocked(job.ID)
	return job.ID, nil
}

// pushLocked appends id to the ready list and wakes one consumer.
func (q *MemoryQueue) pushLocked(id string) {
	q.pending = append(q.pending, id)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// claim pops the next ready job and marks it processing. It returns a copy
// for the handler, or nil when nothing is ready.
func (q *MemoryQueue) claim() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		job, ok := q.jobs[id]
		if !ok || job.State == StateDead {
			continue
		}
		now := time.Now().UTC()
		job.Attempt++
		job.State = StateProcessing
		job.StartedAt = &now

		// More work is waiting; pass the wake-up on to another consumer.
		if len(q.pending) > 0 {
			select {
			case q.notify <- struct{}{}:
			default:
			}
		}
		cp := *job
		return &cp
	}
	return nil
}

// Consume runs concurrency workers until ctx is cancelled, then waits for
// in-flight handlers to return.
func (q *MemoryQueue) Consume(ctx context.Context, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				job := q.claim()
				if job == nil {
					select {
					case <-ctx.Done():
						return
					case <-q.notify:
						continue
					}
				}
				q.finish(job, runHandler(ctx, h, job))
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) finish(delivered *Job, herr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[delivered.ID]
	if !ok {
		return
	}
	now := time.Now().UTC()

	if herr == nil {
		q.succeeded++
		if job.DiscardOnSuccess {
			delete(q.jobs, job.ID)
			return
		}
		job.State = StateSucceeded
		job.LastError = ""
		job.FinishedAt = &now
		return
	}

	q.failed++
	job.LastError = herr.Error()
	d := q.policy.Decide(job, herr)
	if !d.Retry {
		job.State = StateDead
		job.FinishedAt = &now
		q.dead = append(q.dead, job.ID)
		q.log.Error("job moved to dead-letter", "job_id", job.ID, "attempt", job.Attempt, "error", herr)
		return
	}

	job.State = StateFailed
	q.log.Warn("job failed, retry scheduled", "job_id", job.ID, "attempt", job.Attempt, "delay", d.Delay, "error", herr)
	id := job.ID
	q.timers[id] = time.AfterFunc(d.Delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, id)
		if j, ok := q.jobs[id]; ok && !q.closed && j.State == StateFailed {
			j.State = StateQueued
			q.pushLocked(id)
		}
	})
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Succeeded: q.succeeded, Failed: q.failed, Dead: int64(len(q.dead))}
	for _, job := range q.jobs {
		switch job.State {
		case StateQueued:
			s.Queued++
		case StateProcessing:
			s.Processing++
		case StateFailed:
			s.Delayed++
		}
	}
	return s, nil
}

// DeadJobs returns up to limit dead jobs, most recent first.
func (q *MemoryQueue) DeadJobs(ctx context.Context, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.dead))
	for i := len(q.dead) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if job, ok := q.jobs[q.dead[i]]; ok {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (q *MemoryQueue) RetryDead(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, d := range q.dead {
		if d == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrJobNotFound
	}
	q.dead = append(q.dead[:idx], q.dead[idx+1:]...)

	job := q.jobs[id]
	job.Attempt = 0
	job.State = StateQueued
	job.FinishedAt = nil
	q.pushLocked(id)
	return nil
}

// Close stops accepting jobs and cancels pending retry timers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	return nil
}
