package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrJobNotFound is returned when a job id is not known to the queue.
	ErrJobNotFound = errors.New("queue: job not found")
)

// JobState is the lifecycle position of a job.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed" // failed, waiting for redelivery
	StateDead       JobState = "dead"
)

// DefaultMaxAttempts bounds deliveries per job unless EnqueueOptions says otherwise.
const DefaultMaxAttempts = 3

// Job is one unit of work. Attempt counts deliveries started, including
// redeliveries after a worker crash.
type Job struct {
	ID               string          `json:"id"`
	Payload          json.RawMessage `json:"payload"`
	Attempt          int             `json:"attempt"`
	MaxAttempts      int             `json:"max_attempts"`
	DiscardOnSuccess bool            `json:"discard_on_success"`
	State            JobState        `json:"state"`
	LastError        string          `json:"last_error,omitempty"`
	EnqueuedAt       time.Time       `json:"enqueued_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// EnqueueOptions controls per-job delivery.
type EnqueueOptions struct {
	MaxAttempts      int  // 0 means DefaultMaxAttempts
	DiscardOnSuccess bool // drop the stored payload once the job succeeds
}

func (o EnqueueOptions) maxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Handler processes one delivery. A non-nil error triggers the retry policy.
type Handler func(ctx context.Context, job *Job) error

// Queue is implemented by every broker adapter.
type Queue interface {
	// Enqueue stores payload as a new job and returns its id.
	Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error)
	// Consume runs concurrency handler goroutines until ctx is cancelled.
	Consume(ctx context.Context, concurrency int, h Handler) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// DeadLetterStore exposes jobs that exhausted their attempts.
type DeadLetterStore interface {
	DeadJobs(ctx context.Context, limit int) ([]Job, error)
	// RetryDead moves a dead job back to the queue with a fresh attempt budget.
	RetryDead(ctx context.Context, id string) error
}

// Stats is a point-in-time view of queue depth plus lifetime counters for
// this queue (succeeded and failed deliveries).
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

func newJob(id string, payload []byte, opts EnqueueOptions, now time.Time) *Job {
	return &Job{
		ID:               id,
		Payload:          append(json.RawMessage(nil), payload...),
		MaxAttempts:      opts.maxAttempts(),
		DiscardOnSuccess: opts.DiscardOnSuccess,
		State:            StateQueued,
		EnqueuedAt:       now.UTC(),
	}
}

// runHandler calls h and converts a panic into an error so one bad payload
// cannot take down the pool.
//
// h gets ctx's values but not its cancellation. Cancelling a consumer stops
// it claiming new jobs; a job already claimed runs to completion, so a
// graceful shutdown does not cost it an attempt.
func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return h(context.WithoutCancel(ctx), job)
}

// PanicError is returned for a handler that panicked.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return "handler panic: " + toString(e.Value)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case error:
		return t.Error()
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
