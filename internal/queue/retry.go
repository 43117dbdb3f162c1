package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides what happens to a job whose handler failed.
type RetryPolicy struct {
	MaxAttempts int // used when the job carries no limit of its own
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter returns a value in [0,1). nil means math/rand.
	Jitter func() float64
}

// DefaultRetryPolicy is 3 attempts with 1s..30s full-jitter backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns a retry with backoff while the job has attempts left, and
// a dead-letter decision once job.Attempt has reached the limit.
func (p RetryPolicy) Decide(job *Job, _ error) Decision {
	if job.Attempt >= p.limit(job) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(job.Attempt)}
}

func (p RetryPolicy) limit(job *Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Backoff returns the delay before the delivery that follows attempt:
// BaseDelay * 2^(attempt-1), capped at MaxDelay, with full jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	jitter := rand.Float64
	if p.Jitter != nil {
		jitter = p.Jitter
	}
	return time.Duration(backoff * jitter())
}
