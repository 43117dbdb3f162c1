package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/poi-importer/internal/pkg/distlock"
	"github.com/ignite/poi-importer/internal/pkg/logger"
)

// =============================================================================
// RECOVERER: Reclaims Stalled Jobs & Enforces Max Attempts
// =============================================================================
// If a worker process dies mid-job, the job stays claimed indefinitely.
// The Recoverer periodically sweeps for such jobs and either requeues them
// (attempts left) or moves them to the dead-letter set. Each sweep runs
// under a distributed lock so only one process sweeps at a time.

const (
	// DefaultRecoveryInterval is how often we scan for stalled jobs.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a job can be processing before we consider
	// its worker gone.
	DefaultStaleAge = 5 * time.Minute
)

// StaleRecoverer is implemented by queues that can reclaim stalled jobs.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, staleAge time.Duration) (requeued, dead int, err error)
}

// Recoverer runs StaleRecoverer sweeps on an interval.
type Recoverer struct {
	queue    StaleRecoverer
	lock     distlock.Locker
	interval time.Duration
	staleAge time.Duration
	log      *logger.Logger
}

// NewRecoverer creates a recovery loop. Zero durations take the defaults.
func NewRecoverer(q StaleRecoverer, lock distlock.Locker, interval, staleAge time.Duration, log *logger.Logger) *Recoverer {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &Recoverer{
		queue:    q,
		lock:     lock,
		interval: interval,
		staleAge: staleAge,
		log:      logger.OrDefault(log, "QueueRecovery"),
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (r *Recoverer) Start(ctx context.Context) {
	r.log.Info("starting", "interval", r.interval, "stale_age", r.staleAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopping")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil && !errors.Is(err, distlock.ErrNotAcquired) && ctx.Err() == nil {
				r.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep if the lock is free.
func (r *Recoverer) RunOnce(ctx context.Context) error {
	return distlock.Run(ctx, r.lock, func(ctx context.Context) error {
		sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		requeued, dead, err := r.queue.RecoverStale(sweepCtx, r.staleAge)
		if requeued > 0 {
			r.log.Info("requeued stalled jobs", "count", requeued)
		}
		if dead > 0 {
			r.log.Warn("moved stalled jobs to dead-letter", "count", dead)
		}
		return err
	})
}
