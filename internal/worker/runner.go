package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/queue"
)

// =============================================================================
// RUNNER - Worker Pool Lifecycle
// =============================================================================
// Wires a queue to a PoiImportWorker with a bounded pool and, for brokers
// that need it, a stalled-job Recoverer.

// Runner owns the consume loop.
type Runner struct {
	queue       queue.Queue
	worker      *PoiImportWorker
	recoverer   *queue.Recoverer
	concurrency int
	log         *logger.Logger

	// Control
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewRunner creates a pool of concurrency handlers. recoverer may be nil.
func NewRunner(q queue.Queue, w *PoiImportWorker, recoverer *queue.Recoverer, concurrency int, log *logger.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Runner{
		queue:       q,
		worker:      w,
		recoverer:   recoverer,
		concurrency: concurrency,
		log:         logger.OrDefault(log, "WorkerRunner"),
	}
}

// Start launches the pool in the background.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.Info("starting workers", "concurrency", r.concurrency)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.queue.Consume(ctx, r.concurrency, r.worker.Handle); err != nil {
			r.log.Error("consume loop exited", "error", err)
		}
	}()

	if r.recoverer != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.recoverer.Start(ctx)
		}()
	}
	return nil
}

// Stop cancels the pool and waits for in-flight jobs to settle.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.log.Info("stopping workers")
	r.wg.Wait()

	s := r.worker.Stats()
	r.log.Info("stopped", "created", s["created"], "updated", s["updated"], "no_change", s["no_change"], "failed", s["failed"])
}

// Running reports whether the pool is active.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Stats merges the worker's outcome counters with the queue depth.
func (r *Runner) Stats() map[string]int64 {
	out := r.worker.Stats()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if qs, err := r.queue.Stats(ctx); err == nil {
		out["queue_queued"] = qs.Queued
		out["queue_processing"] = qs.Processing
		out["queue_delayed"] = qs.Delayed
		out["queue_dead"] = qs.Dead
	}
	return out
}
