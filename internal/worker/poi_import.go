package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/queue"
)

// =============================================================================
// POI IMPORT WORKER - One Queue Delivery -> One Idempotent Upsert
// =============================================================================
// Each delivery carries a single catalog record. The worker transforms it,
// upserts it keyed by external id, and classifies the effect. Store errors
// (validation included) are returned so the queue can retry or dead-letter.

// Store is the write primitive the worker needs.
type Store interface {
	Upsert(ctx context.Context, poi *domain.Poi) (domain.UpsertResult, error)
}

// PoiImportWorker processes poi-import jobs.
type PoiImportWorker struct {
	store Store
	log   *logger.Logger

	created   int64
	updated   int64
	unchanged int64
	failed    int64
}

// NewPoiImportWorker creates a worker writing to store.
func NewPoiImportWorker(store Store, log *logger.Logger) *PoiImportWorker {
	return &PoiImportWorker{
		store: store,
		log:   logger.OrDefault(log, "PoiImportWorker"),
	}
}

// Process transforms raw and upserts it.
func (w *PoiImportWorker) Process(ctx context.Context, raw domain.RawRecord) (domain.ProcessOutcome, error) {
	poi := Transform(raw)

	res, err := w.store.Upsert(ctx, &poi)
	if err != nil {
		atomic.AddInt64(&w.failed, 1)
		return domain.ProcessOutcome{}, err
	}

	outcome := domain.ProcessOutcome{Status: domain.ClassifyUpsert(res), ExternalID: poi.ExternalID}
	switch outcome.Status {
	case domain.ProcessCreated:
		atomic.AddInt64(&w.created, 1)
		w.log.Info("CREATED new POI", "external_id", poi.ExternalID)
	case domain.ProcessUpdated:
		atomic.AddInt64(&w.updated, 1)
		w.log.Info("UPDATED existing POI", "external_id", poi.ExternalID)
	default:
		atomic.AddInt64(&w.unchanged, 1)
		w.log.Debug("NO CHANGE for POI", "external_id", poi.ExternalID)
	}
	return outcome, nil
}

// Handle is the queue.Handler for poi-import jobs.
func (w *PoiImportWorker) Handle(ctx context.Context, job *queue.Job) error {
	var raw domain.RawRecord
	if err := json.Unmarshal(job.Payload, &raw); err != nil {
		// Only this job fails; it is retried and then dead-lettered with
		// its payload intact.
		atomic.AddInt64(&w.failed, 1)
		log := w.log.With("job_id", job.ID, "attempt", job.Attempt)
		if id := domain.PeekExternalID(job.Payload); id != nil {
			log = log.With("external_id", *id)
		}
		log.Error("undecodable job payload", "error", err)
		return fmt.Errorf("decode payload: %w", err)
	}

	log := w.log.With("job_id", job.ID, "attempt", job.Attempt)
	if raw.ID != nil {
		log = log.With("external_id", *raw.ID)
	}
	log.Debug("processing job")

	if _, err := w.Process(ctx, raw); err != nil {
		log.Error("failed to process job", "error", err)
		return err
	}
	return nil
}

// Stats returns outcome counters since start.
func (w *PoiImportWorker) Stats() map[string]int64 {
	return map[string]int64{
		"created":   atomic.LoadInt64(&w.created),
		"updated":   atomic.LoadInt64(&w.updated),
		"no_change": atomic.LoadInt64(&w.unchanged),
		"failed":    atomic.LoadInt64(&w.failed),
	}
}
