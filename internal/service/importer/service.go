package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/queue"
)

// EnqueuePolicy decides what a failed job submission does to the import.
type EnqueuePolicy string

const (
	// PolicySkip logs the failure and keeps submitting the remaining records.
	PolicySkip EnqueuePolicy = "skip"
	// PolicyAbort stops at the first failure and returns a *domain.BrokerError.
	PolicyAbort EnqueuePolicy = "abort"
)

// ParseEnqueuePolicy accepts "skip" or "abort" (case-insensitive). Empty means skip.
func ParseEnqueuePolicy(s string) (EnqueuePolicy, error) {
	switch EnqueuePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyAbort:
		return PolicyAbort, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Config holds importer settings.
type Config struct {
	Policy      EnqueuePolicy
	MaxAttempts int
}

// Service implements region imports. It is safe for concurrent use.
type Service struct {
	fetcher  Fetcher
	enqueuer Enqueuer
	policy   EnqueuePolicy
	opts     queue.EnqueueOptions
	log      *logger.Logger
}

// NewService creates an importer. Zero config values take the defaults
// (skip, 3 attempts).
func NewService(f Fetcher, q Enqueuer, cfg Config, log *logger.Logger) *Service {
	if cfg.Policy == "" {
		cfg.Policy = PolicySkip
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = queue.DefaultMaxAttempts
	}
	return &Service{
		fetcher:  f,
		enqueuer: q,
		policy:   cfg.Policy,
		opts:     queue.EnqueueOptions{MaxAttempts: cfg.MaxAttempts, DiscardOnSuccess: true},
		log:      logger.OrDefault(log, "Importer"),
	}
}

// ImportByRegion fetches region once and submits one job per record,
// sequentially. region is expected to be already normalised.
//
// Queued is the number of records submission was attempted for; Failed is
// how many of those submissions errored. A fetch failure returns the
// *domain.FetchError and nothing is queued.
func (s *Service) ImportByRegion(ctx context.Context, region string) (domain.ImportOutcome, error) {
	s.log.Info("starting import", "region", region)

	records, err := s.fetcher.Fetch(ctx, region)
	if err != nil {
		return domain.ImportOutcome{}, err
	}
	if len(records) == 0 {
		s.log.Warn("no POIs found, nothing to queue", "region", region)
		return domain.ImportOutcome{Status: domain.ImportNoData}, nil
	}

	s.log.Info("queueing POIs", "region", region, "count", len(records))

	out := domain.ImportOutcome{Status: domain.ImportSuccess}
	for _, raw := range records {
		out.Queued++
		if err := s.submit(ctx, raw); err != nil {
			out.Failed++
			if s.policy == PolicyAbort {
				s.log.Error("aborting import after enqueue failure", "region", region, "queued", out.Queued, "error", err)
				return out, err
			}
		}
	}

	s.log.Info("import submitted", "region", region, "queued", out.Queued, "failed", out.Failed)
	return out, nil
}

// submit enqueues one record's bytes as they came from the catalog. The
// worker decodes them, so a malformed record fails only its own job.
func (s *Service) submit(ctx context.Context, raw json.RawMessage) error {
	extID := domain.PeekExternalID(raw)

	jobID, err := s.enqueuer.Enqueue(ctx, raw, s.opts)
	if err != nil {
		berr := &domain.BrokerError{ExternalID: extID, Err: err}
		s.log.Error("failed to add POI to queue", "error", berr)
		return berr
	}

	if extID != nil {
		s.log.Debug("job added to queue", "job_id", jobID, "external_id", *extID)
	} else {
		s.log.Debug("job added to queue", "job_id", jobID)
	}
	return nil
}
