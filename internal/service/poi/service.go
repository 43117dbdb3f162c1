package poi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/poi-importer/internal/domain"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is one page of List results.
type Page struct {
	Data  []domain.PoiSummary `json:"data"`
	Total int64               `json:"total"`
	Limit int                 `json:"limit"`
	Skip  int                 `json:"skip"`
}

// Service implements the read side. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a poi service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns a page of summaries ordered by external id. A zero Limit
// means DefaultLimit.
func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	var errs domain.ValidationErrors
	if f.Limit < 1 || f.Limit > MaxLimit {
		errs = append(errs, domain.ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)})
	}
	if f.Skip < 0 {
		errs = append(errs, domain.ValidationError{Field: "skip", Message: "must not be negative"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	data, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []domain.PoiSummary{}
	}
	return &Page{Data: data, Total: total, Limit: f.Limit, Skip: f.Skip}, nil
}

// GetByID looks a record up by its internal UUID.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.Poi, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return s.repo.GetByID(ctx, id)
}

// GetByExternalID looks a record up by its catalog id.
func (s *Service) GetByExternalID(ctx context.Context, externalID int64) (*domain.Poi, error) {
	if externalID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, externalID)
	}
	return s.repo.GetByExternalID(ctx, externalID)
}

// NormalizeRegionCode trims and upper-cases code and requires exactly two
// ASCII letters.
func NormalizeRegionCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", ErrInvalidRegion
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return "", ErrInvalidRegion
		}
	}
	return code, nil
}
