package poi

import (
	"context"

	"github.com/ignite/poi-importer/internal/domain"
)

// ListFilter holds pagination for List.
type ListFilter struct {
	Limit int
	Skip  int
}

// Repository defines the read primitives the store exposes.
// Lookups return domain.ErrNotFound when nothing matches.
type Repository interface {
	List(ctx context.Context, f ListFilter) ([]domain.PoiSummary, int64, error)
	GetByID(ctx context.Context, id string) (*domain.Poi, error)
	GetByExternalID(ctx context.Context, externalID int64) (*domain.Poi, error)
}
