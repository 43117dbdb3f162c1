package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/httputil"
	"github.com/ignite/poi-importer/internal/service/poi"
)

// =============================================================================
// ERROR SANITIZER
// Maps service errors onto HTTP statuses. Client errors keep their message;
// upstream, broker and store failures are logged server-side and the client
// only gets a generic message. Catalog URLs carry the API key, so the fetch
// error text never reaches a response body.
// =============================================================================

func respondError(w http.ResponseWriter, err error) {
	var (
		verrs     domain.ValidationErrors
		fetchErr  *domain.FetchError
		brokerErr *domain.BrokerError
	)

	switch {
	case errors.As(err, &verrs):
		httputil.ErrorWithDetails(w, http.StatusBadRequest, "validation failed", "validation_error", verrs)
	case errors.Is(err, poi.ErrInvalidRegion), errors.Is(err, poi.ErrInvalidID):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.NotFound(w, "POI not found")
	case errors.As(err, &fetchErr):
		httputil.BadGateway(w, "failed to fetch POIs for country "+fetchErr.Region, err)
	case errors.As(err, &brokerErr):
		httputil.ServiceUnavailable(w, "job queue unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		httputil.Error(w, http.StatusGatewayTimeout, "request timed out")
	default:
		httputil.InternalError(w, err)
	}
}
