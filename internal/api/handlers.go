package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/httputil"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/service/poi"
)

// Importer starts a region import.
type Importer interface {
	ImportByRegion(ctx context.Context, region string) (domain.ImportOutcome, error)
}

// PoiReader serves the read side.
type PoiReader interface {
	List(ctx context.Context, f poi.ListFilter) (*poi.Page, error)
	GetByID(ctx context.Context, id string) (*domain.Poi, error)
	GetByExternalID(ctx context.Context, externalID int64) (*domain.Poi, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	importer Importer
	pois     PoiReader
	log      *logger.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(importer Importer, pois PoiReader, log *logger.Logger) *Handlers {
	return &Handlers{
		importer: importer,
		pois:     pois,
		log:      logger.OrDefault(log, "API"),
	}
}

// ImportResponse is the body of a successful import trigger.
type ImportResponse struct {
	Message string               `json:"message"`
	Data    domain.ImportOutcome `json:"data"`
}

// HandleImport fetches one region and queues its records.
//
//	GET /import/{countryCode}
//	GET /import?countryCode=XX
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "countryCode")
	if code == "" {
		code = r.URL.Query().Get("countryCode")
	}
	region, err := poi.NormalizeRegionCode(code)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	out, err := h.importer.ImportByRegion(r.Context(), region)
	if err != nil {
		respondError(w, err)
		return
	}

	h.log.Info("import triggered", "region", region, "status", out.Status, "queued", out.Queued)
	httputil.OK(w, ImportResponse{
		Message: fmt.Sprintf("Import process started for %s. See logs for details.", region),
		Data:    out,
	})
}

// ListPois returns one page of stored records.
//
//	GET /pois?limit=20&skip=0
func (h *Handlers) ListPois(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := h.pois.List(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, page)
}

// GetPoiByID returns one record by internal id.
//
//	GET /pois/id/{id}
func (h *Handlers) GetPoiByID(w http.ResponseWriter, r *http.Request) {
	p, err := h.pois.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, p)
}

// GetPoiByExternalID returns one record by catalog id.
//
//	GET /pois/ocm/{externalId}
func (h *Handlers) GetPoiByExternalID(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "externalId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("externalId must be an integer, got %q", raw))
		return
	}
	p, err := h.pois.GetByExternalID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, p)
}
