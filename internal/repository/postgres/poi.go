package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/service/poi"
)

// PoiRepo implements the POI store against PostgreSQL. Address and
// connections are stored as JSONB.
type PoiRepo struct{ db *sql.DB }

// NewPoiRepo creates a Postgres-backed POI repository.
func NewPoiRepo(db *sql.DB) *PoiRepo { return &PoiRepo{db: db} }

// The WHERE clause turns an identical re-import into a no-op, so no row is
// returned and updated_at is left alone. xmax = 0 only for a fresh insert.
const upsertPoiSQL = `
	INSERT INTO pois (id, external_id, status, date_last_status_update, address, connections, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	ON CONFLICT (external_id) DO UPDATE SET
		status = EXCLUDED.status,
		date_last_status_update = EXCLUDED.date_last_status_update,
		address = EXCLUDED.address,
		connections = EXCLUDED.connections,
		updated_at = NOW()
	WHERE (pois.status, pois.date_last_status_update, pois.address, pois.connections)
		IS DISTINCT FROM
		(EXCLUDED.status, EXCLUDED.date_last_status_update, EXCLUDED.address, EXCLUDED.connections)
	RETURNING id, (xmax = 0) AS inserted, created_at, updated_at
`

// Upsert creates or overwrites the record keyed by p.ExternalID.
// On create or update p.ID and the timestamps are filled in.
func (r *PoiRepo) Upsert(ctx context.Context, p *domain.Poi) (domain.UpsertResult, error) {
	if err := domain.ValidatePoi(p); err != nil {
		return domain.UpsertResult{}, err
	}

	address, err := json.Marshal(p.Address)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("marshal address: %w", err)
	}
	connections, err := json.Marshal(p.Connections)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("marshal connections: %w", err)
	}

	var (
		id                   string
		inserted             bool
		createdAt, updatedAt time.Time
	)
	err = r.db.QueryRowContext(ctx, upsertPoiSQL,
		uuid.New().String(), p.ExternalID, p.Status, p.DateLastStatusUpdate, string(address), string(connections),
	).Scan(&id, &inserted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UpsertResult{}, nil
	}
	if err != nil {
		return domain.UpsertResult{}, &domain.StoreError{Op: "upsert", Err: err}
	}

	p.ID, p.CreatedAt, p.UpdatedAt = id, createdAt, updatedAt
	return domain.UpsertResult{Created: inserted, Modified: !inserted}, nil
}

const selectPoiSQL = `
	SELECT id, external_id, status, date_last_status_update, address, connections, created_at, updated_at
	FROM pois
`

func (r *PoiRepo) GetByID(ctx context.Context, id string) (*domain.Poi, error) {
	return r.getOne(ctx, selectPoiSQL+` WHERE id = $1`, id)
}

func (r *PoiRepo) GetByExternalID(ctx context.Context, externalID int64) (*domain.Poi, error) {
	return r.getOne(ctx, selectPoiSQL+` WHERE external_id = $1`, externalID)
}

func (r *PoiRepo) getOne(ctx context.Context, query string, arg interface{}) (*domain.Poi, error) {
	var (
		p                    domain.Poi
		address, connections []byte
		statusUpdate         sql.NullTime
		status               sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.ExternalID, &status, &statusUpdate, &address, &connections, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "get", Err: err}
	}

	if status.Valid {
		p.Status = &status.String
	}
	if statusUpdate.Valid {
		t := statusUpdate.Time.UTC()
		p.DateLastStatusUpdate = &t
	}
	if err := json.Unmarshal(address, &p.Address); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if err := json.Unmarshal(connections, &p.Connections); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	if p.Connections == nil {
		p.Connections = []domain.Connection{}
	}
	return &p, nil
}

func (r *PoiRepo) List(ctx context.Context, f poi.ListFilter) ([]domain.PoiSummary, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pois`).Scan(&total); err != nil {
		return nil, 0, &domain.StoreError{Op: "count", Err: err}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, external_id, status,
		       address->>'title', address->>'town', address->>'stateOrProvince', address->>'country'
		FROM pois
		ORDER BY external_id
		LIMIT $1 OFFSET $2
	`, f.Limit, f.Skip)
	if err != nil {
		return nil, 0, &domain.StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	out := []domain.PoiSummary{}
	for rows.Next() {
		var (
			s                                   domain.PoiSummary
			status, title, town, state, country sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.ExternalID, &status, &title, &town, &state, &country); err != nil {
			return nil, 0, &domain.StoreError{Op: "list", Err: err}
		}
		s.Status = nullString(status)
		s.Title = nullString(title)
		s.Town = nullString(town)
		s.StateOrProvince = nullString(state)
		s.Country = nullString(country)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &domain.StoreError{Op: "list", Err: err}
	}
	return out, total, nil
}

// Ping checks database connectivity.
func (r *PoiRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
