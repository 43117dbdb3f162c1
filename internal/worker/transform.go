package worker

import (
	"time"

	"github.com/ignite/poi-importer/internal/domain"
)

// dateLayouts are tried in order; the catalog omits the zone on older records.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05"}

// Transform maps a catalog record onto the canonical shape. Missing blocks
// and fields become nil; a missing connection list becomes an empty one.
// ID, CreatedAt and UpdatedAt are left for the store to fill.
func Transform(raw domain.RawRecord) domain.Poi {
	p := domain.Poi{
		Status:               raw.StatusType.TitleOrNil(),
		DateLastStatusUpdate: parseDate(raw.DateLastStatusUpdate),
		Connections:          make([]domain.Connection, 0, len(raw.Connections)),
	}
	if raw.ID != nil {
		p.ExternalID = *raw.ID
	}

	if a := raw.AddressInfo; a != nil {
		p.Address = domain.Address{
			Title:           a.Title,
			AddressLine1:    a.AddressLine1,
			Town:            a.Town,
			StateOrProvince: a.StateOrProvince,
			Postcode:        a.Postcode,
			Country:         a.Country.TitleOrNil(),
			Latitude:        a.Latitude,
			Longitude:       a.Longitude,
		}
	}

	for _, c := range raw.Connections {
		p.Connections = append(p.Connections, domain.Connection{
			ConnectionType: c.ConnectionType.TitleOrNil(),
			PowerKW:        c.PowerKW,
			CurrentType:    c.CurrentType.TitleOrNil(),
			Quantity:       c.Quantity,
		})
	}
	return p
}

func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
