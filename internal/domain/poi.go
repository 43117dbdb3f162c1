package domain

import "time"

// Poi is the canonical, persisted charging-station record. ExternalID is the
// natural key for upserts; ID is generated by the store on first insert and
// never changes afterwards.
type Poi struct {
	ID                   string       `json:"id" bson:"_id"`
	ExternalID           int64        `json:"externalId" bson:"externalId"`
	Status               *string      `json:"status" bson:"status"`
	DateLastStatusUpdate *time.Time   `json:"dateLastStatusUpdate" bson:"dateLastStatusUpdate"`
	Address              Address      `json:"address" bson:"address"`
	Connections          []Connection `json:"connections" bson:"connections"`
	CreatedAt            time.Time    `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	UpdatedAt            time.Time    `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
}

// Address is the flattened AddressInfo block. Every field is optional.
type Address struct {
	Title           *string  `json:"title" bson:"title"`
	AddressLine1    *string  `json:"addressLine1" bson:"addressLine1"`
	Town            *string  `json:"town" bson:"town"`
	StateOrProvince *string  `json:"stateOrProvince" bson:"stateOrProvince"`
	Postcode        *string  `json:"postcode" bson:"postcode"`
	Country         *string  `json:"country" bson:"country"`
	Latitude        *float64 `json:"latitude" bson:"latitude"`
	Longitude       *float64 `json:"longitude" bson:"longitude"`
}

// Connection is one connector group at the station.
type Connection struct {
	ConnectionType *string  `json:"connectionType" bson:"connectionType"`
	PowerKW        *float64 `json:"powerKW" bson:"powerKW"`
	CurrentType    *string  `json:"currentType" bson:"currentType"`
	Quantity       *int     `json:"quantity" bson:"quantity"`
}

// PoiSummary is the projection returned by paginated listings.
type PoiSummary struct {
	ID              string  `json:"id" bson:"_id"`
	ExternalID      int64   `json:"externalId" bson:"externalId"`
	Status          *string `json:"status" bson:"status"`
	Title           *string `json:"title" bson:"title"`
	Town            *string `json:"town" bson:"town"`
	StateOrProvince *string `json:"stateOrProvince" bson:"stateOrProvince"`
	Country         *string `json:"country" bson:"country"`
}

// UpsertResult reports what a single-key upsert did to the stored record.
// Created and Modified are never both true.
type UpsertResult struct {
	Created  bool
	Modified bool
}

// Summary projects a full record down to the listing fields.
func (p Poi) Summary() PoiSummary {
	return PoiSummary{
		ID:              p.ID,
		ExternalID:      p.ExternalID,
		Status:          p.Status,
		Title:           p.Address.Title,
		Town:            p.Address.Town,
		StateOrProvince: p.Address.StateOrProvince,
		Country:         p.Address.Country,
	}
}
