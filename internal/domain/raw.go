package domain

import "encoding/json"

// RawRecord is one point of interest exactly as the external catalog returns it
// (compact representation). Every nested block may be absent.
type RawRecord struct {
	ID                   *int64          `json:"ID,omitempty"`
	StatusType           *RawTitle       `json:"StatusType,omitempty"`
	DateLastStatusUpdate *string         `json:"DateLastStatusUpdate,omitempty"`
	AddressInfo          *RawAddress     `json:"AddressInfo,omitempty"`
	Connections          []RawConnection `json:"Connections,omitempty"`
}

// RawTitle is the catalog's reference-data shape ({"Title": "..."}).
type RawTitle struct {
	Title *string `json:"Title,omitempty"`
}

// RawAddress is the catalog's AddressInfo block.
type RawAddress struct {
	Title           *string   `json:"Title,omitempty"`
	AddressLine1    *string   `json:"AddressLine1,omitempty"`
	Town            *string   `json:"Town,omitempty"`
	StateOrProvince *string   `json:"StateOrProvince,omitempty"`
	Postcode        *string   `json:"Postcode,omitempty"`
	Country         *RawTitle `json:"Country,omitempty"`
	Latitude        *float64  `json:"Latitude,omitempty"`
	Longitude       *float64  `json:"Longitude,omitempty"`
}

// RawConnection is one entry of the catalog's Connections list.
type RawConnection struct {
	ConnectionType *RawTitle `json:"ConnectionType,omitempty"`
	PowerKW        *float64  `json:"PowerKW,omitempty"`
	CurrentType    *RawTitle `json:"CurrentType,omitempty"`
	Quantity       *int      `json:"Quantity,omitempty"`
}

// TitleOrNil returns the title, or nil when the block itself is absent.
func (t *RawTitle) TitleOrNil() *string {
	if t == nil {
		return nil
	}
	return t.Title
}

// PeekExternalID reads the catalog id from an undecoded record. It returns
// nil when the element is not an object or its ID is absent or not an
// integer; the rest of the element is never looked at.
func PeekExternalID(raw []byte) *int64 {
	var head struct {
		ID json.RawMessage `json:"ID"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || len(head.ID) == 0 || string(head.ID) == "null" {
		return nil
	}
	var id int64
	if err := json.Unmarshal(head.ID, &id); err != nil {
		return nil
	}
	return &id
}
