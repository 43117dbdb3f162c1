package domain

import (
	"errors"
	"testing"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }

func TestClassifyUpsert(t *testing.T) {
	tests := []struct {
		name string
		in   UpsertResult
		want ProcessStatus
	}{
		{"inserted", UpsertResult{Created: true}, ProcessCreated},
		{"modified", UpsertResult{Modified: true}, ProcessUpdated},
		{"untouched", UpsertResult{}, ProcessNoChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyUpsert(tt.in); got != tt.want {
				t.Errorf("ClassifyUpsert(%+v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidatePoi(t *testing.T) {
	valid := func() *Poi {
		return &Poi{
			ExternalID:  12345,
			Address:     Address{Latitude: floatPtr(52.52), Longitude: floatPtr(13.405)},
			Connections: []Connection{},
		}
	}

	if err := ValidatePoi(valid()); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Poi)
		field  string
	}{
		{"missing external id", func(p *Poi) { p.ExternalID = 0 }, "externalId"},
		{"nil connections", func(p *Poi) { p.Connections = nil }, "connections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := ValidatePoi(p)
			if !IsValidationError(err) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			var verrs ValidationErrors
			errors.As(err, &verrs)
			if len(verrs) != 1 || verrs[0].Field != tt.field {
				t.Errorf("errors = %v, want one on %s", verrs, tt.field)
			}
		})
	}

	if !IsValidationError(ValidatePoi(nil)) {
		t.Error("nil record should fail validation")
	}

	odd := valid()
	odd.Address.Latitude = floatPtr(91.2)
	odd.Address.Longitude = floatPtr(-180.5)
	if err := ValidatePoi(odd); err != nil {
		t.Errorf("out-of-range coordinates must be accepted: %v", err)
	}
}

func TestPeekExternalID(t *testing.T) {
	tests := []struct {
		in   string
		want *int64
	}{
		{`{"ID":42,"Connections":[{"Quantity":2.5}]}`, int64Ptr(42)},
		{`{"ID":"42"}`, nil},
		{`{"AddressInfo":{}}`, nil},
		{`{"ID":null}`, nil},
		{`[1,2]`, nil},
		{`not json`, nil},
	}
	for _, tt := range tests {
		got := PeekExternalID([]byte(tt.in))
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("PeekExternalID(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	p := Poi{
		ID:         "a1b2",
		ExternalID: 7,
		Status:     strPtr("Operational"),
		Address:    Address{Title: strPtr("Depot"), Town: strPtr("Berlin"), Country: strPtr("Germany")},
	}
	s := p.Summary()
	if s.ID != "a1b2" || s.ExternalID != 7 || *s.Title != "Depot" || *s.Town != "Berlin" || *s.Country != "Germany" {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.StateOrProvince != nil {
		t.Errorf("StateOrProvince should stay nil")
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	fe := &FetchError{Region: "DE", Err: cause}
	if !errors.Is(fe, cause) {
		t.Error("FetchError should unwrap to its cause")
	}
	if fe.Error() != "failed to fetch POIs for country DE: connection refused" {
		t.Errorf("FetchError message = %q", fe.Error())
	}

	id := int64(99)
	be := &BrokerError{ExternalID: &id, Err: cause}
	if !errors.Is(be, cause) || be.Error() != "failed to enqueue POI ID 99: connection refused" {
		t.Errorf("BrokerError = %q", be.Error())
	}

	se := &StoreError{Op: "upsert", Err: cause}
	if !errors.Is(se, cause) {
		t.Error("StoreError should unwrap to its cause")
	}
}

func TestRawTitleOrNil(t *testing.T) {
	var missing *RawTitle
	if missing.TitleOrNil() != nil {
		t.Error("nil block should give nil title")
	}
	if got := (&RawTitle{Title: strPtr("AC")}).TitleOrNil(); got == nil || *got != "AC" {
		t.Errorf("TitleOrNil = %v", got)
	}
}
