package domain

// ValidatePoi checks the invariants a record must satisfy before it is written.
// It returns nil when the record is valid. Coordinates are stored as the
// catalog reports them, in or out of range.
func ValidatePoi(p *Poi) error {
	var errs ValidationErrors

	if p == nil {
		return ValidationErrors{{Field: "poi", Message: "is required"}}
	}
	if p.ExternalID <= 0 {
		errs = append(errs, ValidationError{Field: "externalId", Message: "is required"})
	}
	if p.Connections == nil {
		errs = append(errs, ValidationError{Field: "connections", Message: "must not be null"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
