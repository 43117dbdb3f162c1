package poi

import "errors"

// Sentinel errors for the poi service layer.
var (
	ErrInvalidRegion = errors.New("country code must be exactly 2 letters")
	ErrInvalidID     = errors.New("invalid id")
)
