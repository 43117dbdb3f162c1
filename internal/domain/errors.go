package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by read primitives when no record matches.
var ErrNotFound = errors.New("poi not found")

// FetchError means the external catalog could not be read for a region:
// unreachable, timed out, or a non-success status.
type FetchError struct {
	Region string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch POIs for country %s: %v", e.Region, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BrokerError means a job could not be submitted to the queue.
type BrokerError struct {
	ExternalID *int64
	Err        error
}

func (e *BrokerError) Error() string {
	if e.ExternalID == nil {
		return fmt.Sprintf("failed to enqueue POI without ID: %v", e.Err)
	}
	return fmt.Sprintf("failed to enqueue POI ID %d: %v", *e.ExternalID, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure for the given operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Message }

// ValidationErrors is the typed list returned by ValidatePoi.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// IsValidationError reports whether err carries ValidationErrors.
func IsValidationError(err error) bool {
	var v ValidationErrors
	return errors.As(err, &v)
}
