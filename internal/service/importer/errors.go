package importer

import "errors"

// Sentinel errors for the importer service layer.
var (
	ErrUnknownPolicy = errors.New("unknown enqueue policy")
)
