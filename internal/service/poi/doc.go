// Package poi implements the read side over stored charging-station
// records: paginated listing and lookups by internal or external id.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package poi
