// Package domain defines the core types of the POI import pipeline.
//
// Types in this package are pure value objects with no behavior, no database
// dependencies, and no HTTP concerns. They are the shared language between
// the catalog client, the queue, the worker, the stores and the API.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/BSON tags are allowed (they're metadata, not behavior)
//   - Validation functions are allowed (they're pure functions on the type)
//   - Constants, enums and the error taxonomy belong here
package domain
