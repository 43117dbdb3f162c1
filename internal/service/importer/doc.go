// Package importer implements region imports: fetch every catalog record
// for a country and submit one queue job per record.
//
// The service depends on the Fetcher and Enqueuer interfaces in
// interfaces.go. It never talks HTTP or Redis directly, and it returns as
// soon as submission is done; per-record results show up in the queue.
package importer
