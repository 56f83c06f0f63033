// Package store provides the dispatch ledger: a durable record of every
// send attempt, delivered or failed.
//
// # Drivers
//
// SQLLedger runs on database/sql with one of two drivers:
//
//   - sqlite (modernc.org/sqlite, pure Go): database.path is a file path or ":memory:"
//   - postgres (github.com/lib/pq): database.dsn is a libpq connection string
//
// Timestamps are stored as fixed-width UTC text so ordering by created_at is
// correct on both drivers.
//
// # Relationship to the dedupe cache
//
// The ledger is write-mostly and is never read back into the in-memory
// dedupe cache. A restart always starts with an empty cache.
package store
