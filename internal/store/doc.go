// Package store keeps the step trace of a harness run in SQLite.
//
// Every executed step (navigation, injection, interaction) is appended as
// one row. The harness opens the store with ":memory:" so each run starts
// empty and nothing outlives the process.
//
// # Ordering
//
// Rows are read back ORDER BY seq ASC. Wall-clock durations are recorded
// for diagnostics only and never used for ordering.
//
// # Connection
//
// An in-memory SQLite database exists per connection, so the pool is
// pinned to a single connection.
package store
