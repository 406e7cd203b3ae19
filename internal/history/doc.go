// Package history records the outcome of every task the qrate command runs.
//
// Only outcomes are stored, never pending work, so nothing is replayed after
// a restart. Drivers:
//   - "file": JSON Lines, compacted to the newest Keep records
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package history
