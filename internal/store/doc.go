// Package store defines the run repository used to persist run headers and
// per-unit outcomes. Implementations live in internal/storage/postgres and
// internal/storage/sqlite; this package must not import database drivers.
package store
