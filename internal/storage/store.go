// Package storage defines the Page Store Adapter contract (spec §4.A): a thin abstraction
// over an embedded relational engine that gives the rest of redlite transaction scopes without
// caring whether the backing engine is SQLite or Postgres.
package storage

import (
	"context"
	"database/sql"
)

// Tx is a single page-store transaction. All multi-row invariants (deleting a key plus its
// per-type rows, PEL entries, and history) must run inside one Tx.
type Tx interface {
	// Exec and Query mirror database/sql's *sql.Tx, with placeholders rewritten per-backend.
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// StoreStats reports page-store level sizing for MEMORY STATS / eviction decisions.
type StoreStats struct {
	FileSizeBytes int64
	PageCount     int64
	PageSizeBytes int64
	CacheHits     int64
	CacheMisses   int64
}

// PageStore is implemented by internal/storage/sqlite and internal/storage/postgres.
type PageStore interface {
	// WithTx runs fn inside a read-write transaction, committing on success and rolling back on
	// error or panic.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// WithROTx runs fn inside a read-only transaction where the backend supports one; on
	// backends without a true read-only mode this is a regular transaction that the caller
	// promises not to mutate.
	WithROTx(ctx context.Context, fn func(Tx) error) error

	// Stats reports current page-store sizing.
	Stats(ctx context.Context) (StoreStats, error)

	// Vacuum compacts the underlying store (spec §4.E "Explicit VACUUM"): `VACUUM` on both
	// SQLite and Postgres.
	Vacuum(ctx context.Context) error

	// Close releases all resources held by the store. Idempotent.
	Close() error
}
