// Package postgres implements storage.PageStore against a shared Postgres instance, for
// redlite's "Standard" deployment profile (one Postgres database backing one redlite process;
// spec.md's clustering non-goal rules out more than that). Modeled on the teacher's
// internal/database/postgres pool, but driven through pgx's database/sql adapter
// (jackc/pgx/v5/stdlib) so it can implement the exact same storage.Tx contract as the SQLite
// adapter — the rest of redlite never needs to know which backend it's talking to.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/migrations"
)

// Store is a storage.PageStore backed by Postgres.
type Store struct {
	db *sql.DB
}

// Config configures the connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and applies schema migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	mgr, err := migrations.NewManager(db, migrations.Config{Dialect: "postgres"})
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := mgr.Up(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// WithTx implements storage.PageStore.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	return s.runTx(ctx, fn)
}

// WithROTx implements storage.PageStore with a Postgres READ ONLY transaction.
func (s *Store) WithROTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("postgres: begin ro tx: %w", err)
	}
	return finishTx(tx, fn)
}

func (s *Store) runTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	return finishTx(tx, fn)
}

func finishTx(tx *sql.Tx, fn func(storage.Tx) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(wrapTx{tx})
	return err
}

// Stats implements storage.PageStore.
func (s *Store) Stats(ctx context.Context) (storage.StoreStats, error) {
	var sizeBytes int64
	err := s.db.QueryRowContext(ctx, "SELECT pg_database_size(current_database())").Scan(&sizeBytes)
	if err != nil {
		return storage.StoreStats{}, err
	}
	return storage.StoreStats{FileSizeBytes: sizeBytes}, nil
}

// Vacuum implements storage.PageStore. Postgres's VACUUM cannot run inside a transaction block,
// so this issues it directly on the pool connection.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close implements storage.PageStore.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type wrapTx struct{ tx *sql.Tx }

func (w wrapTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return w.tx.ExecContext(ctx, query, args...)
}

func (w wrapTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return w.tx.QueryContext(ctx, query, args...)
}

func (w wrapTx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return w.tx.QueryRowContext(ctx, query, args...)
}
