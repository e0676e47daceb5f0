// Package sqlite implements storage.PageStore on top of modernc.org/sqlite, a pure-Go,
// CGO-free SQLite driver. This is the Page Store Adapter for redlite's embedded/Lite profile
// (spec §4.A), modeled on the teacher's internal/storage/sqlite/sqlite_storage.go: WAL
// journaling, a bounded page cache, and one *sql.DB shared by all transactions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/redlite/redlite/internal/storage"
	"github.com/redlite/redlite/internal/storage/migrations"
)

// Store is a storage.PageStore backed by a single SQLite database file (or :memory:).
type Store struct {
	db   *sql.DB
	path string

	// writeMu serializes writers: SQLite allows only one writer at a time even under WAL, and
	// serializing here turns "database is locked" errors into orderly queuing instead.
	writeMu sync.Mutex
}

// Open creates or opens a SQLite-backed page store at path (or ":memory:") with the given
// page-cache size (in pages), enables WAL journaling, and applies schema migrations.
func Open(ctx context.Context, path string, cachePages int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}

	memory := path == ":memory:"
	if !memory {
		if strings.Contains(path, "..") {
			return nil, fmt.Errorf("sqlite: path must not contain '..': %s", path)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("sqlite: creating directory %s: %w", dir, err)
			}
		}
	}

	dsn := path
	if !memory {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	} else {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if memory {
		// A shared in-memory database only survives as long as at least one connection is
		// open; a single connection also sidesteps "database is locked" noise entirely.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if cachePages == 0 {
		cachePages = 2000
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size = %d", cachePages)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: setting cache_size: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: setting synchronous: %w", err)
	}

	mgr, err := migrations.NewManager(db, migrations.Config{Dialect: "sqlite3"})
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := mgr.Up(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if !memory {
		_ = os.Chmod(path, 0600)
	}

	return &Store{db: db, path: path}, nil
}

// WithTx implements storage.PageStore.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.runTx(ctx, fn)
}

// WithROTx implements storage.PageStore. SQLite under WAL lets readers proceed concurrently
// with the single writer, so read-only transactions skip the writer mutex entirely.
func (s *Store) WithROTx(ctx context.Context, fn func(storage.Tx) error) error {
	return s.runTx(ctx, fn)
}

func (s *Store) runTx(ctx context.Context, fn func(storage.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}

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
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return storage.StoreStats{}, err
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return storage.StoreStats{}, err
	}

	stats := storage.StoreStats{PageCount: pageCount, PageSizeBytes: pageSize}
	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			stats.FileSizeBytes = info.Size()
		}
	} else {
		stats.FileSizeBytes = pageCount * pageSize
	}
	return stats, nil
}

// Vacuum reclaims free pages left by deleted rows, returning nothing on success.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close implements storage.PageStore. Idempotent.
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
