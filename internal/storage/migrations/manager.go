// Package migrations owns the on-disk schema (spec §4.B, §6.2): goose-driven SQL migrations
// plus a schema-version row in the meta table. Modeled on the teacher's
// internal/infrastructure/migrations/manager.go, trimmed to what one embedded store needs.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationFS embed.FS

// dialectDir maps a goose dialect name to its embedded migration subdirectory.
var dialectDir = map[string]string{
	"sqlite3":  "sql/sqlite",
	"postgres": "sql/postgres",
}

// Manager runs and reports on schema migrations for a single *sql.DB.
type Manager struct {
	db      *sql.DB
	dialect string
	dir     string
	logger  *slog.Logger
	timeout time.Duration
}

// Config configures a Manager.
type Config struct {
	Dialect string // "sqlite3" or "postgres"
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewManager builds a Manager bound to db.
func NewManager(db *sql.DB, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	dir, ok := dialectDir[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("migrations: unsupported dialect %s", cfg.Dialect)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(cfg.Dialect); err != nil {
		return nil, fmt.Errorf("setting goose dialect %s: %w", cfg.Dialect, err)
	}

	return &Manager{db: db, dialect: cfg.Dialect, dir: dir, logger: cfg.Logger, timeout: cfg.Timeout}, nil
}

// Up applies all pending migrations. Downgrade is not supported, matching spec §6.2.
func (m *Manager) Up(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return fmt.Errorf("reading schema version after migrate: %w", err)
	}

	m.logger.Info("schema migrated", "version", version, "dialect", m.dialect)
	return nil
}

// Version reports the currently applied schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersion(m.db)
}
