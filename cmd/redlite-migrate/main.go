// Command redlite-migrate applies and reports on page-store schema migrations outside of opening
// a full pkg/redlite.DB, for deploy pipelines that want to run migrations as a separate step
// before the server starts. Modeled on the teacher's internal/infrastructure/migrations.CLI: a
// struct wrapping a manager, building its cobra command tree in GetRootCommand/AddCommand,
// trimmed to the two operations internal/storage/migrations.Manager actually exposes (Up,
// Version) instead of the teacher's full up/down/status/backup/restore set.
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/logger"
	"github.com/redlite/redlite/internal/storage/migrations"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "redlite-migrate: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "redlite-migrate",
		Short: "Apply and inspect redlite's page-store schema",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a redlite config file")
	root.AddCommand(upCommand(), versionCommand())
	return root
}

func upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := mgr.Up(cmd.Context()); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, db, err := openManager()
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := mgr.Version(cmd.Context())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("schema version: %d\n", version)
			return nil
		},
	}
}

// openManager opens a raw *sql.DB directly, bypassing internal/storage/sqlite and
// internal/storage/postgres on purpose: both of those auto-apply migrations as part of Open,
// which is exactly the step this command exists to run explicitly and report on by itself.
func openManager() (*migrations.Manager, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config(cfg.Log))

	var (
		db      *sql.DB
		dialect string
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err = sql.Open("pgx", cfg.Storage.PostgresDSN)
		dialect = "postgres"
	case config.BackendSQLite, "":
		db, err = sql.Open("sqlite", sqliteDSN(cfg.Storage.Path))
		dialect = "sqlite3"
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	mgr, err := migrations.NewManager(db, migrations.Config{Dialect: dialect, Logger: log})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build migration manager: %w", err)
	}
	return mgr, db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
}
