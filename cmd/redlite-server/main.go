// Command redlite-server runs redlite as a standalone RESP server, wiring internal/config,
// internal/server, and optionally internal/admin over a pkg/redlite.DB. Modeled on the teacher's
// cmd/server main.go for the signal-driven graceful shutdown, and on its
// cmd/template-validator/cmd root-command shape for the cobra CLI itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redlite/redlite/internal/admin"
	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/logger"
	"github.com/redlite/redlite/internal/server"
	"github.com/redlite/redlite/pkg/redlite"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "redlite-server: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "redlite-server",
	Short: "Run redlite as a standalone RESP-compatible server",
	Long: `redlite-server opens a page store, wires every domain engine over it, and serves
RESP2/RESP3-subset connections until it receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a redlite config file (YAML/JSON/TOML)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Config(cfg.Log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := redlite.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open redlite: %w", err)
	}
	defer db.Close()

	srv := server.New(cfg.Server, db.Dispatcher(), db.Directory(), log)

	var adminSrv *admin.Server
	if cfg.Server.AdminAddr != "" {
		adminSrv = admin.New(cfg.Server.AdminAddr, db.Dispatcher(), db.Metrics(), log)
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				log.Error("admin server exited", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	log.Info("redlite-server started", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		log.Info("signal received, shutting down")
		cancel()
	}

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin server shutdown error", "error", err)
		}
	}

	return <-errCh
}
