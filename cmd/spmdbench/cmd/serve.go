package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spmdbench/spmdbench/internal/api"
	"github.com/spmdbench/spmdbench/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored results over HTTP",
		Long: `Start the results API. Stored runs are available under /api/v1/runs,
health under /health and /ready, and Prometheus metrics under /metrics.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	c.Flags().String("host", "", "Listen host")
	c.Flags().Int("port", 0, "Listen port")
	c.Flags().String("database", "", "SQLite database for results")
	return c
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("starting spmdbench results server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("database", cfg.Database.Path))

	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	server := api.New(storage.NewRunStore(db),
		api.WithLogger(logger),
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	server.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	server.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
