package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/httpapi"
)

// serveCmd runs the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the matchd HTTP API: workflow status, decision audit trails,
batch execution, and Prometheus metrics.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	coord := engine.NewCoordinator(d.cfg, d.agents, d.store, d.store, d.escalator, d.logger)
	server, err := httpapi.NewServer(coord, d.store, d.logger, d.cfg.Server)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		d.logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error(shutdownCtx, "shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
