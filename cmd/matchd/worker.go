package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/workflows"
)

// workerCmd runs the Temporal worker hosting the resolution workflows.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker",
	Long: `Run the Temporal worker that executes candidate and batch resolution
workflows. Requires a reachable Temporal server.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	d.logger.Info(ctx, "worker starting",
		zap.String("temporal_host", d.cfg.Temporal.HostPort),
		zap.String("task_queue", d.cfg.Temporal.TaskQueue),
	)

	c, err := client.Dial(client.Options{
		HostPort: d.cfg.Temporal.HostPort,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	w := worker.New(c, d.cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.CandidateResolutionWorkflow)
	w.RegisterWorkflow(workflows.BatchResolutionWorkflow)
	w.RegisterActivity(workflows.NewActivities(d.agents, d.store, d.store, d.escalator, d.logger))

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		d.logger.Info(ctx, "shutdown signal received")
	}

	d.logger.Info(ctx, "worker stopped gracefully")
	return nil
}
