package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/model"
)

var (
	candidatesPath string
	categoriesPath string
)

// runCmd executes one batch in-process and prints the summary.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one resolution batch",
	Long: `Run one resolution batch over a JSON file of candidates, printing the
batch summary as JSON.

Examples:
  # Resolve candidates with category metadata
  matchd run --candidates candidates.json --categories categories.json

  # With a configuration file
  matchd run --config matchd.yaml --candidates candidates.json`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVar(&candidatesPath, "candidates", "", "path to JSON file of candidates (required)")
	runCmd.Flags().StringVar(&categoriesPath, "categories", "", "path to JSON file of category metadata")
	_ = runCmd.MarkFlagRequired("candidates")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	candidates, err := readCandidates(candidatesPath)
	if err != nil {
		return err
	}
	categories, err := readCategories(categoriesPath)
	if err != nil {
		return err
	}

	d.logger.Info(ctx, "batch run starting",
		zap.Int("candidates", len(candidates)),
		zap.Int("categories", len(categories)),
	)

	coord := engine.NewCoordinator(d.cfg, d.agents, d.store, d.store, d.escalator, d.logger)
	summary, err := coord.ProcessBatch(ctx, candidates, categories)
	if err != nil {
		return fmt.Errorf("batch execution: %w", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func readCandidates(path string) ([]model.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading candidates: %w", err)
	}
	var candidates []model.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("parsing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("candidates file %s is empty", path)
	}
	return candidates, nil
}

func readCategories(path string) (map[int]model.CategoryInfo, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading categories: %w", err)
	}
	var list []model.CategoryInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing categories: %w", err)
	}
	categories := make(map[int]model.CategoryInfo, len(list))
	for _, ci := range list {
		categories[ci.Code] = ci
	}
	return categories, nil
}
