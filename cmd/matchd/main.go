// Package main implements the matchd CLI: batch resolution runs, the HTTP
// API server, and the Temporal worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML configuration file.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "matchd",
	Short: "Transaction record to brand matching engine",
	Long: `matchd resolves candidate brands against transaction records: it drives
each candidate through evaluation, pattern generation, and confirmation
scoring, escalating to human review when refinement stalls.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
