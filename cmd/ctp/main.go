// Package main implements the ctp CLI - the cognitive triangulation
// pipeline's entry point.
//
// This file is the entry point and command registration hub; individual
// command implementations live in cmd_*.go files.
//
// # File Index
//
//   - main.go      - entry point, rootCmd, global flags, init()
//   - cmd_run.go   - runCmd, runPipeline()
//   - cmd_status.go - statusCmd, showStatus()
//   - cmd_reset.go  - resetCmd, runReset()
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "ctp",
	Short: "ctp - the cognitive triangulation pipeline",
	Long: `ctp extracts points of interest and relationships from a codebase,
scores their confidence, triangulates the ones it isn't sure about with a
sub-agent panel, validates the survivors, and loads the result into a
property graph.

Run "ctp run" to analyze a target directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.Init(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (development) logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults applied if unset)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Target root to analyze (default: current directory)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 25*time.Minute, "Overall run timeout")

	rootCmd.AddCommand(runCmd, statusCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the absolute target root, defaulting to the
// current working directory when --workspace is unset.
func resolveWorkspace() (string, error) {
	if workspace == "" {
		return os.Getwd()
	}
	return filepath.Abs(workspace)
}
