package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	appconfig "github.com/ctp/cognitive-triangulation-pipeline/internal/config"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

var statusRunLimit int

// statusCmd reports recent runs and the most recent run's relationship
// status breakdown.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and the latest run's relationship counts",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRunLimit, "limit", 10, "Number of recent runs to list")
}

func showStatus(cmd *cobra.Command, args []string) error {
	appCfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(appCfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	runs, err := s.ListRuns(ctx, statusRunLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	for _, run := range runs {
		sealed := "in progress"
		if run.SealedAt != nil {
			sealed = run.SealedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		fmt.Printf("%s  %-40s  sealed: %s\n", run.ID, run.TargetRoot, sealed)
	}

	latest := runs[0]
	fmt.Printf("\nrelationship counts for %s:\n", latest.ID)
	for _, status := range []model.RelationshipStatus{
		model.StatusPending, model.StatusValidated, model.StatusDiscarded, model.StatusFailed,
	} {
		rels, err := s.ListByStatus(ctx, latest.ID, status)
		if err != nil {
			return fmt.Errorf("list %s relationships: %w", status, err)
		}
		fmt.Printf("  %-10s %d\n", status, len(rels))
	}
	return nil
}
