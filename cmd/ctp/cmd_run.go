package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	appconfig "github.com/ctp/cognitive-triangulation-pipeline/internal/config"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/pipeline"
)

// runCmd executes one end-to-end analysis pass over the target workspace.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze the target workspace and build its relationship graph",
	RunE:  runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	log := logging.For(logging.ComponentPipeline).Sugar()

	target, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	appCfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg := pipeline.FromAppConfig(target, appCfg)

	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("construct pipeline: %w", err)
	}
	defer func() {
		if cerr := p.Close(context.Background()); cerr != nil {
			log.Errorw("pipeline close", "error", cerr)
		}
	}()

	baseCtx := cmd.Context()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(baseCtx, timeout)
	defer cancel()

	run, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	status := "running"
	if run.SealedAt != nil {
		status = "sealed at " + run.SealedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	fmt.Printf("run %s complete (%s)\n", run.ID, status)
	log.Infow("run complete", "run_id", run.ID, "target_root", run.TargetRoot)
	return nil
}
