package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/ctp/cognitive-triangulation-pipeline/internal/config"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/pipeline"
)

var resetYes bool

// resetCmd removes the relational and graph store files for a fresh start.
// Destructive; requires --yes to actually delete rather than just list what
// would be removed.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the local store and graph database files",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Actually delete the files (otherwise only lists them)")
}

func runReset(cmd *cobra.Command, args []string) error {
	appCfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	target, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	cfg := pipeline.FromAppConfig(target, appCfg)

	paths := []string{cfg.StorePath, cfg.GraphDBPath}
	if !resetYes {
		fmt.Println("would remove (pass --yes to delete):")
		for _, p := range paths {
			fmt.Println("  " + p)
		}
		return nil
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		fmt.Println("removed " + p)
	}
	return nil
}
