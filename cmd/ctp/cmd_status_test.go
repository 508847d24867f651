package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestShowStatus_NoRunsYet(t *testing.T) {
	dir := t.TempDir()
	configPath = writeTestConfig(t, dir)
	statusRunLimit = 10
	defer func() { configPath = "" }()

	output := captureStdout(t, func() {
		if err := showStatus(&cobra.Command{}, nil); err != nil {
			t.Fatalf("showStatus: %v", err)
		}
	})

	if !strings.Contains(output, "no runs recorded yet") {
		t.Fatalf("expected no-runs message, got: %s", output)
	}
}
