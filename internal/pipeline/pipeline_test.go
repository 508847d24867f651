package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.MkdirAll(target, 0o755))

	cfg := DefaultConfig(target)
	cfg.StorePath = filepath.Join(dir, "ctp.db")
	cfg.GraphDBPath = filepath.Join(dir, "graph.db")
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.WorkersPerQueue = 1
	cfg.DrainPollEvery = 5 * time.Millisecond
	return cfg
}

func TestRun_EmptyTargetRootSealsRunWithNoRelationships(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.NotNil(t, run.SealedAt)
}

func TestRun_ExtractsPOIsFromAGoFile(t *testing.T) {
	cfg := testConfig(t)
	src := "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TargetRoot, "main.go"), []byte(src), 0o644))

	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	run, err := p.Run(ctx)
	require.NoError(t, err)

	poi, err := p.store.GetPOIByName(context.Background(), run.ID, "Hello")
	require.NoError(t, err)
	require.NotNil(t, poi)
	assert.Equal(t, model.POIFunction, poi.Type)
}

func TestNewAnalyzer_FallsBackToHeuristicWithoutAPIKey(t *testing.T) {
	cfg := DefaultConfig(".")
	cfg.AnthropicAPIKey = ""
	analyzer := newAnalyzer(cfg)
	_, ok := analyzer.(heuristicAnalyzer)
	assert.True(t, ok)
}
