package pipeline

import (
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/breaker"
	appconfig "github.com/ctp/cognitive-triangulation-pipeline/internal/config"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/llmclient"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/outbox"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/queue"
)

// Config assembles every tunable a run needs, following the teacher's
// init()-time flag-to-struct assembly in cmd/nerd/main.go.
type Config struct {
	TargetRoot  string
	StorePath   string
	GraphDBPath string
	MetricsAddr string

	// AnthropicAPIKey selects the LLM-backed sub-agent analyzer. Empty
	// falls back to a deterministic local analyzer (no external calls),
	// so the pipeline still runs end to end in offline/test environments.
	AnthropicAPIKey string
	AnthropicModel  anthropic.Model

	WorkersPerQueue int
	DrainPollEvery  time.Duration

	QueueMinSlots    int
	QueueMaxSlots    int
	GlobalLLMCap     int
	QueueMaxRetries  int
	PoolConfig       queue.PoolConfig
	OutboxConfig     outbox.Config
	BreakerConfig    breaker.Config
}

// DefaultConfig returns the wiring defaults used when no loaded
// internal/config.Config is supplied. Some differ from config.Default:
// GlobalLLMCap is 8 (not 100), QueueMaxSlots is 16 (not 5), metrics bind
// 127.0.0.1:9090 and both stores live under .ctp/. FromAppConfig replaces
// them with a loaded config's values.
func DefaultConfig(targetRoot string) Config {
	return Config{
		TargetRoot:      targetRoot,
		StorePath:       ".ctp/ctp.db",
		GraphDBPath:     ".ctp/graph.db",
		MetricsAddr:     "127.0.0.1:9090",
		AnthropicModel:  anthropic.Model("claude-3-5-haiku-20241022"),
		WorkersPerQueue: 4,
		DrainPollEvery:  200 * time.Millisecond,
		QueueMinSlots:   2,
		QueueMaxSlots:   16,
		GlobalLLMCap:    8,
		QueueMaxRetries: 3,
		PoolConfig:      queue.DefaultPoolConfig(),
		OutboxConfig:    outbox.DefaultConfig(),
		BreakerConfig:   breaker.Config{},
	}
}

// FromAppConfig translates the spec §6 configuration surface (YAML + env,
// internal/config.Config) into the wiring Config this package's New expects.
// Fields internal/config.Config doesn't cover (target root, metrics listen
// address already does) fall back to DefaultConfig's values.
func FromAppConfig(targetRoot string, c *appconfig.Config) Config {
	cfg := DefaultConfig(targetRoot)
	cfg.StorePath = c.Store.Path
	// internal/config.GraphConfig.Endpoint targets an external graph client;
	// no such driver exists in the retrieval pack (see DESIGN.md), so the
	// graph store is always the sqlite fallback, co-located with the
	// relational store's directory.
	cfg.GraphDBPath = filepath.Join(filepath.Dir(c.Store.Path), "graph.db")
	cfg.MetricsAddr = c.Metrics.ListenAddr
	cfg.AnthropicAPIKey = c.LLM.APIKey
	if c.LLM.Model != "" {
		cfg.AnthropicModel = anthropic.Model(c.LLM.Model)
	}
	cfg.QueueMinSlots = c.Queue.MinConcurrency
	cfg.QueueMaxSlots = c.Queue.MaxConcurrency
	cfg.GlobalLLMCap = c.GlobalLLMConcurrency
	cfg.QueueMaxRetries = c.WorkerRetries
	cfg.OutboxConfig = outbox.Config{BatchSize: c.OutboxBatch, PollInterval: cfg.OutboxConfig.PollInterval}
	cfg.BreakerConfig = breaker.Config{FailLimit: uint32(c.BreakerFailLimit), Cooldown: c.BreakerCooldown}
	cfg.PoolConfig = queue.PoolConfig{
		MonitorTick:          c.Queue.MonitorTick,
		SweepInterval:        c.Queue.SweepInterval,
		CPUHighWater:         c.Queue.CPUHighWater,
		MemHighWater:         c.Queue.MemHighWater,
		ScaleUpUtilization:   c.Queue.ScaleUpUtilization,
		ScaleDownUtilization: c.Queue.ScaleDownUtilization,
		MaxJobTime:           c.MaxJobTime,
	}
	return cfg
}
