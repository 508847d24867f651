// Package config loads and validates the pipeline's configuration surface
// (spec §6): one YAML document plus environment-variable overrides, the same
// two-layer approach as the teacher's internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/ctperrors"
)

// Config holds every configuration option enumerated in spec §6.
//
// pipeline.FromAppConfig reads GlobalLLMConcurrency, OutboxBatch,
// WorkerRetries, BreakerFailLimit, BreakerCooldown, MaxJobTime, Store.Path,
// LLM.APIKey, LLM.Model, Queue and Metrics. BatchSize,
// TriangulationParallelism, LowConfidenceThreshold, EscalationThreshold,
// BreakerFailLimitReconciliation, ShutdownGrace, Graph and the remaining LLM
// fields are loaded, overridden and validated, but no pipeline component
// reads them; those components run on their own package defaults.
type Config struct {
	// GlobalLLMConcurrency is the hard ceiling on in-flight LLM calls.
	GlobalLLMConcurrency int `yaml:"global_llm_concurrency"`

	// BatchSize is the graph builder's upsert batch size.
	BatchSize int `yaml:"batch_size"`

	// OutboxBatch is the number of outbox events drained per publisher tick.
	OutboxBatch int `yaml:"outbox_batch"`

	// TriangulationParallelism is the number of sub-agents per session.
	TriangulationParallelism int `yaml:"triangulation_parallelism"`

	// LowConfidenceThreshold triggers triangulation below this score.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`

	// EscalationThreshold is the conflict-severity score that sends a
	// relationship to human review.
	EscalationThreshold float64 `yaml:"escalation_threshold"`

	// WorkerRetries is the max retries per job.
	WorkerRetries int `yaml:"worker_retries"`

	// BreakerFailLimit is consecutive failures before a breaker opens.
	BreakerFailLimit int `yaml:"breaker_fail_limit"`

	// BreakerFailLimitReconciliation overrides BreakerFailLimit for the
	// reconciliation worker class, which tolerates more consecutive failures.
	BreakerFailLimitReconciliation int `yaml:"breaker_fail_limit_reconciliation"`

	// BreakerCooldown is time before a breaker probes again.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// MaxJobTime is the slot-reclaim deadline for a reserved job.
	MaxJobTime time.Duration `yaml:"max_job_time"`

	// ShutdownGrace is the final drain timeout on graceful shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	Store   StoreConfig   `yaml:"store"`
	Graph   GraphConfig   `yaml:"graph"`
	LLM     LLMConfig     `yaml:"llm"`
	Queue   QueueConfig   `yaml:"queue"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// GraphConfig configures the property graph client.
type GraphConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// LLMConfig configures the consumed LLM boundary (spec §6).
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Retries     int           `yaml:"retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// QueueConfig configures per-queue min/max concurrency bounds used by the
// scaling algorithm (spec §4.1).
type QueueConfig struct {
	MinConcurrency       int           `yaml:"min_concurrency"`
	MaxConcurrency       int           `yaml:"max_concurrency"`
	CPUHighWater         float64       `yaml:"cpu_high_water"`
	MemHighWater         float64       `yaml:"mem_high_water"`
	ScaleUpUtilization   float64       `yaml:"scale_up_utilization"`
	ScaleDownUtilization float64       `yaml:"scale_down_utilization"`
	MonitorTick          time.Duration `yaml:"monitor_tick"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// MetricsConfig configures the observability surface.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the defaults enumerated in spec §6.
func Default() *Config {
	return &Config{
		GlobalLLMConcurrency:           100,
		BatchSize:                      10000,
		OutboxBatch:                    100,
		TriangulationParallelism:       6,
		LowConfidenceThreshold:         0.4,
		EscalationThreshold:            0.7,
		WorkerRetries:                  3,
		BreakerFailLimit:               5,
		BreakerFailLimitReconciliation: 10,
		BreakerCooldown:                60 * time.Second,
		MaxJobTime:                     120 * time.Second,
		ShutdownGrace:                  30 * time.Second,
		Store: StoreConfig{
			Path: "./ctp.db",
		},
		Graph: GraphConfig{
			CommitTimeout: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet",
			Retries:     3,
			BaseBackoff: time.Second,
			CallTimeout: 60 * time.Second,
		},
		Queue: QueueConfig{
			MinConcurrency:       2,
			MaxConcurrency:       5,
			CPUHighWater:         0.8,
			MemHighWater:         0.85,
			ScaleUpUtilization:   0.7,
			ScaleDownUtilization: 0.3,
			MonitorTick:          10 * time.Second,
			SweepInterval:        60 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// Load starts from Default() and overlays the YAML at path: fields the file
// omits keep their defaults, while a field the file sets (even to zero)
// takes the file's value. A missing file is ignored. Environment-variable
// overrides are applied next, then the result is validated. An empty path
// skips the file read.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else {
			fileCfg := Default()
			if err := yaml.Unmarshal(data, fileCfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
			cfg = fileCfg
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers CTP_* environment variables on top of the loaded
// config, mirroring the teacher's Config.applyEnvOverrides precedence chain
// (env wins over file, absence leaves the field untouched).
func (c *Config) applyEnvOverrides() {
	overrideInt(&c.GlobalLLMConcurrency, "CTP_GLOBAL_LLM_CONCURRENCY")
	overrideInt(&c.BatchSize, "CTP_BATCH_SIZE")
	overrideInt(&c.OutboxBatch, "CTP_OUTBOX_BATCH")
	overrideInt(&c.TriangulationParallelism, "CTP_TRIANGULATION_PARALLELISM")
	overrideFloat(&c.LowConfidenceThreshold, "CTP_LOW_CONFIDENCE_THRESHOLD")
	overrideFloat(&c.EscalationThreshold, "CTP_ESCALATION_THRESHOLD")
	overrideInt(&c.WorkerRetries, "CTP_WORKER_RETRIES")
	overrideInt(&c.BreakerFailLimit, "CTP_BREAKER_FAIL_LIMIT")
	overrideInt(&c.BreakerFailLimitReconciliation, "CTP_BREAKER_FAIL_LIMIT_RECONCILIATION")
	overrideDuration(&c.BreakerCooldown, "CTP_BREAKER_COOLDOWN")
	overrideDuration(&c.MaxJobTime, "CTP_MAX_JOB_TIME")
	overrideDuration(&c.ShutdownGrace, "CTP_SHUTDOWN_GRACE")
	overrideString(&c.Store.Path, "CTP_STORE_PATH")
	overrideString(&c.Graph.Endpoint, "CTP_GRAPH_ENDPOINT")
	overrideString(&c.LLM.APIKey, "CTP_LLM_API_KEY")
	overrideString(&c.LLM.Provider, "CTP_LLM_PROVIDER")
	overrideString(&c.Metrics.ListenAddr, "CTP_METRICS_LISTEN_ADDR")

	// Fall back to the common provider env var name if CTP_LLM_API_KEY is
	// unset, the same precedence idea as the teacher's multi-provider chain.
	if c.LLM.APIKey == "" {
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			c.LLM.APIKey = v
			if c.LLM.Provider == "" {
				c.LLM.Provider = "anthropic"
			}
		}
	}
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func overrideDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate fails fast on configuration that would make the pipeline unsafe
// or meaningless to start (spec §7: CONFIG errors are fatal before any
// worker starts).
func (c *Config) Validate() error {
	var cause error
	switch {
	case c.GlobalLLMConcurrency <= 0:
		cause = fmt.Errorf("config: global_llm_concurrency must be positive")
	case c.BatchSize <= 0:
		cause = fmt.Errorf("config: batch_size must be positive")
	case c.OutboxBatch <= 0:
		cause = fmt.Errorf("config: outbox_batch must be positive")
	case c.TriangulationParallelism <= 0:
		cause = fmt.Errorf("config: triangulation_parallelism must be positive")
	case c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1:
		cause = fmt.Errorf("config: low_confidence_threshold must be in [0,1]")
	case c.EscalationThreshold < 0 || c.EscalationThreshold > 1:
		cause = fmt.Errorf("config: escalation_threshold must be in [0,1]")
	case c.Store.Path == "":
		cause = fmt.Errorf("config: store.path must be set")
	case c.Queue.MinConcurrency <= 0 || c.Queue.MaxConcurrency < c.Queue.MinConcurrency:
		cause = fmt.Errorf("config: queue.min_concurrency/max_concurrency are inconsistent")
	}
	if cause == nil {
		return nil
	}
	return ctperrors.New("config", ctperrors.Config, "", false, cause)
}
