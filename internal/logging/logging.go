// Package logging provides config-driven structured logging for the
// cognitive triangulation pipeline, built on zap. Every pipeline component
// gets a named sub-logger (via Named), the way the teacher wires zap in
// cmd/nerd/main.go; unlike the teacher's CLI, this is a headless service, so
// there is no per-category log file — everything goes to one structured
// stream (stdout in production, console-pretty in dev).
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names used as zap.Logger.Named() arguments throughout the
// pipeline.
const (
	ComponentQueue        = "queue"
	ComponentOutbox       = "outbox"
	ComponentConfidence   = "confidence"
	ComponentTriangulation = "triangulation"
	ComponentValidation   = "validation"
	ComponentGraphBuilder = "graphbuilder"
	ComponentBreaker      = "breaker"
	ComponentWalker       = "walker"
	ComponentExtract      = "extract"
	ComponentStore        = "store"
	ComponentLLM          = "llmclient"
	ComponentPipeline     = "pipeline"
	ComponentMetrics      = "metrics"
)

var (
	base   *zap.Logger
	baseMu sync.RWMutex
)

// Init builds the process-wide base logger. dev=true selects a
// human-readable console encoder (for local runs); dev=false selects JSON
// (for production / log aggregation).
func Init(dev bool) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	baseMu.Lock()
	base = l
	baseMu.Unlock()

	return l, nil
}

// Base returns the process-wide logger, initializing a no-frills production
// logger on first use if Init was never called (keeps library code and
// tests safe without requiring explicit setup).
func Base() *zap.Logger {
	baseMu.RLock()
	l := base
	baseMu.RUnlock()
	if l != nil {
		return l
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	if base == nil {
		base, _ = zap.NewProduction()
		if base == nil {
			base = zap.NewNop()
		}
	}
	return base
}

// For returns a named sub-logger for a pipeline component.
func For(component string) *zap.Logger {
	return Base().Named(component)
}

// Sync flushes any buffered log entries. Call during graceful shutdown.
func Sync() {
	baseMu.RLock()
	l := base
	baseMu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

// RunField and JobField are convenience wrappers kept distinct so call sites
// read declaratively: logging.For(...).Info("...", logging.RunField(id), ...).
func RunField(runID string) zap.Field { return zap.String("run_id", runID) }
func JobField(jobID string) zap.Field { return zap.String("job_id", jobID) }
func QueueField(queue string) zap.Field { return zap.String("queue", queue) }

func init() {
	// Ensure a usable logger exists even if a package-level var() in another
	// package calls logging.For() before main.main() runs Init.
	if os.Getenv("CTP_SUPPRESS_DEFAULT_LOGGER") == "" {
		_, _ = Init(false)
	}
}
