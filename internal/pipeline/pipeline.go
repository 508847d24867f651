// Package pipeline wires every stage of the cognitive triangulation
// pipeline into one run: queue bus and worker pool, transactional outbox
// publisher, fast-path scoring and slow-path triangulation, advanced
// validation, the integrity-gated graph builder, and the metrics/health
// server — plus the run lifecycle (walk -> drain -> reconcile -> seal) and
// graceful shutdown that glues them together.
//
// Grounded on the teacher's cmd/nerd/main.go init/shutdown sequencing
// (logger first, dependencies injected in order, PersistentPostRun tears
// everything down) and internal/core/shard_manager_core.go's single
// coordinator owning every subsystem's lifecycle.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/breaker"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/confidence"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/extract"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/graphbuilder"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/llmclient"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/metrics"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/outbox"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/queue"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/validation"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/walker"
)

// Pipeline owns every long-lived component of one pipeline process. A
// single Pipeline can run many sequential Run calls (one run is one
// target-root analysis pass); it is not safe for concurrent Run calls.
type Pipeline struct {
	cfg Config
	log *zap.SugaredLogger

	store    *store.Store
	graph    *graphbuilder.SQLiteGraphStore
	bus      *queue.Bus
	pool     *queue.Pool
	breakers *breaker.Manager
	outbox   *outbox.Publisher
	triage   *confidence.Orchestrator
	validator *validation.Validator
	builder  *graphbuilder.Builder
	registry *extract.Registry
	metrics  *metrics.Server

	seenDirs sync.Map // directory path -> struct{}, per-run dedupe for directory-finding emission

	workersWG sync.WaitGroup
	cancel    context.CancelFunc
}

// New wires every component per cfg but starts nothing — call Run to start
// background workers and execute one analysis pass.
func New(cfg Config) (*Pipeline, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: prepare store dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.GraphDBPath), 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: prepare graph dir: %w", err)
	}

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open store: %w", err)
	}
	g, err := graphbuilder.OpenSQLiteGraphStore(cfg.GraphDBPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open graph store: %w", err)
	}

	breakers := breaker.NewManager()
	breakers.Register("llm", cfg.BreakerConfig)
	breakers.Register("store", cfg.BreakerConfig)
	breakers.Register("graph", cfg.BreakerConfig)

	bus := queue.New(cfg.QueueMinSlots, cfg.QueueMaxSlots, cfg.GlobalLLMCap, queue.DefaultRetryPolicy(cfg.QueueMaxRetries))
	pool := queue.NewPool(bus, breakers, queue.RuntimeMemMonitor{MaxMemoryMB: 2048}, cfg.PoolConfig)
	pub := outbox.New(s, bus, cfg.OutboxConfig)

	analyzer := newAnalyzer(cfg)
	triage := confidence.NewOrchestrator(s, analyzer, confidence.DefaultConfig())
	validator := validation.New(s, validation.DefaultConfig())
	builder := graphbuilder.New(s, g, graphbuilder.DefaultConfig())
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, breakers)

	return &Pipeline{
		cfg:       cfg,
		log:       logging.For(logging.ComponentPipeline).Sugar(),
		store:     s,
		graph:     g,
		bus:       bus,
		pool:      pool,
		breakers:  breakers,
		outbox:    pub,
		triage:    triage,
		validator: validator,
		builder:   builder,
		registry:  extract.DefaultRegistry(),
		metrics:   metricsSrv,
	}, nil
}

// newAnalyzer picks the LLM-backed sub-agent analyzer when an API key is
// configured, falling back to a deterministic local analyzer otherwise so
// the pipeline still runs end to end offline (spec §4.3.2 names the panel's
// shape, not a mandatory external provider).
func newAnalyzer(cfg Config) confidence.SubAgentAnalyzer {
	if cfg.AnthropicAPIKey == "" {
		return heuristicAnalyzer{}
	}
	client := llmclient.NewRetrying(llmclient.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), llmclient.DefaultTimeouts())
	return llmclient.NewSubAgentAnalyzer(client)
}

// Run executes one end-to-end analysis pass over cfg.TargetRoot: starts
// every background worker, walks the tree, drains every queue to empty,
// builds the graph, seals the run, then stops every background worker.
func (p *Pipeline) Run(ctx context.Context) (*model.Run, error) {
	run, err := p.store.CreateRun(ctx, p.cfg.TargetRoot)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create run: %w", err)
	}
	p.log.Infow("run started", "run_id", run.ID, "target_root", p.cfg.TargetRoot)

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	// A Publisher's Run/Stop pair works once, and directory dedupe is per
	// run, so both start fresh on every Run.
	p.outbox = outbox.New(p.store, p.bus, p.cfg.OutboxConfig)
	p.seenDirs.Range(func(k, _ interface{}) bool {
		p.seenDirs.Delete(k)
		return true
	})

	p.metrics.StartAsync()
	p.pool.Start(workerCtx)
	go p.outbox.Run(workerCtx)
	p.startWorkers(workerCtx)

	if err := p.walkAndEnqueue(workerCtx, run.ID); err != nil {
		p.shutdownWorkers()
		return run, fmt.Errorf("pipeline: walk: %w", err)
	}

	if err := p.waitForDrain(workerCtx, queue.AllQueues); err != nil {
		p.shutdownWorkers()
		return run, fmt.Errorf("pipeline: drain: %w", err)
	}

	if _, err := p.bus.Enqueue(run.ID, queue.Reconciliation, []byte(run.ID), "reconcile:"+run.ID); err != nil {
		p.shutdownWorkers()
		return run, fmt.Errorf("pipeline: enqueue reconciliation: %w", err)
	}
	if err := p.waitForDrain(workerCtx, []queue.Name{queue.Reconciliation}); err != nil {
		p.shutdownWorkers()
		return run, fmt.Errorf("pipeline: drain reconciliation: %w", err)
	}

	p.shutdownWorkers()

	sealed, err := p.store.GetRun(ctx, run.ID)
	if err != nil {
		return run, fmt.Errorf("pipeline: reload run: %w", err)
	}
	p.log.Infow("run finished", "run_id", run.ID)
	return sealed, nil
}

// waitForDrain polls bus stats until every named queue has no waiting or
// active jobs, or ctx is cancelled.
func (p *Pipeline) waitForDrain(ctx context.Context, queues []queue.Name) error {
	ticker := time.NewTicker(p.cfg.DrainPollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			drained := true
			for _, q := range queues {
				stats, err := p.bus.Stats(q)
				if err != nil {
					return err
				}
				metrics.SetQueueDepth(string(q), stats.Waiting+stats.Active)
				if stats.Waiting > 0 || stats.Active > 0 {
					drained = false
				}
			}
			if drained {
				return nil
			}
		}
	}
}

// shutdownWorkers stops every background goroutine started by Run and
// waits for them to exit, in the teacher's PersistentPostRun teardown
// order: queue consumers first, then the pool's scaling and sweeper loops,
// then the outbox publisher. The bus itself is stopped only by Close.
func (p *Pipeline) shutdownWorkers() {
	if p.cancel != nil {
		p.cancel()
	}
	p.workersWG.Wait()
	p.pool.Stop()
	p.outbox.Stop()
}

// Close releases every store/server resource. Call once the Pipeline is no
// longer needed.
func (p *Pipeline) Close(ctx context.Context) error {
	p.bus.Stop()
	if err := p.metrics.Stop(ctx); err != nil {
		p.log.Errorw("metrics server shutdown", "error", err)
	}
	if err := p.graph.Close(); err != nil {
		p.log.Errorw("graph store close", "error", err)
	}
	return p.store.Close()
}

// walkAndEnqueue lazily walks cfg.TargetRoot and enqueues one FileAnalysis
// job per regular file, deduplicated on path.
func (p *Pipeline) walkAndEnqueue(ctx context.Context, runID string) error {
	w := walker.New(p.cfg.TargetRoot, "")
	for {
		entry, ok, err := w.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payload, err := json.Marshal(filePathPayload{Path: entry.Path})
		if err != nil {
			return err
		}
		if _, err := p.bus.Enqueue(runID, queue.FileAnalysis, payload, entry.Path); err != nil {
			return err
		}
	}
}

func contentHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
