package queue

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/breaker"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

// ResourceMonitor reports current resource utilization as a [0,1] fraction.
// CPUUtilization has no ready-made library anywhere in the example pack
// (none of the retrieved repos measure host CPU), so it is deliberately
// pluggable: production wiring can shell out to a platform sampler, while
// tests and the default wiring use a cheap stdlib-only estimator.
type ResourceMonitor interface {
	CPUUtilization() float64
	MemUtilization() float64
}

// RuntimeMemMonitor estimates memory utilization from runtime.MemStats
// against a configured ceiling, the same shape as the teacher's
// LimitsEnforcer.GetMemoryUtilization. CPU is reported as 0 (unknown)
// unless wrapped or replaced by a platform-specific monitor.
type RuntimeMemMonitor struct {
	MaxMemoryMB int
}

// CPUUtilization always returns 0: no in-pack library samples host CPU.
func (RuntimeMemMonitor) CPUUtilization() float64 { return 0 }

// MemUtilization reports heap-in-use against MaxMemoryMB.
func (m RuntimeMemMonitor) MemUtilization() float64 {
	if m.MaxMemoryMB <= 0 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usedMB := float64(ms.HeapInuse) / (1024 * 1024)
	util := usedMB / float64(m.MaxMemoryMB)
	if util > 1 {
		util = 1
	}
	return util
}

// PoolConfig tunes the scaling loop (spec §4.1 "Scaling algorithm").
type PoolConfig struct {
	MonitorTick          time.Duration
	SweepInterval        time.Duration
	CPUHighWater         float64 // default 0.8
	MemHighWater         float64 // default 0.85
	ScaleUpUtilization   float64 // default 0.7
	ScaleDownUtilization float64 // default 0.3
	MaxJobTime           time.Duration
}

// DefaultPoolConfig mirrors spec §4.1's literal thresholds.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MonitorTick:          10 * time.Second,
		SweepInterval:        60 * time.Second,
		CPUHighWater:         0.8,
		MemHighWater:         0.85,
		ScaleUpUtilization:   0.7,
		ScaleDownUtilization: 0.3,
		MaxJobTime:           10 * time.Minute,
	}
}

// Pool runs the background scaling loop and leaked-reservation sweeper over
// a Bus, and gates per-worker-class reservations through a breaker.Manager
// (spec §4.1 "Failure semantics": "while open, the worker's queue keeps
// accepting jobs but no reservations are granted from that worker class").
type Pool struct {
	bus      *Bus
	breakers *breaker.Manager
	monitor  ResourceMonitor
	cfg      PoolConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool wires a Bus to a breaker.Manager and ResourceMonitor under cfg.
func NewPool(bus *Bus, breakers *breaker.Manager, monitor ResourceMonitor, cfg PoolConfig) *Pool {
	return &Pool{bus: bus, breakers: breakers, monitor: monitor, cfg: cfg}
}

// Start launches the monitoring tick and sweeper goroutines. Call Stop to
// halt both and wait for them to exit.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go p.runScalingLoop(ctx)
	go p.runSweeper(ctx)
}

// Stop cancels the background goroutines and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) runScalingLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MonitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pool) runSweeper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := p.bus.SweepLeaked(time.Now())
			if n > 0 {
				logging.For(logging.ComponentQueue).Warn("sweeper reclaimed jobs")
			}
		}
	}
}

// tick applies the three ordered rules of spec §4.1 once.
func (p *Pool) tick() {
	cpu := p.monitor.CPUUtilization()
	mem := p.monitor.MemUtilization()
	resourceBudgetOK := cpu < p.cfg.CPUHighWater && mem < p.cfg.MemHighWater
	highPressure := cpu >= p.cfg.CPUHighWater || mem >= p.cfg.MemHighWater

	for _, name := range AllQueues {
		stats, err := p.bus.Stats(name)
		if err != nil {
			continue
		}
		slots := p.bus.Slots(name)
		if slots == 0 {
			continue
		}
		utilization := float64(stats.Active) / float64(slots)

		// Rule 1 (global LLM cap) is enforced structurally by the bus's
		// semaphore in Reserve, not here; nothing to do per-queue.

		// Rule 2: scale up on backlog pressure when resources allow.
		if resourceBudgetOK && utilization > p.cfg.ScaleUpUtilization && stats.Waiting > slots {
			grant := backlogGrant(stats.Waiting, slots)
			_ = p.bus.SetSlots(name, slots+grant)
			continue
		}

		// Rule 3: scale down idle queues under resource pressure.
		if highPressure && utilization < p.cfg.ScaleDownUtilization {
			_ = p.bus.SetSlots(name, slots-1)
		}
	}
}

// backlogGrant sizes the scale-up step proportional to backlog (spec §4.1
// rule 2: "grant one more slot... proportional to backlog"), capped so a
// single tick never more than doubles a queue's concurrency.
func backlogGrant(waiting, slots int) int {
	ratio := float64(waiting) / float64(slots)
	grant := int(math.Round(ratio))
	if grant < 1 {
		grant = 1
	}
	if grant > slots {
		grant = slots
	}
	return grant
}

// AllowReservation reports whether the named worker class's breaker permits
// granting new reservations. Call before Reserve; when false, the caller
// should back off rather than block indefinitely on a class that will not
// be serviced.
func (p *Pool) AllowReservation(workerClass string) bool {
	return p.breakers.Allow(workerClass)
}
