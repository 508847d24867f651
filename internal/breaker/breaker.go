// Package breaker implements the circuit-breaker fabric of spec §4.6: one
// named breaker per logical dependency (LLM client, graph store, relational
// store, per-worker class), each independently tracking
// CLOSED -> OPEN -> HALF_OPEN -> CLOSED transitions on top of
// github.com/sony/gobreaker (the same library jordigilh-kubernaut and
// steveyegge-beads depend on for this concern — codenerd has no circuit
// breaker of its own, so this package is raided from the rest of the pack
// rather than grounded on a teacher file). The Manager mirrors the teacher's
// LimitsEnforcer: a single process-wide coordinator, injected into every
// component that needs it, with explicit init and a Reset for manual
// override.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

// State mirrors gobreaker.State with the spec's vocabulary.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = gobreaker.ErrOpenState

// Config configures one breaker instance.
type Config struct {
	// FailLimit is the consecutive-failure count that trips CLOSED -> OPEN.
	FailLimit uint32
	// Cooldown is the time spent OPEN before a HALF_OPEN probe is admitted.
	Cooldown time.Duration
}

// Manager owns every named breaker in the process. Exactly one Manager
// should exist per pipeline run, created before any worker is spawned and
// torn down after all workers stop reserving (same lifecycle discipline as
// the teacher's ShardManager / LimitsEnforcer).
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]Config
}

// NewManager creates an empty breaker manager.
func NewManager() *Manager {
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]Config),
	}
}

// Register creates (or replaces) the named breaker with the given config.
// Call during init, before workers start issuing calls through it.
func (m *Manager) Register(name string, cfg Config) {
	if cfg.FailLimit == 0 {
		cfg.FailLimit = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailLimit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.For(logging.ComponentBreaker).Info("breaker state change",
				logging.QueueField(name),
			)
			_ = from
			_ = to
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[name] = cb
	m.configs[name] = cfg
}

// get returns (and lazily registers with defaults) the named breaker.
func (m *Manager) get(name string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}
	m.Register(name, Config{})
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// Execute runs fn through the named breaker. If the breaker is OPEN, fn is
// never called and ErrOpen is returned immediately (spec: "OPEN rejects
// immediately for cool_down"). A successful HALF_OPEN probe closes the
// breaker; a failed one reopens it with a fresh cooldown.
func (m *Manager) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	cb := m.get(name)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// Allow reports whether a call against the named breaker would currently be
// admitted, without actually making the call. Used by the worker pool to
// decide whether to grant a reservation to a given worker class (spec §4.1:
// "while open, the worker's queue keeps accepting jobs but no reservations
// are granted from that worker class").
func (m *Manager) Allow(name string) bool {
	return m.State(name) != Open
}

// State returns the current state of the named breaker.
func (m *Manager) State(name string) State {
	return fromGobreaker(m.get(name).State())
}

// Reset forces the named breaker back to CLOSED (spec: "Manual reset is
// supported").
func (m *Manager) Reset(name string) {
	m.mu.RLock()
	cfg := m.configs[name]
	m.mu.RUnlock()
	m.Register(name, cfg)
}

// Snapshot returns the state of every registered breaker, for the metrics
// and health endpoints (spec §6).
func (m *Manager) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = fromGobreaker(cb.State())
	}
	return out
}
