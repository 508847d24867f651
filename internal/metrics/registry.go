// Package metrics exposes Prometheus counters/histograms/gauges for every
// pipeline stage (spec §6: "outbox throughput, confidence score
// distribution, triangulation session outcomes, validation cache hit rate,
// triangulation throughput, graph-build batch"), plus a /metrics and
// /healthz HTTP server.
//
// No production metrics.go file shipped in jordigilh-kubernaut's retrieval
// slice (only pkg/metrics/metrics_test.go and server_test.go survived
// distillation), so the package-level var + Record* function naming
// convention and the Server{*http.Server, logger}/NewServer/StartAsync/Stop
// shape are reconstructed directly from those tests rather than copied from
// a source file.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutboxEventsPublishedTotal counts outbox rows successfully published
	// to a queue, by kind (spec §4.2).
	OutboxEventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctp_outbox_events_published_total",
		Help: "Outbox events published to a downstream queue, by kind.",
	}, []string{"kind"})

	// ConfidenceScoreHistogram tracks the fast-path scorer's output
	// distribution (spec §4.3.1).
	ConfidenceScoreHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ctp_confidence_score",
		Help:    "Fast-path confidence scorer output distribution.",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
	})

	// TriangulationSessionsTotal counts completed triangulation sessions by
	// terminal state (spec §4.3.2).
	TriangulationSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctp_triangulation_sessions_total",
		Help: "Triangulation sessions by terminal state (COMPLETED/FAILED).",
	}, []string{"state"})

	// TriangulationDuration tracks session wall-clock time.
	TriangulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ctp_triangulation_duration_seconds",
		Help:    "Triangulation session duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// ValidationVerdictsTotal counts validator verdicts by decision (spec
	// §4.4: ACCEPT/REJECT/ESCALATE).
	ValidationVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctp_validation_verdicts_total",
		Help: "Validation verdicts by decision.",
	}, []string{"decision"})

	// ValidationCacheHitsTotal / ValidationCacheMissesTotal track the
	// validator's LRU cache hit rate (spec §4.4's caching clause).
	ValidationCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctp_validation_cache_hits_total",
		Help: "Validator verdict cache hits.",
	})
	ValidationCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctp_validation_cache_misses_total",
		Help: "Validator verdict cache misses.",
	})

	// GraphBatchesLoadedTotal / GraphRowsLoadedTotal track the graph
	// builder's bulk load throughput (spec §4.5).
	GraphBatchesLoadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctp_graph_batches_loaded_total",
		Help: "Graph builder batches committed.",
	})
	GraphRowsLoadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctp_graph_rows_loaded_total",
		Help: "Relationships upserted into the property graph.",
	})

	// IntegrityViolationsGauge snapshots the last integrity gate's violation
	// counts, by class (spec §4.5 integrity gate).
	IntegrityViolationsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ctp_integrity_violations",
		Help: "Last integrity gate violation count, by class.",
	}, []string{"class"})

	// BreakerStateGauge mirrors breaker.Manager.Snapshot() as a gauge per
	// breaker name: 0=CLOSED, 1=HALF_OPEN, 2=OPEN (spec §4.6).
	BreakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ctp_breaker_state",
		Help: "Circuit breaker state by name: 0=CLOSED, 1=HALF_OPEN, 2=OPEN.",
	}, []string{"name"})

	// QueueDepthGauge tracks per-queue pending job counts (spec §4.1).
	QueueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ctp_queue_depth",
		Help: "Pending job count per queue.",
	}, []string{"queue"})
)

// RecordOutboxPublish increments the per-kind outbox publish counter.
func RecordOutboxPublish(kind string) {
	OutboxEventsPublishedTotal.WithLabelValues(kind).Inc()
}

// RecordConfidenceScore observes one fast-path scorer output.
func RecordConfidenceScore(score float64) {
	ConfidenceScoreHistogram.Observe(score)
}

// RecordTriangulationSession observes one session's outcome and duration.
func RecordTriangulationSession(state string, duration time.Duration) {
	TriangulationSessionsTotal.WithLabelValues(state).Inc()
	TriangulationDuration.Observe(duration.Seconds())
}

// RecordValidationVerdict increments the per-decision validator counter.
func RecordValidationVerdict(decision string) {
	ValidationVerdictsTotal.WithLabelValues(decision).Inc()
}

// RecordCacheHit / RecordCacheMiss track validator cache effectiveness.
func RecordCacheHit()  { ValidationCacheHitsTotal.Inc() }
func RecordCacheMiss() { ValidationCacheMissesTotal.Inc() }

// RecordGraphBatch observes one committed graph batch of n rows.
func RecordGraphBatch(rows int) {
	GraphBatchesLoadedTotal.Inc()
	GraphRowsLoadedTotal.Add(float64(rows))
}

// SetIntegrityViolations publishes the last integrity gate's per-class
// violation counts.
func SetIntegrityViolations(counts map[string]int) {
	for class, n := range counts {
		IntegrityViolationsGauge.WithLabelValues(class).Set(float64(n))
	}
}

// SetBreakerState publishes one breaker's current state as a numeric gauge.
func SetBreakerState(name string, state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	default:
		v = 0
	}
	BreakerStateGauge.WithLabelValues(name).Set(v)
}

// SetQueueDepth publishes one queue's current pending job count.
func SetQueueDepth(queue string, depth int) {
	QueueDepthGauge.WithLabelValues(queue).Set(float64(depth))
}
