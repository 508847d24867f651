package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/breaker"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

// HealthStatus is the JSON body served at /healthz: the breaker state
// snapshot and the last integrity-gate violation counts. Repair counts are
// not part of it.
type HealthStatus struct {
	Status    string                   `json:"status"`
	Breakers  map[string]breaker.State `json:"breakers"`
	Integrity store.IntegrityCounts    `json:"last_integrity_check"`
}

// Server exposes /metrics (promhttp) and /healthz over HTTP.
type Server struct {
	server   *http.Server
	log      *zap.SugaredLogger
	breakers *breaker.Manager

	lastIntegrity store.IntegrityCounts
}

// NewServer wires a metrics/health HTTP server on addr. breakers may be nil
// if no breaker.Manager is in use yet.
func NewServer(addr string, breakers *breaker.Manager) *Server {
	s := &Server{
		log:      logging.For("metrics").Sugar(),
		breakers: breakers,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// SetLastIntegrity records the most recent integrity gate result so
// /healthz can surface it.
func (s *Server) SetLastIntegrity(c store.IntegrityCounts) {
	s.lastIntegrity = c
	SetIntegrityViolations(map[string]int{
		"orphaned_validated":  c.OrphanedValidated,
		"invalid_confidence":  c.InvalidConfidence,
		"missing_type":        c.MissingType,
		"empty_endpoint_name": c.EmptyEndpointNames,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Integrity: s.lastIntegrity,
	}
	if s.breakers != nil {
		status.Breakers = s.breakers.Snapshot()
		for name, st := range status.Breakers {
			SetBreakerState(name, string(st))
			if st == breaker.Open {
				status.Status = "degraded"
			}
		}
	}
	if status.Integrity.Violations() {
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// StartAsync starts the HTTP server in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("metrics server stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
