package confidence

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/ctperrors"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

// ConsensusThreshold is the consensus_score at or above which a
// triangulation session completes successfully (spec §4.3.2 step 4).
const ConsensusThreshold = 0.7

// DefaultAgentKinds is the full sub-agent panel spawned per session unless a
// Config narrows it.
var DefaultAgentKinds = []model.AgentKind{
	model.AgentSyntactic,
	model.AgentSemantic,
	model.AgentContextual,
	model.AgentArchitecture,
	model.AgentSecurity,
	model.AgentPerformance,
}

// DefaultWeights gives the three named lenses their spec-assigned weight;
// any kind outside this map (the "triangulated-other" bucket: architecture,
// security, performance) falls back to the shared 0.20 weight.
func DefaultWeights() map[model.AgentKind]float64 {
	return map[model.AgentKind]float64{
		model.AgentSyntactic:  0.25,
		model.AgentSemantic:   0.30,
		model.AgentContextual: 0.25,
	}
}

const otherAgentWeight = 0.20

func weightFor(weights map[model.AgentKind]float64, kind model.AgentKind) float64 {
	if w, ok := weights[kind]; ok {
		return w
	}
	return otherAgentWeight
}

// SubAgentAnalyzer is the consumed boundary a triangulation session calls
// into for each independent lens. A concrete LLM-backed implementation lives
// in internal/llmclient; tests supply a deterministic fake.
type SubAgentAnalyzer interface {
	Analyze(ctx context.Context, kind model.AgentKind, t Tuple) (verdictConfidence float64, reasoning string, err error)
}

// Config tunes the triangulation orchestrator.
type Config struct {
	AgentKinds  []model.AgentKind
	Weights     map[model.AgentKind]float64
	MaxRetries  int
	SessionTime time.Duration
}

// DefaultConfig mirrors spec §4.3.2's defaults.
func DefaultConfig() Config {
	return Config{
		AgentKinds:  DefaultAgentKinds,
		Weights:     DefaultWeights(),
		MaxRetries:  2,
		SessionTime: 2 * time.Minute,
	}
}

// Orchestrator runs the slow-path triangulation protocol for a single
// low-confidence relationship.
type Orchestrator struct {
	store    *store.Store
	analyzer SubAgentAnalyzer
	cfg      Config
}

// NewOrchestrator wires a store and analyzer into an Orchestrator.
func NewOrchestrator(s *store.Store, analyzer SubAgentAnalyzer, cfg Config) *Orchestrator {
	if len(cfg.AgentKinds) == 0 {
		cfg.AgentKinds = DefaultAgentKinds
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Orchestrator{store: s, analyzer: analyzer, cfg: cfg}
}

type vote struct {
	kind       model.AgentKind
	confidence float64
	reasoning  string
}

// Triangulate opens a session for rel, spawns the sub-agent panel, and
// drives it through OPEN -> RUNNING -> COMPLETED|FAILED, retrying with a
// reduced, outlier-trimmed panel when consensus is insufficient (spec
// §4.3.2 step 4, "requeue with a different strategy").
func (o *Orchestrator) Triangulate(ctx context.Context, rel model.Relationship, t Tuple) (model.TriangulationSession, error) {
	sess, err := o.store.OpenTriangulationSession(ctx, rel.ID)
	if err != nil {
		return sess, fmt.Errorf("confidence: open session: %w", err)
	}

	sess.Status = model.TriRunning
	sess.Strategy = "full-panel"
	if err := o.store.UpdateTriangulationSession(ctx, sess); err != nil {
		return sess, fmt.Errorf("confidence: mark running: %w", err)
	}

	votes, err := o.runPanel(ctx, sess.ID, t)
	if err != nil {
		return o.fail(ctx, sess, rel)
	}

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		finalConf, consensus := consensus(votes, o.cfg.Weights)
		if consensus >= ConsensusThreshold {
			return o.complete(ctx, sess, rel, finalConf, consensus)
		}
		if attempt == o.cfg.MaxRetries {
			break
		}
		votes = trimOutlier(votes)
		sess.Strategy = "outlier-trimmed"
	}

	return o.fail(ctx, sess, rel)
}

// runPanel spawns one goroutine per configured agent kind and collects every
// vote, or discards all of them if the session is cancelled mid-flight
// (spec §4.3.2: "cancellable at any sub-agent boundary; partial results
// discarded").
func (o *Orchestrator) runPanel(ctx context.Context, sessionID string, t Tuple) ([]vote, error) {
	sessCtx := ctx
	if o.cfg.SessionTime > 0 {
		var cancel context.CancelFunc
		sessCtx, cancel = context.WithTimeout(ctx, o.cfg.SessionTime)
		defer cancel()
	}

	eg, egCtx := errgroup.WithContext(sessCtx)
	var mu sync.Mutex
	votes := make([]vote, 0, len(o.cfg.AgentKinds))

	for _, kind := range o.cfg.AgentKinds {
		kind := kind
		eg.Go(func() error {
			conf, reasoning, err := o.analyzer.Analyze(egCtx, kind, t)
			if err != nil {
				return fmt.Errorf("sub-agent %s: %w", kind, err)
			}
			if _, err := o.store.InsertSubAgentAnalysis(ctx, model.SubAgentAnalysis{
				SessionID:         sessionID,
				AgentKind:         kind,
				VerdictConfidence: conf,
				Reasoning:         reasoning,
			}); err != nil {
				return fmt.Errorf("persist sub-agent %s analysis: %w", kind, err)
			}
			mu.Lock()
			votes = append(votes, vote{kind: kind, confidence: conf, reasoning: reasoning})
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return votes, nil
}

// consensus implements spec §4.3.2 steps 2-3: weighted mean and
// 1-minus-population-variance of the raw votes.
func consensus(votes []vote, weights map[model.AgentKind]float64) (finalConfidence, consensusScore float64) {
	if len(votes) == 0 {
		return 0, 0
	}
	var sumW, sumWV, mean float64
	for _, v := range votes {
		w := weightFor(weights, v.kind)
		sumW += w
		sumWV += w * v.confidence
		mean += v.confidence
	}
	mean /= float64(len(votes))
	if sumW > 0 {
		finalConfidence = sumWV / sumW
	}

	var variance float64
	for _, v := range votes {
		d := v.confidence - mean
		variance += d * d
	}
	variance /= float64(len(votes))
	consensusScore = 1 - variance
	if consensusScore < 0 {
		consensusScore = 0
	}
	return finalConfidence, consensusScore
}

// trimOutlier drops the vote furthest from the panel mean, the "different
// strategy" spec §4.3.2 step 4 calls for on a failed consensus retry.
func trimOutlier(votes []vote) []vote {
	if len(votes) <= 2 {
		return votes
	}
	var mean float64
	for _, v := range votes {
		mean += v.confidence
	}
	mean /= float64(len(votes))

	worst := 0
	worstDist := -1.0
	for i, v := range votes {
		d := math.Abs(v.confidence - mean)
		if d > worstDist {
			worstDist = d
			worst = i
		}
	}
	trimmed := make([]vote, 0, len(votes)-1)
	trimmed = append(trimmed, votes[:worst]...)
	trimmed = append(trimmed, votes[worst+1:]...)
	return trimmed
}

func (o *Orchestrator) complete(ctx context.Context, sess model.TriangulationSession, rel model.Relationship, finalConf, consensusScore float64) (model.TriangulationSession, error) {
	now := time.Now().UTC()
	sess.Status = model.TriCompleted
	sess.FinalConfidence = &finalConf
	sess.ConsensusScore = &consensusScore
	sess.ClosedAt = &now
	if err := o.store.UpdateTriangulationSession(ctx, sess); err != nil {
		return sess, fmt.Errorf("confidence: complete session: %w", err)
	}

	rel.Confidence = finalConf
	if err := o.store.UpdateRelationship(ctx, nil, rel); err != nil {
		return sess, fmt.Errorf("confidence: apply final confidence: %w", err)
	}
	return sess, nil
}

func (o *Orchestrator) fail(ctx context.Context, sess model.TriangulationSession, rel model.Relationship) (model.TriangulationSession, error) {
	now := time.Now().UTC()
	sess.Status = model.TriFailed
	sess.ClosedAt = &now
	if err := o.store.UpdateTriangulationSession(ctx, sess); err != nil {
		return sess, fmt.Errorf("confidence: fail session: %w", err)
	}

	rel.Status = model.StatusDiscarded
	if err := o.store.UpdateRelationship(ctx, nil, rel); err != nil {
		return sess, fmt.Errorf("confidence: discard relationship: %w", err)
	}

	taxErr := ctperrors.New("confidence", ctperrors.ConsensusFailure, rel.RunID, false,
		fmt.Errorf("relationship %s discarded: consensus not reached", rel.ID))
	logging.For(logging.ComponentTriangulation).Warn(taxErr.Error())
	return sess, nil
}
