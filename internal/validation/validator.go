package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

const (
	cacheTTL      = 5 * time.Minute
	cacheCapacity = 10_000
	historyMax    = 1000
)

// AcceptThreshold / RejectThreshold / the escalation band between them
// implement spec §4.4's "Final decision" rule.
const (
	AcceptThreshold = 0.7
	RejectThreshold = 0.4
)

// Config toggles which of the five stages run — spec §4.4: "any may be
// disabled".
type Config struct {
	EnablePreValidation     bool
	EnableEvidenceCollection bool
	EnableCrossModeCompare  bool
	EnableConflictDetection bool
	EnableResolution        bool
}

// DefaultConfig enables every stage.
func DefaultConfig() Config {
	return Config{true, true, true, true, true}
}

// Validator runs the five-stage pipeline over a batch of candidates sharing
// a run, caching decisions and feeding a bounded learning history.
type Validator struct {
	store   *store.Store
	cfg     Config
	cache   *expirable.LRU[string, Verdict]
	history *History
}

// New wires a store into a Validator with spec-default cache/history bounds.
func New(s *store.Store, cfg Config) *Validator {
	return &Validator{
		store:   s,
		cfg:     cfg,
		cache:   expirable.NewLRU[string, Verdict](cacheCapacity, nil, cacheTTL),
		history: NewHistory(historyMax),
	}
}

// Validate runs every enabled stage over candidates and returns one Verdict
// per entity-pair group.
func (v *Validator) Validate(ctx context.Context, candidates []Candidate) ([]Verdict, error) {
	if v.cfg.EnablePreValidation {
		candidates = PreValidate(candidates)
	}

	if v.cfg.EnableEvidenceCollection {
		for i := range candidates {
			if _, err := CollectEvidence(ctx, v.store, candidates[i]); err != nil {
				return nil, fmt.Errorf("validation: collect evidence: %w", err)
			}
		}
	}

	if v.cfg.EnableCrossModeCompare {
		groups := GroupByMode(candidates)
		CrossModeComparison(groups) // computed for observability; stage 4 re-groups by entity below
	}

	entityGroups := GroupByEntity(candidates)
	verdicts := make([]Verdict, 0, len(entityGroups))

	for key, group := range entityGroups {
		if cached, ok := v.cache.Get(key); ok {
			verdicts = append(verdicts, cached)
			continue
		}

		var conflicts []Conflict
		if v.cfg.EnableConflictDetection {
			conflicts = DetectConflicts(group)
		}

		severity := OverallSeverity(conflicts)
		var resolution *Resolution
		if v.cfg.EnableResolution && len(group) > 0 {
			res := Resolve(group, conflicts, v.history)
			resolution = &res
			if len(conflicts) > 0 {
				dim := conflicts[0].Dimension
				v.history.record(dim, res)
			}
		}

		verdict := Verdict{
			EntityKey:  key,
			Decision:   decide(resolution, severity),
			Resolution: resolution,
			Conflicts:  conflicts,
			Severity:   severity,
		}
		v.cache.Add(key, verdict)
		verdicts = append(verdicts, verdict)
	}

	return verdicts, nil
}

// decide implements spec §4.4's final decision rule: ACCEPT if confidence
// >= 0.7 and no severe conflict; REJECT if confidence < 0.4; ESCALATE on
// severe unresolved conflicts or the 0.4-0.7 band with conflicts present.
func decide(resolution *Resolution, severity float64) Decision {
	if resolution == nil {
		return DecisionEscalate
	}
	conf := resolution.Confidence
	severeConflict := severity >= 0.7

	switch {
	case conf >= AcceptThreshold && !severeConflict:
		return DecisionAccept
	case conf < RejectThreshold:
		return DecisionReject
	default:
		return DecisionEscalate
	}
}
