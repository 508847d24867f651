// Package validation implements the five-stage advanced validator and
// conflict resolver (spec §4.4): reconciling the same logical relationship
// observed under different analysis modes and resolving disagreements
// between them before a relationship is allowed to become VALIDATED.
package validation

import (
	"strings"
	"time"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// Scope is the breadth at which a relationship was observed.
type Scope string

const (
	ScopeFile      Scope = "file"
	ScopeModule    Scope = "module"
	ScopeCrossFile Scope = "cross-file"
	ScopeGlobal    Scope = "global"
	ScopeUnknown   Scope = "unknown"
)

// Candidate is one observation of a relationship awaiting validation.
type Candidate struct {
	RelationshipID string
	From           string
	To             string
	Type           model.RelationshipType
	Confidence     float64
	Reason         string
	Scope          Scope
	Mode           string // "batch" | "individual" | "triangulated"
	Priority       int
	Timestamp      time.Time
}

// semanticKey is the (from_lc, type_lc, to_lc) dedupe/grouping key spec
// §4.4 stage 1 and stage 3 both use.
func (c Candidate) semanticKey() string {
	return strings.ToLower(c.From) + "\x00" + strings.ToLower(string(c.Type)) + "\x00" + strings.ToLower(c.To)
}

// entityKey groups candidates by endpoint pair alone, ignoring type — the
// broader grouping conflict detection needs to catch a "same pair, different
// type" semantic conflict (spec §4.4 stage 4).
func (c Candidate) entityKey() string {
	return strings.ToLower(c.From) + "\x00" + strings.ToLower(c.To)
}

// EvidenceItem is one piece of evidence gathered for a candidate, from its
// own rows, an endpoint POI's description, or a sibling relationship (spec
// §4.4 stage 2).
type EvidenceItem struct {
	Type       string
	Content    string
	Confidence float64
	Timestamp  time.Time
}

// Dimension is one of the four conflict axes spec §4.4 stage 4 defines.
type Dimension string

const (
	DimensionSemantic   Dimension = "semantic"
	DimensionTemporal   Dimension = "temporal"
	DimensionScope      Dimension = "scope"
	DimensionConfidence Dimension = "confidence"
)

// Conflict is one detected disagreement between two candidates sharing an
// entity pair.
type Conflict struct {
	Dimension Dimension
	Severity  float64
	A, B      Candidate
}

// Strategy is one of the five resolution strategies spec §4.4 stage 5 names.
type Strategy string

const (
	StrategyConsensus        Strategy = "consensus"
	StrategyEvidenceBased    Strategy = "evidence_based"
	StrategyRecencyWeighted  Strategy = "recency_weighted"
	StrategyMachineLearning  Strategy = "machine_learning"
)

// Resolution records the outcome of resolving one conflict group.
type Resolution struct {
	Selected  Candidate
	Rejected  []Candidate
	Confidence float64
	Strategy  Strategy
	Reasoning string
}

// Decision is the validator's final verdict for a relationship group.
type Decision string

const (
	DecisionAccept   Decision = "ACCEPT"
	DecisionReject   Decision = "REJECT"
	DecisionEscalate Decision = "ESCALATE"
)

// Verdict is the end-to-end outcome for one entity-pair group.
type Verdict struct {
	EntityKey  string
	Decision   Decision
	Resolution *Resolution
	Conflicts  []Conflict
	Severity   float64
}
