// Package confidence implements the fast-path deterministic scorer and the
// slow-path triangulation orchestrator that escalates low-confidence
// relationships to a panel of sub-agents for consensus.
package confidence

import (
	"regexp"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// Tuple is the scorer's input: an unresolved relationship observation.
type Tuple struct {
	From          string
	To            string
	Type          model.RelationshipType
	Reason        string
	EvidenceItems int
}

var (
	callsReasonRe   = regexp.MustCompile(`(?i)call|invoke`)
	importsReasonRe = regexp.MustCompile(`(?i)import|require`)
)

// LowThreshold is the confidence below which a relationship is escalated to
// triangulation (spec §4.3.2: "Triggered when confidence < LOW threshold").
const LowThreshold = 0.4

// Score computes the deterministic fast-path confidence for one relationship
// tuple (spec §4.3.1). No I/O; pure function of its inputs.
func Score(t Tuple) float64 {
	score := 0.5
	switch {
	case t.Type == model.RelCalls && callsReasonRe.MatchString(t.Reason):
		score += 0.3
	case t.Type == model.RelImports && importsReasonRe.MatchString(t.Reason):
		score += 0.3
	}
	if len(t.Reason) > 20 {
		score += 0.1
	}
	if t.EvidenceItems > 1 {
		score += 0.1
	}
	if score < 0.1 {
		score = 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
