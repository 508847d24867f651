package pipeline

import (
	"context"
	"fmt"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/confidence"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// lensBias mirrors the spread a real sub-agent panel would show across
// lenses for the same tuple: syntactic/semantic lean on the fast-path
// score itself, the rest nudge it per their analytical angle (spec
// §4.3.2's panel produces distinct, not identical, verdicts per lens).
var lensBias = map[model.AgentKind]float64{
	model.AgentSyntactic:    0.05,
	model.AgentSemantic:     0.0,
	model.AgentContextual:   -0.05,
	model.AgentArchitecture: -0.03,
	model.AgentSecurity:     -0.08,
	model.AgentPerformance:  -0.02,
}

// heuristicAnalyzer is the offline fallback confidence.SubAgentAnalyzer
// used when no Anthropic API key is configured: it derives a per-lens
// verdict deterministically from the same fast-path scorer the relational
// outbox uses, rather than calling out to an LLM. This keeps the pipeline
// runnable end to end without external dependencies while preserving the
// panel's multi-lens shape.
type heuristicAnalyzer struct{}

func (heuristicAnalyzer) Analyze(_ context.Context, kind model.AgentKind, t confidence.Tuple) (float64, string, error) {
	bias, ok := lensBias[kind]
	if !ok {
		return 0, "", fmt.Errorf("pipeline: unknown agent kind %q", kind)
	}
	score := confidence.Score(t) + bias
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, fmt.Sprintf("%s lens: heuristic score from reason %q", kind, t.Reason), nil
}
