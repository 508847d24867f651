package llmclient

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/confidence"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// lensInstructions gives each of the six sub-agent kinds (spec §4.3.2) a
// distinct analytical angle on the same relationship tuple.
var lensInstructions = map[model.AgentKind]string{
	model.AgentSyntactic:   "Judge whether the code syntax alone (naming, call shape, import statement) supports this relationship.",
	model.AgentSemantic:    "Judge whether the relationship is semantically coherent given the reason and entity names, independent of syntax.",
	model.AgentContextual:  "Judge whether the surrounding file/module context makes this relationship plausible.",
	model.AgentArchitecture: "Judge whether this relationship is consistent with typical software architecture layering (e.g. no obvious layering violation).",
	model.AgentSecurity:    "Judge whether this relationship has any security-relevant implication that should lower or raise confidence.",
	model.AgentPerformance: "Judge whether this relationship is the kind that would appear on a hot path, and whether that affects how confidently it can be asserted from static evidence alone.",
}

const subAgentSystemPrompt = "You are one lens in a multi-agent code relationship triangulation panel. " +
	"Respond with exactly two lines: `CONFIDENCE: <a number between 0 and 1>` then `REASON: <one sentence>`. " +
	"Do not add any other text."

var verdictRe = regexp.MustCompile(`(?i)CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*\n\s*REASON:\s*(.+)`)

// SubAgentAnalyzer adapts a Client into confidence.SubAgentAnalyzer (spec
// §4.3.2: "up to 6 parallel sub-agents ... each independently emits
// (verdict_confidence, reasoning)").
type SubAgentAnalyzer struct {
	client Client
}

// NewSubAgentAnalyzer wires a Client (typically a Retrying-wrapped
// AnthropicClient) into the triangulation orchestrator's analyzer boundary.
func NewSubAgentAnalyzer(client Client) *SubAgentAnalyzer {
	return &SubAgentAnalyzer{client: client}
}

// Analyze implements confidence.SubAgentAnalyzer.
func (a *SubAgentAnalyzer) Analyze(ctx context.Context, kind model.AgentKind, t confidence.Tuple) (float64, string, error) {
	lens, ok := lensInstructions[kind]
	if !ok {
		return 0, "", fmt.Errorf("llmclient: unknown agent kind %q", kind)
	}

	userPrompt := fmt.Sprintf(
		"Relationship: %s --[%s]--> %s\nStated reason: %q\nEvidence item count: %d\n\n%s",
		t.From, t.Type, t.To, t.Reason, t.EvidenceItems, lens,
	)

	text, err := a.client.Complete(ctx, subAgentSystemPrompt, userPrompt)
	if err != nil {
		return 0, "", fmt.Errorf("llmclient: sub-agent analyze: %w", err)
	}

	return parseVerdict(text)
}

func parseVerdict(text string) (float64, string, error) {
	match := verdictRe.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return 0, "", fmt.Errorf("llmclient: could not parse verdict from response: %q", text)
	}
	confVal, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("llmclient: invalid confidence value %q: %w", match[1], err)
	}
	if confVal < 0 {
		confVal = 0
	}
	if confVal > 1 {
		confVal = 1
	}
	return confVal, strings.TrimSpace(match[2]), nil
}
