package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/confidence"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestSubAgentAnalyzer_ParsesWellFormedVerdict(t *testing.T) {
	fc := &fakeClient{response: "CONFIDENCE: 0.82\nREASON: naming strongly implies a call relationship"}
	a := NewSubAgentAnalyzer(fc)

	conf, reason, err := a.Analyze(context.Background(), model.AgentSyntactic, confidence.Tuple{
		From: "main.Run", To: "worker.Process", Type: model.RelCalls, Reason: "main.Run calls worker.Process",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.82, conf, 1e-9)
	assert.Contains(t, reason, "naming")
}

func TestSubAgentAnalyzer_ClampsOutOfRangeConfidence(t *testing.T) {
	fc := &fakeClient{response: "CONFIDENCE: 1.4\nREASON: overconfident lens"}
	a := NewSubAgentAnalyzer(fc)

	conf, _, err := a.Analyze(context.Background(), model.AgentSemantic, confidence.Tuple{From: "a", To: "b", Type: model.RelUses})
	require.NoError(t, err)
	assert.Equal(t, 1.0, conf)
}

func TestSubAgentAnalyzer_UnknownKindErrors(t *testing.T) {
	fc := &fakeClient{response: "CONFIDENCE: 0.5\nREASON: n/a"}
	a := NewSubAgentAnalyzer(fc)

	_, _, err := a.Analyze(context.Background(), model.AgentKind("unknown"), confidence.Tuple{})
	assert.Error(t, err)
}

func TestSubAgentAnalyzer_MalformedResponseErrors(t *testing.T) {
	fc := &fakeClient{response: "I am not sure about this one."}
	a := NewSubAgentAnalyzer(fc)

	_, _, err := a.Analyze(context.Background(), model.AgentContextual, confidence.Tuple{From: "a", To: "b", Type: model.RelUses})
	assert.Error(t, err)
}

func TestSubAgentAnalyzer_PropagatesClientError(t *testing.T) {
	fc := &fakeClient{err: errors.New("boom")}
	a := NewSubAgentAnalyzer(fc)

	_, _, err := a.Analyze(context.Background(), model.AgentSecurity, confidence.Tuple{From: "a", To: "b", Type: model.RelUses})
	assert.Error(t, err)
}
