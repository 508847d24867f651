package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

func TestScore_BaseCase(t *testing.T) {
	got := Score(Tuple{Type: model.RelUses, Reason: "short", EvidenceItems: 1})
	assert.Equal(t, 0.5, got)
}

func TestScore_CallsBonusRequiresMatchingReason(t *testing.T) {
	withBonus := Score(Tuple{Type: model.RelCalls, Reason: "invokes helper", EvidenceItems: 1})
	withoutBonus := Score(Tuple{Type: model.RelCalls, Reason: "unrelated text", EvidenceItems: 1})
	assert.InDelta(t, 0.8, withBonus, 1e-9)
	assert.InDelta(t, 0.5, withoutBonus, 1e-9)
}

func TestScore_ImportsBonus(t *testing.T) {
	got := Score(Tuple{Type: model.RelImports, Reason: "require statement", EvidenceItems: 1})
	assert.InDelta(t, 0.8, got, 1e-9)
}

func TestScore_ReasonLengthAndMultiEvidenceBonusesStack(t *testing.T) {
	got := Score(Tuple{
		Type:          model.RelUses,
		Reason:        "this reason text is definitely longer than twenty characters",
		EvidenceItems: 3,
	})
	assert.InDelta(t, 0.7, got, 1e-9)
}

func TestScore_ClampsToUnitRange(t *testing.T) {
	got := Score(Tuple{
		Type:          model.RelCalls,
		Reason:        "invoke something with a very long call reasoning string here",
		EvidenceItems: 5,
	})
	assert.LessOrEqual(t, got, 1.0)
}

func TestScore_NeverBelowFloor(t *testing.T) {
	got := Score(Tuple{Type: model.RelUses, Reason: "", EvidenceItems: 0})
	assert.GreaterOrEqual(t, got, 0.1)
}

func TestLevelFor_MatchesScorerBuckets(t *testing.T) {
	assert.Equal(t, model.LevelHigh, model.LevelFor(0.9))
	assert.Equal(t, model.LevelMedium, model.LevelFor(0.65))
	assert.Equal(t, model.LevelLow, model.LevelFor(0.45))
	assert.Equal(t, model.LevelVeryLow, model.LevelFor(0.2))
}
