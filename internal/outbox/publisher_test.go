package outbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/queue"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ctp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBus(t *testing.T) *queue.Bus {
	t.Helper()
	b := queue.New(1, 4, 4, queue.DefaultRetryPolicy(3))
	t.Cleanup(b.Stop)
	return b
}

func TestDrainOnce_POIBatchUpsertsAndEnqueues(t *testing.T) {
	s := newTestStore(t)
	bus := newTestBus(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)
	file, err := s.CreateFile(ctx, run.ID, "main.go", "hash1")
	require.NoError(t, err)

	payload, err := json.Marshal(POIBatchPayload{
		FileID: file.ID,
		POIs: []model.POI{{
			FileID:     file.ID,
			SemanticID: model.SemanticID(model.POIFunction, "main", "main.go", 1),
			Name:       "main",
			Type:       model.POIFunction,
			StartLine:  1,
			EndLine:    5,
		}},
	})
	require.NoError(t, err)

	_, err = s.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxPOIBatch, Payload: payload, RunID: run.ID, DedupeKey: "batch-1",
	})
	require.NoError(t, err)

	pub := New(s, bus, DefaultConfig())
	n, err := pub.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	poi, err := s.GetPOIByName(ctx, run.ID, "main")
	require.NoError(t, err)
	require.NotNil(t, poi)

	stats, err := bus.Stats(queue.DirectoryAggregation)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestDrainOnce_RelationshipFindingCreatesScoredRelationship(t *testing.T) {
	s := newTestStore(t)
	bus := newTestBus(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)

	payload, err := json.Marshal(RelationshipFindingPayload{
		SourcePOIID: "poi-a", TargetPOIID: "poi-b",
		From: "a", To: "b", Type: model.RelCalls,
		Reason: "function a invokes function b directly in source",
		EvidenceItems: []string{"line 10", "line 20"},
		SourceMode:    "batch",
	})
	require.NoError(t, err)

	_, err = s.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxRelationshipFinding, Payload: payload, RunID: run.ID, DedupeKey: "rel-1",
	})
	require.NoError(t, err)

	pub := New(s, bus, DefaultConfig())
	n, err := pub.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rels, err := s.ListByStatus(ctx, run.ID, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Greater(t, rels[0].Confidence, 0.7)

	count, err := s.CountEvidence(ctx, rels[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stats, err := bus.Stats(queue.RelationshipResolution)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestDrainOnce_BaselineScoreStaysAboveLowThreshold(t *testing.T) {
	// The scorer's base of 0.5 is never reduced, only raised by bonuses, so a
	// plain finding with no bonus-eligible reason lands at exactly 0.5 — in
	// the LOW confidence bucket but still above the §4.3.2 triangulation
	// threshold (0.4). No session should open for it.
	s := newTestStore(t)
	bus := newTestBus(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)

	payload, err := json.Marshal(RelationshipFindingPayload{
		SourcePOIID: "poi-a", TargetPOIID: "poi-b",
		From: "a", To: "b", Type: model.RelUses,
		Reason:        "short",
		EvidenceItems: nil,
		SourceMode:    "individual",
	})
	require.NoError(t, err)

	_, err = s.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxRelationshipFinding, Payload: payload, RunID: run.ID, DedupeKey: "rel-2",
	})
	require.NoError(t, err)

	pub := New(s, bus, DefaultConfig())
	_, err = pub.DrainOnce(ctx)
	require.NoError(t, err)

	rels, err := s.ListByStatus(ctx, run.ID, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 0.5, rels[0].Confidence)
	assert.Equal(t, model.LevelLow, model.LevelFor(rels[0].Confidence))

	var sessions int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM triangulation_sessions WHERE relationship_id = ?`, rels[0].ID).Scan(&sessions))
	assert.Zero(t, sessions)
}

func TestDrainOnce_DrainsEveryKindInOnePass(t *testing.T) {
	s := newTestStore(t)
	bus := newTestBus(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)

	relPayload, _ := json.Marshal(RelationshipFindingPayload{From: "a", To: "b", Type: model.RelUses})
	_, err = s.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxRelationshipFinding, Payload: relPayload, RunID: run.ID,
	})
	require.NoError(t, err)

	dirPayload, _ := json.Marshal(DirectoryFindingPayload{Directory: "pkg/foo"})
	_, err = s.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxDirectoryFinding, Payload: dirPayload, RunID: run.ID,
	})
	require.NoError(t, err)

	pub := New(s, bus, DefaultConfig())
	n, err := pub.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dirStats, err := bus.Stats(queue.DirectoryResolution)
	require.NoError(t, err)
	assert.Equal(t, 1, dirStats.Waiting)

	relStats, err := bus.Stats(queue.RelationshipResolution)
	require.NoError(t, err)
	assert.Equal(t, 1, relStats.Waiting)
}
