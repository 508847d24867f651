package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctp.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctp.db")
	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	result, err := s2.IntegrityCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestCreateRunAndFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	file, err := s.CreateFile(ctx, run.ID, "main.go", "hash1")
	require.NoError(t, err)
	assert.Equal(t, "main.go", file.Path)

	file2, err := s.CreateFile(ctx, run.ID, "main.go", "hash2")
	require.NoError(t, err)
	assert.Equal(t, file.ID, file2.ID, "re-walking an existing path must not create a duplicate row")
}

func TestUpsertPOI_IsIdempotentPerSemanticID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)
	file, err := s.CreateFile(ctx, run.ID, "main.go", "hash1")
	require.NoError(t, err)

	poi := model.POI{
		FileID:     file.ID,
		RunID:      run.ID,
		SemanticID: model.SemanticID(model.POIFunction, "main", "main.go", 10),
		Name:       "main",
		Type:       model.POIFunction,
		StartLine:  10,
		EndLine:    20,
	}
	first, err := s.UpsertPOI(ctx, nil, poi)
	require.NoError(t, err)

	poi.EndLine = 25
	second, err := s.UpsertPOI(ctx, nil, poi)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 25, second.EndLine)
}

func TestGetOrCreateRelationship_ReturnsSameRowOnSecondCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)

	rel1, created1, err := s.GetOrCreateRelationship(ctx, nil, run.ID, "poi-a", "poi-b", model.RelCalls)
	require.NoError(t, err)
	assert.True(t, created1)
	assert.Equal(t, model.StatusPending, rel1.Status)

	rel2, created2, err := s.GetOrCreateRelationship(ctx, nil, run.ID, "poi-a", "poi-b", model.RelCalls)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, rel1.ID, rel2.ID)
}

func TestEvidenceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)
	rel, _, err := s.GetOrCreateRelationship(ctx, nil, run.ID, "a", "b", model.RelCalls)
	require.NoError(t, err)

	_, err = s.InsertEvidence(ctx, nil, model.Evidence{
		RelationshipID: rel.ID, RunID: run.ID, From: "a", To: "b",
		Type: model.RelCalls, Confidence: 0.6, SourceMode: "batch",
	})
	require.NoError(t, err)

	n, err := s.CountEvidence(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTriangulationSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)
	rel, _, err := s.GetOrCreateRelationship(ctx, nil, run.ID, "a", "b", model.RelCalls)
	require.NoError(t, err)

	sess, err := s.OpenTriangulationSession(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TriOpen, sess.Status)

	final := 0.82
	consensus := 0.9
	sess.Status = model.TriCompleted
	sess.FinalConfidence = &final
	sess.ConsensusScore = &consensus
	require.NoError(t, s.UpdateTriangulationSession(ctx, sess))

	_, err = s.InsertSubAgentAnalysis(ctx, model.SubAgentAnalysis{
		SessionID: sess.ID, AgentKind: model.AgentSyntactic, VerdictConfidence: 0.8,
	})
	require.NoError(t, err)

	analyses, err := s.SubAgentAnalysesForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, analyses, 1)
}

func TestOutboxPollAndMarkPublished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)

	_, err = s.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxPOIBatch, Payload: []byte("{}"), RunID: run.ID, DedupeKey: "batch-1",
	})
	require.NoError(t, err)

	pending, err := s.PollUnpublished(ctx, nil, model.OutboxPOIBatch, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkPublished(ctx, nil, pending[0].ID))

	pending, err = s.PollUnpublished(ctx, nil, model.OutboxPOIBatch, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCheckIntegrity_DetectsOrphanedValidatedRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)

	rel, _, err := s.GetOrCreateRelationship(ctx, nil, run.ID, "missing-a", "missing-b", model.RelCalls)
	require.NoError(t, err)
	rel.Status = model.StatusValidated
	rel.Confidence = 0.9
	require.NoError(t, s.UpdateRelationship(ctx, nil, rel))

	counts, err := s.CheckIntegrity(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.OrphanedValidated)
	assert.True(t, counts.Violations())

	repaired, err := s.RepairInvalidValidated(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), repaired)

	counts, err = s.CheckIntegrity(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, counts.Violations())
}
