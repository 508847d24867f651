package graphbuilder

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ctp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGraph(t *testing.T) *SQLiteGraphStore {
	t.Helper()
	g, err := OpenSQLiteGraphStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func seedValidatedRelationship(t *testing.T, s *store.Store) (runID string, rel model.Relationship) {
	t.Helper()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/src")
	require.NoError(t, err)
	runID = run.ID

	var source, target model.POI
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		source, err = s.UpsertPOI(ctx, tx, model.POI{
			ID: uuid.NewString(), RunID: runID, SemanticID: "fn:a", Name: "A", Type: model.POIFunction,
		})
		if err != nil {
			return err
		}
		target, err = s.UpsertPOI(ctx, tx, model.POI{
			ID: uuid.NewString(), RunID: runID, SemanticID: "fn:b", Name: "B", Type: model.POIFunction,
		})
		return err
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var created bool
		var err error
		rel, created, err = s.GetOrCreateRelationship(ctx, tx, runID, source.ID, target.ID, model.RelCalls)
		require.True(t, created)
		if err != nil {
			return err
		}
		rel.Confidence = 0.9
		rel.Status = model.StatusValidated
		return s.UpdateRelationship(ctx, tx, rel)
	}))
	return runID, rel
}

func TestRunIntegrityGate_NoViolationsIsNoop(t *testing.T) {
	s := newTestStore(t)
	g := newTestGraph(t)
	b := New(s, g, DefaultConfig())

	runID, _ := seedValidatedRelationship(t, s)

	require.NoError(t, b.RunIntegrityGate(context.Background(), runID))
}

func TestRunIntegrityGate_RepairsInvalidConfidence(t *testing.T) {
	s := newTestStore(t)
	g := newTestGraph(t)
	b := New(s, g, DefaultConfig())

	ctx := context.Background()
	runID, rel := seedValidatedRelationship(t, s)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		rel.Confidence = 0
		return s.UpdateRelationship(ctx, tx, rel)
	}))

	require.NoError(t, b.RunIntegrityGate(ctx, runID))

	got, err := s.GetRelationship(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestBuild_LoadsValidatedRelationshipIntoGraph(t *testing.T) {
	s := newTestStore(t)
	g := newTestGraph(t)
	b := New(s, g, DefaultConfig())

	runID, rel := seedValidatedRelationship(t, s)

	n, err := b.Build(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var nodeCount, edgeCount int
	require.NoError(t, g.db.QueryRow(`SELECT COUNT(*) FROM graph_nodes`).Scan(&nodeCount))
	require.NoError(t, g.db.QueryRow(`SELECT COUNT(*) FROM graph_edges WHERE type = ?`, string(rel.Type)).Scan(&edgeCount))
	assert.Equal(t, 2, nodeCount)
	assert.Equal(t, 1, edgeCount)
}

func TestBuild_IsIdempotentOnReplay(t *testing.T) {
	s := newTestStore(t)
	g := newTestGraph(t)
	b := New(s, g, DefaultConfig())

	runID, _ := seedValidatedRelationship(t, s)

	_, err := b.Build(context.Background(), runID)
	require.NoError(t, err)
	n, err := b.Build(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var nodeCount int
	require.NoError(t, g.db.QueryRow(`SELECT COUNT(*) FROM graph_nodes`).Scan(&nodeCount))
	assert.Equal(t, 2, nodeCount)
}

func TestEnsureIndexes_IsIdempotent(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.EnsureIndexes(context.Background()))
	require.NoError(t, g.EnsureIndexes(context.Background()))
}
