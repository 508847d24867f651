// Package graphbuilder implements the data-integrity gate and batched
// bulk upsert of VALIDATED relationships (and their endpoint POIs) into the
// property graph (spec §4.5).
package graphbuilder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// GraphStore is the property-graph write boundary. Node upserts MERGE on
// semantic_id; relationship upserts MERGE on (source, type, target) — both
// must be commutative on replay (spec §4.5: "Upsert must be commutative on
// replay").
//
// No graph-database driver appears anywhere in the retrieval pack, so this
// boundary is implemented against sqlite the way the teacher's own
// knowledge-graph shard does (local_graph.go: INSERT OR REPLACE keyed on a
// natural key, guarded by one writer transaction per batch) rather than
// against an invented external graph service. A server backed by neo4j,
// dgraph, or similar slots in behind this same interface without touching
// the builder.
type GraphStore interface {
	EnsureIndexes(ctx context.Context) error
	BeginBatch(ctx context.Context) (GraphBatch, error)
}

// GraphBatch is one batched transaction: upsert calls accumulate, Commit
// applies them atomically, Rollback discards them.
type GraphBatch interface {
	UpsertNode(ctx context.Context, semanticID string, kind model.POIType, name string, props map[string]any) error
	UpsertRelationship(ctx context.Context, sourceSemanticID, targetSemanticID string, typ model.RelationshipType, confidence float64) error
	Commit() error
	Rollback() error
}

// SQLiteGraphStore is the in-pack fallback GraphStore: plain per-batch
// transactions against a sqlite-backed node/edge table pair (spec §4.5:
// "If the graph store offers a server-side batched-apply primitive, prefer
// it; else use plain per-batch transactions").
type SQLiteGraphStore struct {
	db *sql.DB
}

// OpenSQLiteGraphStore opens (creating if needed) the sqlite-backed graph
// store at path and applies its schema.
func OpenSQLiteGraphStore(path string) (*SQLiteGraphStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graphbuilder: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("graphbuilder: pragmas: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			semantic_id TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			name        TEXT NOT NULL,
			props       TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			source_semantic_id TEXT NOT NULL,
			type               TEXT NOT NULL,
			target_semantic_id TEXT NOT NULL,
			confidence         REAL NOT NULL,
			PRIMARY KEY (source_semantic_id, type, target_semantic_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("graphbuilder: schema: %w", err)
		}
	}

	return &SQLiteGraphStore{db: db}, nil
}

// Close releases the underlying sqlite handle.
func (g *SQLiteGraphStore) Close() error {
	return g.db.Close()
}

// EnsureIndexes creates the node index on semantic_id and the relationship
// index on type (spec §4.5: "Index creation is idempotent and non-fatal on
// already exists"). semantic_id is already the nodes primary key, so only
// the edge-type index needs an explicit statement.
func (g *SQLiteGraphStore) EnsureIndexes(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_graph_edges_type ON graph_edges(type)`)
	if err != nil {
		return fmt.Errorf("graphbuilder: ensure indexes: %w", err)
	}
	return nil
}

// BeginBatch opens one sqlite transaction backing a single graph batch.
func (g *SQLiteGraphStore) BeginBatch(ctx context.Context) (GraphBatch, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("graphbuilder: begin batch: %w", err)
	}
	return &sqliteBatch{tx: tx}, nil
}

type sqliteBatch struct {
	tx *sql.Tx
}

func (b *sqliteBatch) UpsertNode(ctx context.Context, semanticID string, kind model.POIType, name string, props map[string]any) error {
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("graphbuilder: marshal node props: %w", err)
	}
	_, err = b.tx.ExecContext(ctx,
		`INSERT INTO graph_nodes (semantic_id, kind, name, props) VALUES (?, ?, ?, ?)
		 ON CONFLICT(semantic_id) DO UPDATE SET kind = excluded.kind, name = excluded.name, props = excluded.props`,
		semanticID, string(kind), name, string(propsJSON))
	if err != nil {
		return fmt.Errorf("graphbuilder: upsert node: %w", err)
	}
	return nil
}

func (b *sqliteBatch) UpsertRelationship(ctx context.Context, sourceSemanticID, targetSemanticID string, typ model.RelationshipType, confidence float64) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT INTO graph_edges (source_semantic_id, type, target_semantic_id, confidence) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_semantic_id, type, target_semantic_id) DO UPDATE SET confidence = excluded.confidence`,
		sourceSemanticID, string(typ), targetSemanticID, confidence)
	if err != nil {
		return fmt.Errorf("graphbuilder: upsert relationship: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Commit() error   { return b.tx.Commit() }
func (b *sqliteBatch) Rollback() error { return b.tx.Rollback() }
