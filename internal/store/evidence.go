package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// InsertEvidence adds an immutable justification row for a relationship
// (spec: "Created by an analysis agent; immutable; many-to-one to
// relationship").
func (s *Store) InsertEvidence(ctx context.Context, tx *sql.Tx, ev model.Evidence) (model.Evidence, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.execer(tx).ExecContext(ctx,
		`INSERT INTO evidence (id, relationship_id, relationship_hash, run_id, from_name, to_name, type, confidence, reason, source_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RelationshipID, ev.RelationshipHash, ev.RunID, ev.From, ev.To,
		string(ev.Type), ev.Confidence, ev.Reason, ev.SourceMode, ev.CreatedAt)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("store: insert evidence: %w", err)
	}
	return ev, nil
}

// EvidenceForRelationship returns every evidence row for one relationship,
// oldest first (used by evidence collection, spec §4.4 stage 2).
func (s *Store) EvidenceForRelationship(ctx context.Context, relationshipID string) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, relationship_id, relationship_hash, run_id, from_name, to_name, type, confidence, reason, source_mode, created_at
		 FROM evidence WHERE relationship_id = ? ORDER BY created_at ASC`, relationshipID)
	if err != nil {
		return nil, fmt.Errorf("store: evidence for relationship: %w", err)
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var typ string
		if err := rows.Scan(&ev.ID, &ev.RelationshipID, &ev.RelationshipHash, &ev.RunID,
			&ev.From, &ev.To, &typ, &ev.Confidence, &ev.Reason, &ev.SourceMode, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = model.RelationshipType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEvidence reports how many evidence rows a relationship has (spec I3:
// "confidence > 0 has >= 1 evidence row").
func (s *Store) CountEvidence(ctx context.Context, relationshipID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence WHERE relationship_id = ?`, relationshipID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count evidence: %w", err)
	}
	return n, nil
}
