package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// GetOrCreateRelationship finds the PENDING-or-later relationship between
// source and target of the given type, or creates one PENDING with
// confidence 0 (spec §4.2: "if the relationship row does not yet exist,
// create it PENDING with confidence = 0").
func (s *Store) GetOrCreateRelationship(ctx context.Context, tx *sql.Tx, runID, sourcePOIID, targetPOIID string, typ model.RelationshipType) (model.Relationship, bool, error) {
	row := s.queryRower(tx).QueryRowContext(ctx,
		`SELECT id, run_id, source_poi_id, target_poi_id, type, confidence, status, reason, evidence_hash
		 FROM relationships WHERE run_id = ? AND source_poi_id = ? AND target_poi_id = ? AND type = ?`,
		runID, sourcePOIID, targetPOIID, string(typ))
	rel, err := scanRelationship(row)
	if err == nil {
		return rel, false, nil
	}
	if err != sql.ErrNoRows {
		return model.Relationship{}, false, fmt.Errorf("store: lookup relationship: %w", err)
	}

	rel = model.Relationship{
		ID:          uuid.NewString(),
		RunID:       runID,
		SourcePOIID: sourcePOIID,
		TargetPOIID: targetPOIID,
		Type:        typ,
		Confidence:  0,
		Status:      model.StatusPending,
	}
	_, err = s.execer(tx).ExecContext(ctx,
		`INSERT INTO relationships (id, run_id, source_poi_id, target_poi_id, type, confidence, status, reason, evidence_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.RunID, rel.SourcePOIID, rel.TargetPOIID, string(rel.Type), rel.Confidence,
		string(rel.Status), rel.Reason, rel.EvidenceHash)
	if err != nil {
		return model.Relationship{}, false, fmt.Errorf("store: create relationship: %w", err)
	}
	return rel, true, nil
}

// UpdateRelationship persists a relationship's mutable fields (confidence,
// status, reason, evidence_hash).
func (s *Store) UpdateRelationship(ctx context.Context, tx *sql.Tx, rel model.Relationship) error {
	_, err := s.execer(tx).ExecContext(ctx,
		`UPDATE relationships SET confidence = ?, status = ?, reason = ?, evidence_hash = ? WHERE id = ?`,
		rel.Confidence, string(rel.Status), rel.Reason, rel.EvidenceHash, rel.ID)
	if err != nil {
		return fmt.Errorf("store: update relationship: %w", err)
	}
	return nil
}

// GetRelationship fetches a relationship by id.
func (s *Store) GetRelationship(ctx context.Context, id string) (*model.Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, source_poi_id, target_poi_id, type, confidence, status, reason, evidence_hash
		 FROM relationships WHERE id = ?`, id)
	rel, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// ListByStatus returns every relationship in a run with the given status.
func (s *Store) ListByStatus(ctx context.Context, runID string, status model.RelationshipStatus) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_poi_id, target_poi_id, type, confidence, status, reason, evidence_hash
		 FROM relationships WHERE run_id = ? AND status = ?`, runID, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list by status: %w", err)
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// SiblingRelationships returns every relationship in the run that shares an
// endpoint with poiID, excluding the relationship identified by excludeID
// (used by validation's evidence collection, spec §4.4 stage 2c: "sibling
// relationships on shared endpoints").
func (s *Store) SiblingRelationships(ctx context.Context, runID, poiID, excludeID string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_poi_id, target_poi_id, type, confidence, status, reason, evidence_hash
		 FROM relationships
		 WHERE run_id = ? AND id != ? AND (source_poi_id = ? OR target_poi_id = ?)`,
		runID, excludeID, poiID, poiID)
	if err != nil {
		return nil, fmt.Errorf("store: sibling relationships: %w", err)
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// ValidatedRelationshipsBatch streams VALIDATED relationships in a run in
// id order, keyset-paginated from afterID (empty for the first page),
// for the graph builder's batched bulk load (spec §4.5: "stream in batches
// of 10000").
func (s *Store) ValidatedRelationshipsBatch(ctx context.Context, runID, afterID string, limit int) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_poi_id, target_poi_id, type, confidence, status, reason, evidence_hash
		 FROM relationships
		 WHERE run_id = ? AND status = 'VALIDATED' AND id > ?
		 ORDER BY id LIMIT ?`,
		runID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: validated relationships batch: %w", err)
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func scanRelationship(row rowScanner) (model.Relationship, error) {
	var rel model.Relationship
	var typ, status string
	err := row.Scan(&rel.ID, &rel.RunID, &rel.SourcePOIID, &rel.TargetPOIID, &typ,
		&rel.Confidence, &status, &rel.Reason, &rel.EvidenceHash)
	rel.Type = model.RelationshipType(typ)
	rel.Status = model.RelationshipStatus(status)
	return rel, err
}
