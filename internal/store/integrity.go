package store

import (
	"context"
	"fmt"
)

// IntegrityCounts tallies the violation classes the integrity gate checks
// before any graph write (spec §4.5 / invariants I1, I2, I6).
type IntegrityCounts struct {
	OrphanedValidated  int // I1: VALIDATED relationship whose endpoints aren't in this run
	InvalidConfidence  int // I2: confidence outside [0,1], or VALIDATED with confidence == 0
	MissingType        int // relationship with an empty type
	EmptyEndpointNames int // I6: VALIDATED relationship referencing a poi with empty name/type
}

// Violations reports whether any invariant was broken.
func (c IntegrityCounts) Violations() bool {
	return c.OrphanedValidated > 0 || c.InvalidConfidence > 0 || c.MissingType > 0 || c.EmptyEndpointNames > 0
}

// CheckIntegrity computes IntegrityCounts for one run.
func (s *Store) CheckIntegrity(ctx context.Context, runID string) (IntegrityCounts, error) {
	var c IntegrityCounts

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships r
		WHERE r.run_id = ? AND r.status = 'VALIDATED'
		AND (
			NOT EXISTS (SELECT 1 FROM pois p WHERE p.id = r.source_poi_id AND p.run_id = r.run_id)
			OR NOT EXISTS (SELECT 1 FROM pois p WHERE p.id = r.target_poi_id AND p.run_id = r.run_id)
		)`, runID)
	if err := row.Scan(&c.OrphanedValidated); err != nil {
		return c, fmt.Errorf("store: orphaned validated count: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships
		WHERE run_id = ? AND (
			confidence < 0 OR confidence > 1
			OR (status = 'VALIDATED' AND confidence <= 0)
		)`, runID)
	if err := row.Scan(&c.InvalidConfidence); err != nil {
		return c, fmt.Errorf("store: invalid confidence count: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships WHERE run_id = ? AND (type IS NULL OR type = '')`, runID)
	if err := row.Scan(&c.MissingType); err != nil {
		return c, fmt.Errorf("store: missing type count: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships r
		WHERE r.run_id = ? AND r.status = 'VALIDATED'
		AND EXISTS (
			SELECT 1 FROM pois p
			WHERE p.run_id = r.run_id AND p.id IN (r.source_poi_id, r.target_poi_id)
			AND (p.name = '' OR p.type = '')
		)`, runID)
	if err := row.Scan(&c.EmptyEndpointNames); err != nil {
		return c, fmt.Errorf("store: empty endpoint names count: %w", err)
	}

	return c, nil
}

// RepairInvalidValidated resets invalid VALIDATED rows to FAILED with
// confidence 0 (spec §4.5: "attempt automatic repair once: invalid
// VALIDATED rows are reset to FAILED with confidence 0"). Returns the
// number of rows repaired.
func (s *Store) RepairInvalidValidated(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships
		SET status = 'FAILED', confidence = 0
		WHERE run_id = ? AND status = 'VALIDATED'
		AND (
			confidence <= 0 OR confidence > 1
			OR type IS NULL OR type = ''
			OR NOT EXISTS (SELECT 1 FROM pois p WHERE p.id = source_poi_id AND p.run_id = relationships.run_id)
			OR NOT EXISTS (SELECT 1 FROM pois p WHERE p.id = target_poi_id AND p.run_id = relationships.run_id)
			OR EXISTS (
				SELECT 1 FROM pois p
				WHERE p.run_id = relationships.run_id AND p.id IN (source_poi_id, target_poi_id)
				AND (p.name = '' OR p.type = '')
			)
		)`, runID)
	if err != nil {
		return 0, fmt.Errorf("store: repair invalid validated: %w", err)
	}
	return res.RowsAffected()
}
