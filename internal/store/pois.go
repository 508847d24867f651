package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// UpsertPOI inserts a POI or returns the existing row for the same
// (run_id, semantic_id) (spec: POI "unique per (run_id, semantic_id)").
func (s *Store) UpsertPOI(ctx context.Context, tx *sql.Tx, poi model.POI) (model.POI, error) {
	if poi.ID == "" {
		poi.ID = uuid.NewString()
	}
	exec := s.execer(tx)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO pois (id, file_id, run_id, semantic_id, name, type, start_line, end_line, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, semantic_id) DO UPDATE SET
		   description = excluded.description,
		   end_line = excluded.end_line`,
		poi.ID, poi.FileID, poi.RunID, poi.SemanticID, poi.Name, string(poi.Type),
		poi.StartLine, poi.EndLine, poi.Description)
	if err != nil {
		return model.POI{}, fmt.Errorf("store: upsert poi: %w", err)
	}

	row := s.queryRower(tx).QueryRowContext(ctx,
		`SELECT id, file_id, run_id, semantic_id, name, type, start_line, end_line, description
		 FROM pois WHERE run_id = ? AND semantic_id = ?`, poi.RunID, poi.SemanticID)
	return scanPOI(row)
}

// GetPOIByName resolves a POI by its (case-sensitive) name within a run,
// used to resolve the extractor's unresolved relationship tuples. When more
// than one POI shares a name (e.g. overloaded methods across files), the
// first match by insertion order wins — callers needing a specific file's
// POI should disambiguate upstream.
func (s *Store) GetPOIByName(ctx context.Context, runID, name string) (*model.POI, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_id, run_id, semantic_id, name, type, start_line, end_line, description
		 FROM pois WHERE run_id = ? AND name = ? LIMIT 1`, runID, name)
	poi, err := scanPOI(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &poi, nil
}

// GetPOI fetches a POI by id.
func (s *Store) GetPOI(ctx context.Context, id string) (*model.POI, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_id, run_id, semantic_id, name, type, start_line, end_line, description
		 FROM pois WHERE id = ?`, id)
	poi, err := scanPOI(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &poi, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPOI(row rowScanner) (model.POI, error) {
	var poi model.POI
	var typ string
	err := row.Scan(&poi.ID, &poi.FileID, &poi.RunID, &poi.SemanticID, &poi.Name, &typ,
		&poi.StartLine, &poi.EndLine, &poi.Description)
	poi.Type = model.POIType(typ)
	return poi, err
}

// execer/queryRower let the same statement run either against the pooled
// *sql.DB or an in-flight *sql.Tx, so callers inside WithTx and callers
// outside it share one code path.
func (s *Store) execer(tx *sql.Tx) interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) queryRower(tx *sql.Tx) interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
} {
	if tx != nil {
		return tx
	}
	return s.db
}
