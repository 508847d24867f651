package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// CreateRun inserts a new Run row and returns it with a generated id.
func (s *Store) CreateRun(ctx context.Context, targetRoot string) (*model.Run, error) {
	run := &model.Run{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		TargetRoot: targetRoot,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, target_root) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.TargetRoot)
	if err != nil {
		return nil, fmt.Errorf("store: create run: %w", err)
	}
	return run, nil
}

// SealRun marks a run complete (graph build finished or aborted).
func (s *Store) SealRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET sealed_at = ? WHERE id = ?`, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("store: seal run: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, target_root, sealed_at FROM runs WHERE id = ?`, runID)
	var run model.Run
	var sealedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.StartedAt, &run.TargetRoot, &sealedAt); err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	if sealedAt.Valid {
		run.SealedAt = &sealedAt.Time
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first, for `ctp status`.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, target_root, sealed_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		var sealedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.TargetRoot, &sealedAt); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		if sealedAt.Valid {
			run.SealedAt = &sealedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateFile records a walker-emitted file under a run. Idempotent on
// (run_id, path): a re-walk of an unchanged file returns the existing row.
func (s *Store) CreateFile(ctx context.Context, runID, path, contentHash string) (*model.File, error) {
	file := &model.File{ID: uuid.NewString(), RunID: runID, Path: path, ContentHash: contentHash}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, run_id, path, content_hash) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, path) DO UPDATE SET content_hash = excluded.content_hash`,
		file.ID, file.RunID, file.Path, file.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("store: create file: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM files WHERE run_id = ? AND path = ?`, runID, path)
	if err := row.Scan(&file.ID); err != nil {
		return nil, fmt.Errorf("store: resolve file id: %w", err)
	}
	return file, nil
}
