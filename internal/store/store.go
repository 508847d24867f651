// Package store implements the relational substrate of the pipeline: runs,
// files, POIs, relationships, evidence, triangulation sessions, sub-agent
// analyses, and the transactional outbox, on modernc.org/sqlite (pure Go,
// no cgo — the same driver the teacher's internal/store package depends on).
// Grounded on internal/store/local_core.go (PRAGMA tuning, single-writer
// connection pool shape) and internal/store/migrations.go (embedded schema
// applied on open); unlike the teacher, which hand-rolls a numbered
// migration runner, this package applies one embedded schema file
// idempotently (`CREATE TABLE IF NOT EXISTS`) since the pipeline owns a
// single fixed schema version, not an evolving one.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the single-writer SQLite connection backing one pipeline run.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; modernc.org/sqlite has no internal write mutex
}

// Open creates (or attaches to) the SQLite database at path and applies the
// embedded schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.For(logging.ComponentStore).Warn("pragma failed", logging.QueueField(pragma))
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("store: read %s: %w", e.Name(), err)
		}
		if _, err := s.db.Exec(string(raw)); err != nil {
			return fmt.Errorf("store: apply %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for the integrity gate's ad-hoc queries and for
// tests.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic (spec §4.2's "read -> transform -> enqueue -> mark
// published -> commit" unit of work).
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.For(logging.ComponentStore).Warn("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// IntegrityCheck runs SQLite's self-test (spec §6: "integrity_check-
// equivalent self-test").
func (s *Store) IntegrityCheck(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, "PRAGMA integrity_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return "", fmt.Errorf("store: integrity_check: %w", err)
	}
	return result, nil
}
