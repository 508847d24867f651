package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// InsertOutboxEvent writes a durable hand-off row. Safe to call inside a
// producer's own transaction (tx non-nil) so the analysis write and its
// outbox row commit atomically.
func (s *Store) InsertOutboxEvent(ctx context.Context, tx *sql.Tx, ev model.OutboxEvent) (model.OutboxEvent, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := s.execer(tx).ExecContext(ctx,
		`INSERT INTO outbox_events (kind, payload, run_id, dedupe_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.Payload, ev.RunID, ev.DedupeKey, ev.CreatedAt)
	if err != nil {
		return model.OutboxEvent{}, fmt.Errorf("store: insert outbox event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.OutboxEvent{}, fmt.Errorf("store: outbox last insert id: %w", err)
	}
	ev.ID = id
	return ev, nil
}

// PollUnpublished returns up to limit unpublished rows of one kind, oldest
// first (spec §4.2's per-kind priority drain order is applied by the
// caller issuing one PollUnpublished call per kind, in priority order).
func (s *Store) PollUnpublished(ctx context.Context, tx *sql.Tx, kind model.OutboxKind, limit int) ([]model.OutboxEvent, error) {
	rows, err := s.queryer(tx).QueryContext(ctx,
		`SELECT id, kind, payload, run_id, dedupe_key, created_at, published_at
		 FROM outbox_events WHERE kind = ? AND published_at IS NULL
		 ORDER BY created_at ASC, id ASC LIMIT ?`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("store: poll unpublished: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		var k string
		var publishedAt sql.NullTime
		if err := rows.Scan(&ev.ID, &k, &ev.Payload, &ev.RunID, &ev.DedupeKey, &ev.CreatedAt, &publishedAt); err != nil {
			return nil, err
		}
		ev.Kind = model.OutboxKind(k)
		if publishedAt.Valid {
			ev.PublishedAt = &publishedAt.Time
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkPublished stamps published_at, completing the exactly-once hand-off
// (spec I7: "marked published_at only after bus acknowledgement"). Must be
// called within the same transaction as the bus enqueue it follows.
func (s *Store) MarkPublished(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := s.execer(tx).ExecContext(ctx,
		`UPDATE outbox_events SET published_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: mark published: %w", err)
	}
	return nil
}

func (s *Store) queryer(tx *sql.Tx) interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
} {
	if tx != nil {
		return tx
	}
	return s.db
}
