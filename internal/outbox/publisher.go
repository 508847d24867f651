// Package outbox implements the transactional outbox publisher: the sole
// serialization point that drains pending analysis findings from the
// relational store onto the queue bus with exactly-once hand-off (spec
// §4.2).
package outbox

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/confidence"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/queue"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

// priorityOrder is the drain order spec §4.2 requires: "POI batches first
// (downstream needs POIs before relationships), directory findings second,
// relationship findings last."
var priorityOrder = []model.OutboxKind{
	model.OutboxPOIBatch,
	model.OutboxDirectoryFinding,
	model.OutboxRelationshipFinding,
}

// targetQueue maps an outbox kind to the bus queue its enqueued job lands
// on, continuing the pipeline's next stage.
var targetQueue = map[model.OutboxKind]queue.Name{
	model.OutboxPOIBatch:            queue.DirectoryAggregation,
	model.OutboxDirectoryFinding:    queue.DirectoryResolution,
	model.OutboxRelationshipFinding: queue.RelationshipResolution,
}

// Config tunes the publisher's drain loop.
type Config struct {
	BatchSize    int // spec §4.2: "up to 100 events per batch"
	PollInterval time.Duration
}

// DefaultConfig mirrors spec §4.2's stated batch size.
func DefaultConfig() Config {
	return Config{BatchSize: 100, PollInterval: 500 * time.Millisecond}
}

// Publisher drains the relational store's outbox_events table onto the
// queue bus.
type Publisher struct {
	store *store.Store
	bus   *queue.Bus
	cfg   Config
	log   interface {
		Infow(string, ...interface{})
		Errorw(string, ...interface{})
	}

	stopCh chan struct{}
	doneCh chan struct{}
}

// New wires a store and bus into a Publisher.
func New(s *store.Store, bus *queue.Bus, cfg Config) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Publisher{
		store:  s,
		bus:    bus,
		cfg:    cfg,
		log:    logging.For(logging.ComponentOutbox).Sugar(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run polls and drains on Config.PollInterval until ctx is cancelled or Stop
// is called.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.DrainOnce(ctx); err != nil {
				p.log.Errorw("outbox drain failed", "error", err)
			}
		}
	}
}

// Stop requests Run to exit and waits for it to do so.
func (p *Publisher) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// pendingTriangulation records a freshly-created, low-confidence
// relationship so its triangulation session can be opened after the
// draining transaction that discovered it commits.
type pendingTriangulation struct {
	relationshipID string
}

// DrainOnce runs one full priority-ordered drain cycle: every kind is
// drained to empty (or until it stops returning full batches) before moving
// to the next, preserving the priority guarantee across a single call.
func (p *Publisher) DrainOnce(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range priorityOrder {
		for {
			n, err := p.drainBatch(ctx, kind)
			if err != nil {
				return total, err
			}
			total += n
			if n < p.cfg.BatchSize {
				break
			}
		}
	}
	return total, nil
}

// drainBatch processes up to Config.BatchSize unpublished events of one
// kind inside a single relational-store transaction: read -> transform ->
// enqueue -> mark published -> commit (spec §4.2). If any step fails the
// whole batch's transaction rolls back and every row in it stays
// unpublished, to be retried on the next call.
func (p *Publisher) drainBatch(ctx context.Context, kind model.OutboxKind) (int, error) {
	var processed int
	var pending []pendingTriangulation

	err := p.store.WithTx(ctx, func(tx *sql.Tx) error {
		events, err := p.store.PollUnpublished(ctx, tx, kind, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("outbox: poll %s: %w", kind, err)
		}
		for _, ev := range events {
			newPending, err := p.processEvent(ctx, tx, kind, ev)
			if err != nil {
				return fmt.Errorf("outbox: process %s event %d: %w", kind, ev.ID, err)
			}
			if err := p.store.MarkPublished(ctx, tx, ev.ID); err != nil {
				return fmt.Errorf("outbox: mark published %d: %w", ev.ID, err)
			}
			pending = append(pending, newPending...)
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, w := range pending {
		if _, err := p.store.OpenTriangulationSession(ctx, w.relationshipID); err != nil {
			p.log.Errorw("failed to open triangulation session", "relationship_id", w.relationshipID, "error", err)
		}
	}
	return processed, nil
}

func (p *Publisher) processEvent(ctx context.Context, tx *sql.Tx, kind model.OutboxKind, ev model.OutboxEvent) ([]pendingTriangulation, error) {
	switch kind {
	case model.OutboxPOIBatch:
		return nil, p.processPOIBatch(ctx, tx, ev)
	case model.OutboxDirectoryFinding:
		return nil, p.processDirectoryFinding(ctx, tx, ev)
	case model.OutboxRelationshipFinding:
		return p.processRelationshipFinding(ctx, tx, ev)
	default:
		return nil, fmt.Errorf("unknown outbox kind %q", kind)
	}
}

func (p *Publisher) processPOIBatch(ctx context.Context, tx *sql.Tx, ev model.OutboxEvent) error {
	var payload POIBatchPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode poi batch: %w", err)
	}
	for _, poi := range payload.POIs {
		poi.RunID = ev.RunID
		if _, err := p.store.UpsertPOI(ctx, tx, poi); err != nil {
			return fmt.Errorf("upsert poi %s: %w", poi.SemanticID, err)
		}
	}
	return p.enqueue(tx, model.OutboxPOIBatch, ev.RunID, ev.Payload, ev.DedupeKey)
}

func (p *Publisher) processDirectoryFinding(ctx context.Context, tx *sql.Tx, ev model.OutboxEvent) error {
	return p.enqueue(tx, model.OutboxDirectoryFinding, ev.RunID, ev.Payload, ev.DedupeKey)
}

func (p *Publisher) processRelationshipFinding(ctx context.Context, tx *sql.Tx, ev model.OutboxEvent) ([]pendingTriangulation, error) {
	var rf RelationshipFindingPayload
	if err := json.Unmarshal(ev.Payload, &rf); err != nil {
		return nil, fmt.Errorf("decode relationship finding: %w", err)
	}

	rel, created, err := p.store.GetOrCreateRelationship(ctx, tx, ev.RunID, rf.SourcePOIID, rf.TargetPOIID, rf.Type)
	if err != nil {
		return nil, fmt.Errorf("get or create relationship: %w", err)
	}

	evidenceHash := evidenceHash(rf.From, rf.To, rf.Type)
	var pending []pendingTriangulation
	if created {
		rel.EvidenceHash = evidenceHash
		rel.Reason = rf.Reason
		score := confidence.Score(confidence.Tuple{
			From: rf.From, To: rf.To, Type: rf.Type, Reason: rf.Reason, EvidenceItems: len(rf.EvidenceItems),
		})
		rel.Confidence = score
		if err := p.store.UpdateRelationship(ctx, tx, rel); err != nil {
			return nil, fmt.Errorf("update relationship after scoring: %w", err)
		}
		if score < confidence.LowThreshold {
			pending = append(pending, pendingTriangulation{relationshipID: rel.ID})
		}
	}

	if _, err := p.store.InsertEvidence(ctx, tx, model.Evidence{
		RelationshipID:   rel.ID,
		RelationshipHash: evidenceHash,
		RunID:            ev.RunID,
		From:             rf.From,
		To:               rf.To,
		Type:             rf.Type,
		Confidence:       rel.Confidence,
		Reason:           rf.Reason,
		SourceMode:       rf.SourceMode,
	}); err != nil {
		return nil, fmt.Errorf("insert evidence: %w", err)
	}

	if err := p.enqueue(tx, model.OutboxRelationshipFinding, ev.RunID, ev.Payload, ev.DedupeKey); err != nil {
		return nil, err
	}
	return pending, nil
}

// enqueue places a job on the queue mapped to kind. Enqueue failures
// propagate up to abort the whole batch transaction, per spec §4.2.
func (p *Publisher) enqueue(_ *sql.Tx, kind model.OutboxKind, runID string, payload []byte, dedupeKey string) error {
	q, ok := targetQueue[kind]
	if !ok {
		return fmt.Errorf("no target queue for outbox kind %q", kind)
	}
	if _, err := p.bus.Enqueue(runID, q, payload, dedupeKey); err != nil {
		return fmt.Errorf("enqueue onto %s: %w", q, err)
	}
	return nil
}

func evidenceHash(from, to string, typ model.RelationshipType) string {
	h := sha256.Sum256([]byte(from + "\x00" + to + "\x00" + string(typ)))
	return hex.EncodeToString(h[:])
}
