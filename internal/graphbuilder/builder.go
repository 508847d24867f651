package graphbuilder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/ctperrors"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/store"
)

// Config tunes the bulk-load batch size and per-batch timeout.
type Config struct {
	BatchSize      int
	BatchTimeout   time.Duration
}

// DefaultConfig matches spec §4.5: 10000-row streaming batches, 5-minute
// per-batch transaction timeout.
func DefaultConfig() Config {
	return Config{BatchSize: 10_000, BatchTimeout: 5 * time.Minute}
}

// ErrIntegrityViolation is returned when the integrity gate still reports
// orphaned VALIDATED relationships after one repair attempt. Carries a
// ctperrors.Integrity-tagged cause (spec §7: invariant breakage is fatal for
// the graph build that observed it).
type ErrIntegrityViolation struct {
	Counts store.IntegrityCounts
	Tax    *ctperrors.Error
}

func (e *ErrIntegrityViolation) Error() string { return e.Tax.Error() }

func (e *ErrIntegrityViolation) Unwrap() error { return e.Tax }

func newIntegrityViolation(runID string, counts store.IntegrityCounts) *ErrIntegrityViolation {
	cause := fmt.Errorf("integrity gate failed after repair: %d orphaned validated relationships remain", counts.OrphanedValidated)
	return &ErrIntegrityViolation{
		Counts: counts,
		Tax:    ctperrors.New("graphbuilder", ctperrors.Integrity, runID, false, cause),
	}
}

// Builder runs the integrity gate and batched bulk load for one run.
type Builder struct {
	store *store.Store
	graph GraphStore
	cfg   Config
	log   *zap.SugaredLogger
}

// New wires a relational store and a graph store into a Builder.
func New(s *store.Store, g GraphStore, cfg Config) *Builder {
	return &Builder{
		store: s,
		graph: g,
		cfg:   cfg,
		log:   logging.For(logging.ComponentGraphBuilder).Sugar(),
	}
}

// Build runs the full spec §4.5 sequence for one run: integrity gate, then
// the batched bulk load. Returns the number of relationships (and thus
// edges) written.
func (b *Builder) Build(ctx context.Context, runID string) (int, error) {
	if err := b.graph.EnsureIndexes(ctx); err != nil {
		return 0, fmt.Errorf("graphbuilder: ensure indexes: %w", err)
	}

	if err := b.RunIntegrityGate(ctx, runID); err != nil {
		return 0, err
	}

	return b.bulkLoad(ctx, runID)
}

// RunIntegrityGate counts invariant violations, attempts one automatic
// repair pass on invalid VALIDATED rows, then re-checks. Only orphaned
// VALIDATED relationships (I1) are fatal after repair; repair resets them
// to FAILED so a stubborn I1 violation after that means something else is
// still creating orphaned rows, which this gate cannot itself fix.
func (b *Builder) RunIntegrityGate(ctx context.Context, runID string) error {
	counts, err := b.store.CheckIntegrity(ctx, runID)
	if err != nil {
		return fmt.Errorf("graphbuilder: integrity check: %w", err)
	}
	if !counts.Violations() {
		return nil
	}

	b.log.Warnw("integrity violations detected, attempting repair",
		"run_id", runID,
		"orphaned_validated", counts.OrphanedValidated,
		"invalid_confidence", counts.InvalidConfidence,
		"missing_type", counts.MissingType,
		"empty_endpoint_names", counts.EmptyEndpointNames,
	)

	repaired, err := b.store.RepairInvalidValidated(ctx, runID)
	if err != nil {
		return fmt.Errorf("graphbuilder: repair: %w", err)
	}
	b.log.Infow("repaired invalid validated relationships", "run_id", runID, "repaired", repaired)

	counts, err = b.store.CheckIntegrity(ctx, runID)
	if err != nil {
		return fmt.Errorf("graphbuilder: integrity recheck: %w", err)
	}
	if counts.OrphanedValidated > 0 {
		return newIntegrityViolation(runID, counts)
	}
	return nil
}

// bulkLoad streams VALIDATED relationships in BatchSize pages, upserting
// both endpoint nodes and the relationship edge per row, one graph
// transaction per page (spec §4.5: "For each row produce two node-upsert
// operations ... and one relationship upsert").
func (b *Builder) bulkLoad(ctx context.Context, runID string) (int, error) {
	var total int
	afterID := ""

	for {
		rels, err := b.store.ValidatedRelationshipsBatch(ctx, runID, afterID, b.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("graphbuilder: stream batch: %w", err)
		}
		if len(rels) == 0 {
			break
		}

		if err := b.loadBatch(ctx, rels); err != nil {
			return total, err
		}

		total += len(rels)
		afterID = rels[len(rels)-1].ID
		b.log.Infow("graph batch loaded", "run_id", runID, "batch_size", len(rels), "total", total)

		if len(rels) < b.cfg.BatchSize {
			break
		}
	}

	return total, nil
}

func (b *Builder) loadBatch(ctx context.Context, rels []model.Relationship) error {
	batchCtx, cancel := context.WithTimeout(ctx, b.cfg.BatchTimeout)
	defer cancel()

	batch, err := b.graph.BeginBatch(batchCtx)
	if err != nil {
		return fmt.Errorf("graphbuilder: begin batch: %w", err)
	}

	for _, rel := range rels {
		source, err := b.store.GetPOI(batchCtx, rel.SourcePOIID)
		if err != nil {
			batch.Rollback()
			return fmt.Errorf("graphbuilder: source poi lookup: %w", err)
		}
		target, err := b.store.GetPOI(batchCtx, rel.TargetPOIID)
		if err != nil {
			batch.Rollback()
			return fmt.Errorf("graphbuilder: target poi lookup: %w", err)
		}
		if source == nil || target == nil {
			batch.Rollback()
			return fmt.Errorf("graphbuilder: relationship %s references a missing poi", rel.ID)
		}

		if err := batch.UpsertNode(batchCtx, source.SemanticID, source.Type, source.Name, poiProps(*source)); err != nil {
			batch.Rollback()
			return err
		}
		if err := batch.UpsertNode(batchCtx, target.SemanticID, target.Type, target.Name, poiProps(*target)); err != nil {
			batch.Rollback()
			return err
		}
		if err := batch.UpsertRelationship(batchCtx, source.SemanticID, target.SemanticID, rel.Type, rel.Confidence); err != nil {
			batch.Rollback()
			return err
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("graphbuilder: commit batch: %w", err)
	}
	return nil
}

func poiProps(poi model.POI) map[string]any {
	return map[string]any{
		"description": poi.Description,
		"start_line":  poi.StartLine,
		"end_line":    poi.EndLine,
	}
}
