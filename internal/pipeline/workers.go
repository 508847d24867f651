package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/confidence"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/extract"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/metrics"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/outbox"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/queue"
	"github.com/ctp/cognitive-triangulation-pipeline/internal/validation"
)

// filePOIBatchPayload is the outbox.POIBatchPayload shape extended with the
// raw, unresolved relationship hints extraction produced for the same
// file. outbox.Publisher only reads the fields it knows about (file_id,
// pois) when it drains an OutboxPOIBatch event, so the extra field here is
// invisible to it; the directory-aggregation worker below reads the same
// bytes back out to recover the raw relationships for cross-file name
// resolution (spec §4.2's POI-batch-before-relationship priority order).
type filePOIBatchPayload struct {
	FileID           string                    `json:"file_id"`
	POIs             []model.POI               `json:"pois"`
	RawRelationships []extract.RawRelationship `json:"raw_relationships"`
}

// startWorkers launches Config.WorkersPerQueue goroutines per consumer
// queue. Each loop Reserves, processes, Acks/Fails, until ctx is cancelled
// or the bus stops.
func (p *Pipeline) startWorkers(ctx context.Context) {
	starters := map[queue.Name]func(context.Context, *queue.Job) error{
		queue.FileAnalysis:           p.processFileAnalysis,
		queue.DirectoryAggregation:   p.processDirectoryAggregation,
		queue.DirectoryResolution:    p.processDirectoryResolution,
		queue.RelationshipResolution: p.processRelationshipResolution,
		queue.GlobalResolution:       p.processGlobalResolution,
		queue.RelationshipValidated:  p.processRelationshipValidated,
		queue.AnalysisFindings:       p.processAnalysisFinding,
		queue.FailedJobs:             p.processFailedJob,
		queue.Reconciliation:         p.processReconciliation,
	}

	for name, handler := range starters {
		for i := 0; i < p.cfg.WorkersPerQueue; i++ {
			p.workersWG.Add(1)
			go p.runWorkerLoop(ctx, name, handler)
		}
	}
}

// runWorkerLoop is the generic Reserve -> handle -> Ack|Fail cycle every
// queue consumer shares.
func (p *Pipeline) runWorkerLoop(ctx context.Context, name queue.Name, handle func(context.Context, *queue.Job) error) {
	defer p.workersWG.Done()
	for {
		job, err := p.bus.Reserve(ctx, name, "pipeline-worker", p.cfg.PoolConfig.MaxJobTime)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrBusStopped) {
				return
			}
			continue
		}

		if err := handle(ctx, job); err != nil {
			p.log.Errorw("job failed", "queue", string(name), "job_id", job.ID, "error", err)
			_ = p.bus.Fail(job.ID, err.Error())
			continue
		}
		_ = p.bus.Ack(job.ID)
	}
}

type filePathPayload struct {
	Path string `json:"path"`
}

// processFileAnalysis extracts POIs and unresolved relationship hints from
// one file and durably hands them off through an OutboxPOIBatch event
// (spec §4.2: "the sole serialization point").
func (p *Pipeline) processFileAnalysis(ctx context.Context, job *queue.Job) error {
	var fp filePathPayload
	if err := json.Unmarshal(job.Payload, &fp); err != nil {
		return fmt.Errorf("decode file job: %w", err)
	}

	content, err := os.ReadFile(fp.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", fp.Path, err)
	}

	file, err := p.store.CreateFile(ctx, job.RunID, fp.Path, contentHash(content))
	if err != nil {
		return fmt.Errorf("create file record for %s: %w", fp.Path, err)
	}

	ext := filepath.Ext(fp.Path)
	extractor, ok := p.registry.For(ext)
	if !ok {
		return p.emitDirectoryFinding(ctx, job.RunID, fp.Path, file.ID)
	}
	result, err := extractor.Extract(fp.Path, content)
	if err != nil {
		return fmt.Errorf("extract %s: %w", fp.Path, err)
	}

	pois := make([]model.POI, 0, len(result.POIs))
	for _, raw := range result.POIs {
		pois = append(pois, model.POI{
			FileID:     file.ID,
			RunID:      job.RunID,
			SemanticID: model.SemanticID(raw.Type, raw.Name, fp.Path, raw.StartLine),
			Name:       raw.Name,
			Type:       raw.Type,
			StartLine:  raw.StartLine,
			EndLine:    raw.EndLine,
		})
	}

	batch := filePOIBatchPayload{FileID: file.ID, POIs: pois, RawRelationships: result.Relationships}
	payloadBytes, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode poi batch: %w", err)
	}

	if _, err := p.store.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxPOIBatch, Payload: payloadBytes, RunID: job.RunID, DedupeKey: "poi-batch:" + file.ID,
	}); err != nil {
		return fmt.Errorf("insert poi batch outbox event: %w", err)
	}

	return p.emitDirectoryFinding(ctx, job.RunID, fp.Path, file.ID)
}

// emitDirectoryFinding emits one OutboxDirectoryFinding event the first
// time a directory is seen in this run (spec §4.2's directory-finding
// kind), so the directory-resolution queue has a real, if lightweight,
// consumer: by the time every sibling file in a directory has gone through
// file-analysis and directory-aggregation, cross-file relationships are
// already resolved, so this pass only confirms the directory as reconciled
// for observability rather than re-deriving anything.
func (p *Pipeline) emitDirectoryFinding(ctx context.Context, runID, path, fileID string) error {
	dir := filepath.Dir(path)
	if _, seen := p.seenDirs.LoadOrStore(dir, struct{}{}); seen {
		return nil
	}
	payload, err := json.Marshal(outbox.DirectoryFindingPayload{Directory: dir, FileIDs: []string{fileID}})
	if err != nil {
		return err
	}
	_, err = p.store.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
		Kind: model.OutboxDirectoryFinding, Payload: payload, RunID: runID, DedupeKey: "dir-finding:" + dir,
	})
	return err
}

// processDirectoryAggregation resolves one file's raw relationship hints
// against every POI discovered so far in the run (cross-file resolution,
// spec §4.2) and hands each resolved pair off through an
// OutboxRelationshipFinding event.
func (p *Pipeline) processDirectoryAggregation(ctx context.Context, job *queue.Job) error {
	var batch filePOIBatchPayload
	if err := json.Unmarshal(job.Payload, &batch); err != nil {
		return fmt.Errorf("decode poi batch: %w", err)
	}

	for _, raw := range batch.RawRelationships {
		source, err := p.store.GetPOIByName(ctx, job.RunID, raw.From)
		if err != nil {
			return fmt.Errorf("resolve source %q: %w", raw.From, err)
		}
		target, err := p.store.GetPOIByName(ctx, job.RunID, raw.To)
		if err != nil {
			return fmt.Errorf("resolve target %q: %w", raw.To, err)
		}
		if source == nil || target == nil {
			// Not yet discovered by a sibling file's extraction pass; dropped
			// rather than left dangling (invariant I1: a relationship only
			// exists once both endpoints exist in the same run).
			continue
		}

		evidence := make([]string, raw.EvidenceItems)
		for i := range evidence {
			evidence[i] = fmt.Sprintf("evidence-%d", i)
		}

		rf := outbox.RelationshipFindingPayload{
			SourcePOIID: source.ID, TargetPOIID: target.ID,
			From: raw.From, To: raw.To, Type: raw.Type, Reason: raw.Reason,
			EvidenceItems: evidence, SourceMode: "batch",
		}
		payload, err := json.Marshal(rf)
		if err != nil {
			return err
		}
		dedupe := "rel-finding:" + source.ID + ":" + target.ID + ":" + string(raw.Type)
		if _, err := p.store.InsertOutboxEvent(ctx, nil, model.OutboxEvent{
			Kind: model.OutboxRelationshipFinding, Payload: payload, RunID: job.RunID, DedupeKey: dedupe,
		}); err != nil {
			return fmt.Errorf("insert relationship finding outbox event: %w", err)
		}
	}
	return nil
}

// processDirectoryResolution is the directory-resolution queue's consumer.
// Cross-file relationship resolution already happened in
// processDirectoryAggregation; this stage is the observability point that
// confirms a directory's findings made it through priority-ordered
// draining (spec §4.2).
func (p *Pipeline) processDirectoryResolution(ctx context.Context, job *queue.Job) error {
	var df outbox.DirectoryFindingPayload
	if err := json.Unmarshal(job.Payload, &df); err != nil {
		return fmt.Errorf("decode directory finding: %w", err)
	}
	p.log.Infow("directory reconciled", "directory", df.Directory, "file_count", len(df.FileIDs))
	return nil
}

// processRelationshipResolution runs the advanced validator over one
// relationship finding (spec §4.4) and routes it to acceptance, rejection,
// or escalation to slow-path triangulation.
func (p *Pipeline) processRelationshipResolution(ctx context.Context, job *queue.Job) error {
	var rf outbox.RelationshipFindingPayload
	if err := json.Unmarshal(job.Payload, &rf); err != nil {
		return fmt.Errorf("decode relationship finding: %w", err)
	}

	rel, _, err := p.store.GetOrCreateRelationship(ctx, nil, job.RunID, rf.SourcePOIID, rf.TargetPOIID, rf.Type)
	if err != nil {
		return fmt.Errorf("load relationship: %w", err)
	}

	candidate := validation.Candidate{
		RelationshipID: rel.ID,
		From:           rf.From,
		To:             rf.To,
		Type:           rf.Type,
		Confidence:     rel.Confidence,
		Reason:         rf.Reason,
		Scope:          validation.ScopeCrossFile,
		Mode:           rf.SourceMode,
		Timestamp:      time.Now(),
	}
	verdicts, err := p.validator.Validate(ctx, []validation.Candidate{candidate})
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	entityKey := strings.ToLower(rf.From) + "\x00" + strings.ToLower(rf.To)
	var verdict validation.Verdict
	for _, v := range verdicts {
		if v.EntityKey == entityKey {
			verdict = v
			break
		}
	}

	switch verdict.Decision {
	case validation.DecisionAccept:
		rel.Status = model.StatusValidated
		if err := p.store.UpdateRelationship(ctx, nil, rel); err != nil {
			return fmt.Errorf("mark validated: %w", err)
		}
		metrics.RecordValidationVerdict(string(validation.DecisionAccept))
		_, err = p.bus.Enqueue(job.RunID, queue.RelationshipValidated, []byte(rel.ID), "validated:"+rel.ID)
		return err
	case validation.DecisionReject:
		rel.Status = model.StatusDiscarded
		metrics.RecordValidationVerdict(string(validation.DecisionReject))
		return p.store.UpdateRelationship(ctx, nil, rel)
	default: // escalate, or low confidence even without a recorded conflict
		metrics.RecordValidationVerdict(string(validation.DecisionEscalate))
		if rel.Confidence >= confidence.LowThreshold {
			rel.Confidence = confidence.LowThreshold - 0.01 // ensure routing to the slow path
			if err := p.store.UpdateRelationship(ctx, nil, rel); err != nil {
				return err
			}
		}
		_, err = p.bus.Enqueue(job.RunID, queue.GlobalResolution, []byte(rel.ID), "escalate:"+rel.ID)
		return err
	}
}

// processGlobalResolution runs the full sub-agent triangulation panel for a
// relationship the fast path could not confidently resolve (spec §4.3.2).
func (p *Pipeline) processGlobalResolution(ctx context.Context, job *queue.Job) error {
	relID := strings.TrimSpace(string(job.Payload))
	rel, err := p.store.GetRelationship(ctx, relID)
	if err != nil {
		return fmt.Errorf("load relationship %s: %w", relID, err)
	}
	if rel == nil {
		return fmt.Errorf("relationship %s not found", relID)
	}

	tuple := confidence.Tuple{From: rel.SourcePOIID, To: rel.TargetPOIID, Type: rel.Type, Reason: rel.Reason}
	sess, err := p.triage.Triangulate(ctx, *rel, tuple)
	if err != nil {
		return fmt.Errorf("triangulate %s: %w", relID, err)
	}
	metrics.RecordTriangulationSession(string(sess.Status), 0)

	if sess.Status != model.TriCompleted {
		return nil // orchestrator already discarded the relationship on failure
	}

	refreshed, err := p.store.GetRelationship(ctx, relID)
	if err != nil {
		return fmt.Errorf("reload relationship %s: %w", relID, err)
	}
	if refreshed.Confidence >= validation.AcceptThreshold {
		refreshed.Status = model.StatusValidated
	} else {
		refreshed.Status = model.StatusDiscarded
	}
	if err := p.store.UpdateRelationship(ctx, nil, *refreshed); err != nil {
		return fmt.Errorf("apply triangulation verdict: %w", err)
	}
	if refreshed.Status != model.StatusValidated {
		return nil
	}
	_, err = p.bus.Enqueue(job.RunID, queue.RelationshipValidated, []byte(relID), "validated:"+relID)
	return err
}

func (p *Pipeline) processRelationshipValidated(ctx context.Context, job *queue.Job) error {
	relID := strings.TrimSpace(string(job.Payload))
	_, err := p.bus.Enqueue(job.RunID, queue.AnalysisFindings, []byte(relID), "findings:"+relID)
	return err
}

func (p *Pipeline) processAnalysisFinding(ctx context.Context, job *queue.Job) error {
	p.log.Debugw("analysis finding recorded", "relationship_id", strings.TrimSpace(string(job.Payload)))
	return nil
}

func (p *Pipeline) processFailedJob(ctx context.Context, job *queue.Job) error {
	p.log.Warnw("job moved to failed-jobs queue", "reason", job.FailReason, "job_id", job.ID)
	return nil
}

func (p *Pipeline) processReconciliation(ctx context.Context, job *queue.Job) error {
	runID := strings.TrimSpace(string(job.Payload))
	n, err := p.builder.Build(ctx, runID)
	if err != nil {
		return fmt.Errorf("build graph for run %s: %w", runID, err)
	}
	p.log.Infow("graph build complete", "run_id", runID, "relationships_loaded", n)

	if err := p.store.SealRun(ctx, runID); err != nil {
		return fmt.Errorf("seal run %s: %w", runID, err)
	}
	return nil
}
