package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/model"
)

// OpenTriangulationSession creates an OPEN session for a relationship whose
// confidence fell below the low threshold (spec §4.3.2).
func (s *Store) OpenTriangulationSession(ctx context.Context, relationshipID string) (model.TriangulationSession, error) {
	sess := model.TriangulationSession{
		ID:             uuid.NewString(),
		RelationshipID: relationshipID,
		Status:         model.TriOpen,
		OpenedAt:       time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triangulation_sessions (id, relationship_id, status, strategy, opened_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.RelationshipID, string(sess.Status), sess.Strategy, sess.OpenedAt)
	if err != nil {
		return model.TriangulationSession{}, fmt.Errorf("store: open triangulation session: %w", err)
	}
	return sess, nil
}

// UpdateTriangulationSession persists status/strategy/final_confidence/
// consensus_score transitions (spec I5: a COMPLETED session has non-null
// final_confidence and consensus_score).
func (s *Store) UpdateTriangulationSession(ctx context.Context, sess model.TriangulationSession) error {
	var closedAt sql.NullTime
	if sess.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *sess.ClosedAt, Valid: true}
	}
	var finalConf, consensus sql.NullFloat64
	if sess.FinalConfidence != nil {
		finalConf = sql.NullFloat64{Float64: *sess.FinalConfidence, Valid: true}
	}
	if sess.ConsensusScore != nil {
		consensus = sql.NullFloat64{Float64: *sess.ConsensusScore, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE triangulation_sessions
		 SET status = ?, final_confidence = ?, consensus_score = ?, strategy = ?, closed_at = ?
		 WHERE id = ?`,
		string(sess.Status), finalConf, consensus, sess.Strategy, closedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("store: update triangulation session: %w", err)
	}
	return nil
}

// InsertSubAgentAnalysis records one immutable sub-agent verdict.
func (s *Store) InsertSubAgentAnalysis(ctx context.Context, analysis model.SubAgentAnalysis) (model.SubAgentAnalysis, error) {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_agent_analyses (id, session_id, agent_kind, verdict_confidence, reasoning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		analysis.ID, analysis.SessionID, string(analysis.AgentKind), analysis.VerdictConfidence,
		analysis.Reasoning, analysis.CreatedAt)
	if err != nil {
		return model.SubAgentAnalysis{}, fmt.Errorf("store: insert sub-agent analysis: %w", err)
	}
	return analysis, nil
}

// SubAgentAnalysesForSession returns every verdict recorded for a session.
func (s *Store) SubAgentAnalysesForSession(ctx context.Context, sessionID string) ([]model.SubAgentAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, agent_kind, verdict_confidence, reasoning, created_at
		 FROM sub_agent_analyses WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: sub-agent analyses for session: %w", err)
	}
	defer rows.Close()

	var out []model.SubAgentAnalysis
	for rows.Next() {
		var a model.SubAgentAnalysis
		var kind string
		if err := rows.Scan(&a.ID, &a.SessionID, &kind, &a.VerdictConfidence, &a.Reasoning, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AgentKind = model.AgentKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}
