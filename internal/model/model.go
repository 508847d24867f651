// Package model defines the durable entities of the cognitive triangulation
// pipeline: runs, files, points of interest, relationships, evidence,
// triangulation sessions, sub-agent verdicts, and outbox events.
package model

import (
	"fmt"
	"time"
)

// POIType enumerates the kinds of named entity the extractor can emit.
type POIType string

const (
	POIFile     POIType = "file"
	POIClass    POIType = "class"
	POIFunction POIType = "function"
	POIVariable POIType = "variable"
	POIImport   POIType = "import"
	POIExport   POIType = "export"
	POITable    POIType = "table"
	POIView     POIType = "view"
	POIIndex    POIType = "index"
	POITrigger  POIType = "trigger"
)

// RelationshipType enumerates the directed edges the pipeline tracks.
type RelationshipType string

const (
	RelCalls      RelationshipType = "CALLS"
	RelUses       RelationshipType = "USES"
	RelExtends    RelationshipType = "EXTENDS"
	RelImports    RelationshipType = "IMPORTS"
	RelContains   RelationshipType = "CONTAINS"
	RelReferences RelationshipType = "REFERENCES"
	RelHasColumn  RelationshipType = "HAS_COLUMN"
)

// RelationshipStatus is the lifecycle state of a Relationship row.
//
// PROCESSING appears in some reconciliation code paths in the source project
// but has no persisted transition rules (spec open question); this pipeline
// never writes it to storage — it exists only as an in-memory marker on a
// queue job, never as Relationship.Status.
type RelationshipStatus string

const (
	StatusPending   RelationshipStatus = "PENDING"
	StatusValidated RelationshipStatus = "VALIDATED"
	StatusDiscarded RelationshipStatus = "DISCARDED"
	StatusFailed    RelationshipStatus = "FAILED"
)

// TriangulationStatus is the lifecycle of a Triangulation Session.
type TriangulationStatus string

const (
	TriOpen      TriangulationStatus = "OPEN"
	TriRunning   TriangulationStatus = "RUNNING"
	TriCompleted TriangulationStatus = "COMPLETED"
	TriFailed    TriangulationStatus = "FAILED"
)

// AgentKind enumerates the distinct sub-agent analysis lenses used during
// triangulation (spec §4.3.2).
type AgentKind string

const (
	AgentSyntactic   AgentKind = "syntactic"
	AgentSemantic    AgentKind = "semantic"
	AgentContextual  AgentKind = "contextual"
	AgentArchitecture AgentKind = "architecture"
	AgentSecurity    AgentKind = "security"
	AgentPerformance AgentKind = "performance"
)

// OutboxKind enumerates the categories of durable hand-off record.
type OutboxKind string

const (
	OutboxPOIBatch            OutboxKind = "poi-batch"
	OutboxDirectoryFinding    OutboxKind = "directory-finding"
	OutboxRelationshipFinding OutboxKind = "relationship-finding"
)

// Run is one invocation of the pipeline over a target tree.
type Run struct {
	ID         string
	StartedAt  time.Time
	TargetRoot string
	SealedAt   *time.Time
}

// File is one source file discovered under a run. Immutable once created.
type File struct {
	ID          string
	RunID       string
	Path        string
	ContentHash string
}

// POI is a named entity inside a file.
//
// SemanticID follows the scheme `type:name@path:start_line`; file-type POIs
// use the path alone, with no `@line` suffix, since a file has no containing
// line number of its own.
type POI struct {
	ID          string
	FileID      string
	RunID       string
	SemanticID  string
	Name        string
	Type        POIType
	StartLine   int
	EndLine     int
	Description string
}

// SemanticID computes the stable identifier for a POI per spec §3.
func SemanticID(typ POIType, name, path string, startLine int) string {
	if typ == POIFile {
		return fmt.Sprintf("%s:%s", typ, path)
	}
	return fmt.Sprintf("%s:%s@%s:%d", typ, name, path, startLine)
}

// Relationship is a directed, scored edge between two POIs.
//
// SourcePOIID/TargetPOIID are weak references (lookup keys, not ownership):
// Relationships do not own POIs, and the relational store is the sole
// resolver that enforces invariant I1 (same-run membership).
type Relationship struct {
	ID           string
	RunID        string
	SourcePOIID  string
	TargetPOIID  string
	Type         RelationshipType
	Confidence   float64
	Status       RelationshipStatus
	Reason       string
	EvidenceHash string
}

// Evidence is an immutable justification record supporting (or opposing) a
// relationship. Many-to-one to Relationship.
type Evidence struct {
	ID               string
	RelationshipID   string
	RelationshipHash string
	RunID            string
	From             string
	To               string
	Type             RelationshipType
	Confidence       float64
	Reason           string
	SourceMode       string // "batch" | "individual" | "triangulated"
	CreatedAt        time.Time
}

// TriangulationSession is one consensus attempt for a low-confidence
// relationship.
type TriangulationSession struct {
	ID              string
	RelationshipID  string
	Status          TriangulationStatus
	FinalConfidence *float64
	ConsensusScore  *float64
	Strategy        string
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

// SubAgentAnalysis is one of N independent verdicts within a session.
// Immutable once written.
type SubAgentAnalysis struct {
	ID               string
	SessionID        string
	AgentKind        AgentKind
	VerdictConfidence float64
	Reasoning        string
	CreatedAt        time.Time
}

// OutboxEvent is a durable hand-off record from analysis into the queue bus.
// The row persists from write until the publisher drains it and stamps
// PublishedAt (spec I7: marked published_at only after bus acknowledgement).
type OutboxEvent struct {
	ID          int64
	Kind        OutboxKind
	Payload     []byte // JSON-encoded payload, shape depends on Kind
	RunID       string
	DedupeKey   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Level buckets a confidence score per spec §4.3.1.
type Level string

const (
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
	LevelVeryLow  Level = "VERY_LOW"
)

// LevelFor returns the confidence bucket for a score.
func LevelFor(confidence float64) Level {
	switch {
	case confidence >= 0.8:
		return LevelHigh
	case confidence >= 0.6:
		return LevelMedium
	case confidence >= 0.4:
		return LevelLow
	default:
		return LevelVeryLow
	}
}
