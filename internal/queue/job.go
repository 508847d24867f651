package queue

import "time"

// Name is one of the nine named FIFO queues of the bus (spec §4.1).
type Name string

const (
	FileAnalysis          Name = "file-analysis"
	DirectoryAggregation  Name = "directory-aggregation"
	DirectoryResolution   Name = "directory-resolution"
	RelationshipResolution Name = "relationship-resolution"
	Reconciliation        Name = "reconciliation"
	AnalysisFindings      Name = "analysis-findings"
	GlobalResolution      Name = "global-resolution"
	RelationshipValidated Name = "relationship-validated"
	FailedJobs            Name = "failed-jobs"
)

// AllQueues lists every named queue the bus provisions at startup.
var AllQueues = []Name{
	FileAnalysis,
	DirectoryAggregation,
	DirectoryResolution,
	RelationshipResolution,
	Reconciliation,
	AnalysisFindings,
	GlobalResolution,
	RelationshipValidated,
	FailedJobs,
}

// llmBoundQueues are the queues whose jobs consume a slot in the global
// LLM-concurrency semaphore (spec §4.1 rule 1). Queues that only move
// already-computed results downstream (analysis-findings,
// relationship-validated, failed-jobs) never call an LLM.
var llmBoundQueues = map[Name]bool{
	FileAnalysis:           true,
	DirectoryResolution:    true,
	RelationshipResolution: true,
	Reconciliation:         true,
	GlobalResolution:       true,
}

// IsLLMBound reports whether jobs on this queue must hold the global LLM
// semaphore while running.
func IsLLMBound(n Name) bool { return llmBoundQueues[n] }

// Status is the durable lifecycle state of a Job (spec §4.1 contract).
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RetryPolicy configures exponential backoff for a failed job.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy mirrors spec §4.1's "exponential back-off, max retries".
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  maxRetries,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Backoff returns the delay before retry attempt n (1-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Job is one unit of work flowing through the bus.
type Job struct {
	ID         string
	Queue      Name
	RunID      string
	DedupeKey  string
	Payload    []byte
	Status     Status
	Attempts   int
	Retry      RetryPolicy
	EnqueuedAt time.Time
	ReservedAt time.Time
	Deadline   time.Time
	WorkerID   string
	FailReason string
}

// Stats is the observability snapshot for one queue (spec §4.1 contract).
type Stats struct {
	Queue     Name
	Waiting   int
	Active    int
	Completed int
	Failed    int
}
