// Package ctperrors implements the six-bucket error taxonomy every component
// boundary wraps its failures into (transient dependency failure, invariant
// breakage, malformed input, resource exhaustion, triangulation deadlock,
// bad configuration). Grounded on the teacher's sentinel-plus-wrap style in
// internal/core/spawn_queue.go (ErrQueueFull/ErrQueueTimeout/ErrQueueStopped
// wrapped with fmt.Errorf("%w: ...")), generalized into one typed Error that
// every component can attach run/job context to before it crosses a boundary.
package ctperrors

import "fmt"

// Kind is one of the six error-taxonomy buckets.
type Kind string

const (
	// Transient covers network failures, timeouts, and open breakers.
	// Retried with backoff; surfaced as a failed job once retries are
	// exhausted.
	Transient Kind = "TRANSIENT"

	// Integrity covers a broken invariant (I1-I7). Fatal for the graph
	// build that observed it; the caller attempts one automated repair.
	Integrity Kind = "INTEGRITY"

	// Contract covers malformed input, such as a relationship missing its
	// from/to endpoints. Dropped with a structured log, never aborts the
	// pipeline.
	Contract Kind = "CONTRACT"

	// Resource covers memory, disk, or LLM quota exhaustion. Triggers
	// scale-down; a persistent Resource error opens a breaker.
	Resource Kind = "RESOURCE"

	// ConsensusFailure covers triangulation unable to reach the required
	// consensus after its sub-agent retries. The relationship is
	// discarded, not retried.
	ConsensusFailure Kind = "CONSENSUS_FAILURE"

	// Config covers missing or invalid configuration discovered at
	// startup. Fatal: the process exits non-zero before any worker
	// starts.
	Config Kind = "CONFIG"
)

// Error is the taxonomy-tagged error every component boundary (LLM client,
// relational store, graph store, queue bus) wraps an external failure into
// before returning it to its caller.
type Error struct {
	RunID       string
	JobID       string // empty when the error isn't job-scoped
	Component   string
	Kind        Kind
	Recoverable bool
	Cause       error
}

func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s[%s]: run=%s job=%s: %v", e.Component, e.Kind, e.RunID, e.JobID, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: run=%s: %v", e.Component, e.Kind, e.RunID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause into a taxonomy Error. recoverable marks whether the
// caller may retry the operation that produced cause.
func New(component string, kind Kind, runID string, recoverable bool, cause error) *Error {
	return &Error{RunID: runID, Component: component, Kind: kind, Recoverable: recoverable, Cause: cause}
}

// WithJob attaches a job ID to an existing taxonomy Error, for components
// that only learn the job ID after the error is constructed.
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID
	return e
}

// Is reports whether err carries the given taxonomy Kind, unwrapping
// through any wrapper chain the way errors.Is does for sentinel errors.
func Is(err error, kind Kind) bool {
	var taxErr *Error
	for err != nil {
		if te, ok := err.(*Error); ok {
			taxErr = te
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return taxErr != nil && taxErr.Kind == kind
}

// IsTransient, IsIntegrity, IsContract, IsResource, IsConsensusFailure, and
// IsConfig are named Is(err, Kind) wrappers for call sites that read better
// naming the bucket than passing its constant.
func IsTransient(err error) bool        { return Is(err, Transient) }
func IsIntegrity(err error) bool        { return Is(err, Integrity) }
func IsContract(err error) bool         { return Is(err, Contract) }
func IsResource(err error) bool         { return Is(err, Resource) }
func IsConsensusFailure(err error) bool { return Is(err, ConsensusFailure) }
func IsConfig(err error) bool           { return Is(err, Config) }
