package ctperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := New("llmclient", Transient, "run-1", true, cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestError_MessageCarriesComponentKindAndRun(t *testing.T) {
	err := New("store", Integrity, "run-2", false, errors.New("orphaned relationship"))
	msg := err.Error()
	for _, want := range []string{"store", "INTEGRITY", "run-2", "orphaned relationship"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected message %q to contain %q", msg, want)
		}
	}
}

func TestError_WithJobAddsJobID(t *testing.T) {
	err := New("queue", Resource, "run-3", true, errors.New("memory high water")).WithJob("job-7")
	if !strings.Contains(err.Error(), "job-7") {
		t.Fatalf("expected message to contain job id, got %q", err.Error())
	}
}

func TestIs_MatchesThroughAWrapper(t *testing.T) {
	tax := New("confidence", ConsensusFailure, "run-4", false, errors.New("consensus below threshold"))
	wrapped := fmt.Errorf("triangulate: %w", tax)

	if !IsConsensusFailure(wrapped) {
		t.Fatalf("expected IsConsensusFailure to see through the wrapper")
	}
	if IsIntegrity(wrapped) {
		t.Fatalf("expected IsIntegrity to be false for a consensus-failure error")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if IsConfig(errors.New("plain")) {
		t.Fatalf("expected IsConfig to be false for an untagged error")
	}
}
