// Package llmclient is the LLM boundary every sub-agent lens in triangulation
// (spec §4.3.2) calls through: one narrow interface, a retrying decorator,
// and an Anthropic-backed concrete implementation.
package llmclient

import (
	"context"
	"time"
)

// Client sends one system+user prompt pair and returns the model's text
// response. Deliberately narrower than the teacher's per-provider client
// surface (perception.LLMClient): triangulation sub-agents need exactly one
// call shape, nothing streaming, nothing tool-using.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Timeouts mirrors the teacher's config.LLMTimeouts tiering (Tier 1: raw
// per-call budgets), narrowed to what a sub-agent analysis call needs.
type Timeouts struct {
	PerCallTimeout   time.Duration
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	MaxRetries       int
}

// DefaultTimeouts are calibrated for a single structured-verdict completion,
// not a long document-processing call (spec sub-agent analyses are short:
// one relationship tuple in, one confidence+reasoning pair out).
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PerCallTimeout:   60 * time.Second,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  15 * time.Second,
		MaxRetries:       3,
	}
}
