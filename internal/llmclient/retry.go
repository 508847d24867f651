package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/ctperrors"
)

// Retrying wraps a Client with exponential backoff (generalizing beads'
// hand-rolled isRetryable/backoff loop in internal/compact/haiku.go onto
// cenkalti/backoff/v4, already an ecosystem dependency of this corpus).
type Retrying struct {
	inner    Client
	timeouts Timeouts
}

// NewRetrying wraps inner with the given retry timeouts.
func NewRetrying(inner Client, timeouts Timeouts) *Retrying {
	return &Retrying{inner: inner, timeouts: timeouts}
}

// Complete retries transient failures (network timeouts, HTTP 429/5xx) up to
// MaxRetries times with exponential backoff, and fails fast on anything else.
func (r *Retrying) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeouts.PerCallTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.timeouts.RetryBackoffBase
	bo.MaxInterval = r.timeouts.RetryBackoffMax
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.timeouts.MaxRetries)), callCtx)

	var result string
	err := backoff.Retry(func() error {
		text, err := r.inner.Complete(callCtx, systemPrompt, userPrompt)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = text
		return nil
	}, policy)

	if err != nil {
		wrapped := fmt.Errorf("llmclient: complete failed: %w", err)
		return "", ctperrors.New("llmclient", ctperrors.Transient, "", false, wrapped)
	}
	return result, nil
}

// isRetryable classifies a completion error as worth retrying: network
// timeouts and Anthropic's 429/5xx responses, nothing else (adapted from
// beads' internal/compact/haiku.go isRetryable, generalized beyond the
// Anthropic-specific error type check since Client wraps arbitrary providers).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}
