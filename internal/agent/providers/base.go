package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/cinebot/internal/agent"
)

// retryPolicy holds the retry settings shared by providers.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return retryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: 8 * time.Second}
}

// do runs op until it succeeds, returns a non-retryable error, or the retry
// budget is spent. Delays double per attempt up to maxDelay.
func (p retryPolicy) do(ctx context.Context, op func() error) error {
	delay := p.baseDelay
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil || !IsRetryable(lastErr) || attempt == p.maxRetries {
			return lastErr
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	return lastErr
}

// sendChunk delivers chunk unless the caller has gone away.
func sendChunk(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
