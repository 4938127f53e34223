package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFailoverReason(t *testing.T) {
	tests := []struct {
		reason    FailoverReason
		retryable bool
		failover  bool
	}{
		{FailoverRateLimit, true, true},
		{FailoverTimeout, true, true},
		{FailoverServerError, true, true},
		{FailoverAuth, false, true},
		{FailoverBilling, false, true},
		{FailoverModelUnavailable, false, true},
		{FailoverInvalidRequest, false, false},
		{FailoverCancelled, false, false},
		{FailoverUnknown, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := tt.reason.ShouldFailover(); got != tt.failover {
				t.Errorf("ShouldFailover() = %v, want %v", got, tt.failover)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailoverReason
	}{
		{nil, FailoverUnknown},
		{context.Canceled, FailoverCancelled},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), FailoverTimeout},
		{errors.New("429 Too Many Requests"), FailoverRateLimit},
		{errors.New("invalid_api_key"), FailoverAuth},
		{errors.New("you exceeded your quota"), FailoverBilling},
		{errors.New("the model `llama-2` has been decommissioned"), FailoverModelUnavailable},
		{errors.New("503 service unavailable"), FailoverServerError},
		{errors.New("dial tcp: connection refused"), FailoverServerError},
		{errors.New("something odd"), FailoverUnknown},
		{&ProviderError{Reason: FailoverAuth}, FailoverAuth},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	err := NewProviderError("groq", "llama-3.3-70b-versatile", errors.New("boom")).
		WithStatus(429).
		WithCode("rate_limit_exceeded")
	err.RequestID = "req_1"

	if err.Reason != FailoverRateLimit {
		t.Fatalf("Reason = %s", err.Reason)
	}
	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "groq", "status=429", "code=rate_limit_exceeded", "request_id=req_1", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if got, ok := GetProviderError(wrapped); !ok || got != err {
		t.Fatal("GetProviderError() did not find wrapped error")
	}
	if !IsRetryable(wrapped) || !ShouldFailover(wrapped) {
		t.Fatal("rate limit should be retryable and fail over")
	}
}

func TestProviderError_StatusClassification(t *testing.T) {
	tests := map[int]FailoverReason{
		400: FailoverInvalidRequest,
		401: FailoverAuth,
		402: FailoverBilling,
		404: FailoverModelUnavailable,
		429: FailoverRateLimit,
		500: FailoverServerError,
		504: FailoverTimeout,
	}
	for status, want := range tests {
		err := NewProviderError("groq", "", errors.New("x")).WithStatus(status)
		if err.Reason != want {
			t.Errorf("status %d: Reason = %s, want %s", status, err.Reason, want)
		}
	}

	// Unknown codes keep the status-derived reason.
	err := NewProviderError("anthropic", "", errors.New("x")).WithStatus(529).WithCode("weird")
	if err.Reason != FailoverServerError {
		t.Errorf("Reason = %s, want server_error", err.Reason)
	}
}
