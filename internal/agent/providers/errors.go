package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a model request failed. Retry and failover
// decisions are made on the reason, never on raw error strings.
type FailoverReason string

const (
	// FailoverRateLimit indicates rate limiting (HTTP 429)
	FailoverRateLimit FailoverReason = "rate_limit"

	// FailoverAuth indicates authentication failure (HTTP 401, 403)
	FailoverAuth FailoverReason = "auth"

	// FailoverBilling indicates quota exhaustion (HTTP 402)
	FailoverBilling FailoverReason = "billing"

	// FailoverTimeout indicates the upstream did not answer in time
	FailoverTimeout FailoverReason = "timeout"

	// FailoverServerError indicates server-side issues (HTTP 5xx)
	FailoverServerError FailoverReason = "server_error"

	// FailoverInvalidRequest indicates the request itself was rejected (HTTP 400)
	FailoverInvalidRequest FailoverReason = "invalid_request"

	// FailoverModelUnavailable indicates the model is unknown or decommissioned
	FailoverModelUnavailable FailoverReason = "model_unavailable"

	// FailoverCancelled indicates the caller gave up
	FailoverCancelled FailoverReason = "cancelled"

	// FailoverUnknown indicates an unclassified error
	FailoverUnknown FailoverReason = "unknown"
)

// IsRetryable reports whether the same provider may succeed on a retry.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether a different provider may succeed. Requests
// that no provider would accept and caller cancellations do not fail over.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverInvalidRequest, FailoverCancelled:
		return false
	default:
		return true
	}
}

// ProviderError is a classified model backend failure.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.RequestID != "" {
		parts = append(parts, "request_id="+e.RequestID)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause and classifies it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailoverUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records a provider error code and reclassifies when it is known.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// ClassifyError inspects an unstructured error.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if errors.Is(err, context.Canceled) {
		return FailoverCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailoverTimeout
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Reason
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "etimedout"):
		return FailoverTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429"):
		return FailoverRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "401", "403"):
		return FailoverAuth
	case containsAny(msg, "quota", "billing", "402"):
		return FailoverBilling
	case containsAny(msg, "model_not_found", "model not found", "decommissioned", "does not exist"):
		return FailoverModelUnavailable
	case containsAny(msg, "internal server", "bad gateway", "service unavailable", "overloaded", "500", "502", "503", "504", "529"):
		return FailoverServerError
	case containsAny(msg, "connection refused", "connection reset", "no such host", "eof"):
		return FailoverServerError
	}
	return FailoverUnknown
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailoverTimeout
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return FailoverAuth
	case "insufficient_quota", "billing_error":
		return FailoverBilling
	case "model_not_found", "model_decommissioned", "not_found_error":
		return FailoverModelUnavailable
	case "overloaded_error", "api_error", "server_error", "service_unavailable":
		return FailoverServerError
	case "invalid_request_error", "context_length_exceeded", "tool_use_failed":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried against the same provider.
func IsRetryable(err error) bool {
	return err != nil && ClassifyError(err).IsRetryable()
}

// ShouldFailover reports whether err warrants trying the next provider.
func ShouldFailover(err error) bool {
	return err != nil && ClassifyError(err).ShouldFailover()
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
