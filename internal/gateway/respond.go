package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
}

type rateLimitResponse struct {
	errorResponse
	Limit      string `json:"limit"`
	RetryAfter int    `json:"retry_after"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func newErrorResponse(status int, message string, now time.Time) errorResponse {
	return errorResponse{
		Error:      errorTitle(status),
		Message:    message,
		StatusCode: status,
		Timestamp:  formatTime(now),
	}
}

func errorTitle(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "Rate limit exceeded"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "Validation error"
	default:
		if status >= http.StatusInternalServerError {
			return "Server error"
		}
		return "HTTP Exception"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string, now time.Time) {
	writeJSON(w, status, newErrorResponse(status, message, now))
}

// writeRawJSON writes an already-encoded JSON document.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body) //nolint:errcheck
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
