package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewCapabilityExecutionError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ToolErrorType
	}{
		{"deadline", context.DeadlineExceeded, ToolErrorTimeout},
		{"timeout text", errors.New("i/o timeout"), ToolErrorTimeout},
		{"network", errors.New("dial tcp: connection refused"), ToolErrorNetwork},
		{"rate limit", errors.New("HTTP 429"), ToolErrorRateLimit},
		{"panic", fmt.Errorf("%w: oops", ErrToolPanic), ToolErrorPanic},
		{"not found", ErrToolNotFound, ToolErrorNotFound},
		{"other", errors.New("movie has no credits"), ToolErrorExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCapabilityExecutionError("search_movies", tt.err)
			if err.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", err.Type, tt.wantType)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause not reachable through Unwrap")
			}
		})
	}
}

func TestCapabilityExecutionError_Error(t *testing.T) {
	err := NewCapabilityExecutionError("get_watch_providers", errors.New("connection reset")).WithToolCallID("call_7")
	msg := err.Error()
	for _, want := range []string{"tool:network", "get_watch_providers", "connection reset"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.ToolCallID != "call_7" {
		t.Errorf("ToolCallID = %q", err.ToolCallID)
	}
}

func TestValidationError(t *testing.T) {
	plain := &ValidationError{ToolName: "search_movies", Reason: "query is required"}
	if !errors.Is(plain, ErrInvalidArguments) {
		t.Error("validation error should match ErrInvalidArguments")
	}
	if plain.Kind() != ToolErrorInvalidInput {
		t.Errorf("Kind() = %s", plain.Kind())
	}
	if !strings.Contains(plain.Error(), "query is required") {
		t.Errorf("Error() = %q", plain.Error())
	}

	unknown := &ValidationError{ToolName: "x", Cause: ErrToolNotFound}
	if unknown.Kind() != ToolErrorNotFound {
		t.Errorf("Kind() = %s, want not_found", unknown.Kind())
	}
}

func TestModelUnavailableError(t *testing.T) {
	cause := errors.New("502 bad gateway")
	err := &ModelUnavailableError{Provider: "groq", Model: "llama-3.3-70b-versatile", Cause: cause}

	if !errors.Is(err, ErrModelUnavailable) || !errors.Is(err, cause) {
		t.Fatal("expected both sentinel and cause to match")
	}
	if !IsModelUnavailable(&LoopError{Phase: PhaseAwaitingModel, Cause: err}) {
		t.Fatal("IsModelUnavailable should see through LoopError")
	}
	if !strings.Contains(err.Error(), "groq") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(&ModelUnavailableError{}, ErrModelUnavailable) {
		t.Fatal("error without cause should still match sentinel")
	}
}

func TestLoopError(t *testing.T) {
	err := &LoopError{Phase: PhaseAwaitingModel, Iteration: 10, Cause: ErrLoopBoundExceeded}
	if !IsLoopBoundExceeded(err) {
		t.Fatal("IsLoopBoundExceeded() = false")
	}
	if IsModelUnavailable(err) {
		t.Fatal("loop bound reported as model failure")
	}
	if !strings.Contains(err.Error(), "iteration 10") {
		t.Errorf("Error() = %q", err.Error())
	}

	withMsg := &LoopError{Phase: PhaseExecutingCapabilities, Message: "stopped"}
	if !strings.Contains(withMsg.Error(), "executing_capabilities") {
		t.Errorf("Error() = %q", withMsg.Error())
	}
}

func TestToolErrorResult(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
		wantText string
	}{
		{
			name:     "validation",
			err:      &ValidationError{ToolName: "search_movies", Reason: "invalid arguments: /query: missing"},
			wantKind: "invalid_input",
			wantText: "/query: missing",
		},
		{
			name:     "execution",
			err:      NewCapabilityExecutionError("search_movies", errors.New("tmdb unreachable")),
			wantKind: "network",
			wantText: "tmdb unreachable",
		},
		{
			name:     "plain",
			err:      errors.New("weird"),
			wantKind: "execution",
			wantText: "weird",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := toolErrorResult("search_movies", tt.err)
			if !res.IsError {
				t.Fatal("IsError = false")
			}
			var payload errorPayload
			if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if string(payload.Kind) != tt.wantKind {
				t.Errorf("kind = %s, want %s", payload.Kind, tt.wantKind)
			}
			if !strings.Contains(payload.Error, tt.wantText) {
				t.Errorf("error = %q, want %q", payload.Error, tt.wantText)
			}
			if payload.Tool != "search_movies" {
				t.Errorf("tool = %q", payload.Tool)
			}
		})
	}
}
