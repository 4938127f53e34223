package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrLoopBoundExceeded indicates the model kept requesting capabilities
	// past the configured number of model calls for one turn
	ErrLoopBoundExceeded = errors.New("loop bound exceeded")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrInvalidArguments indicates tool arguments failed validation
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrModelUnavailable indicates the model call failed
	ErrModelUnavailable = errors.New("model unavailable")
)

// ToolErrorType categorizes capability failures for logging, metrics and the
// error payload the model sees.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates invalid parameters were passed
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorTimeout indicates the tool timed out
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorNetwork indicates a network error
	ToolErrorNetwork ToolErrorType = "network"

	// ToolErrorRateLimit indicates the upstream rate limited the tool
	ToolErrorRateLimit ToolErrorType = "rate_limit"

	// ToolErrorExecution indicates a runtime error during execution
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"
)

// ValidationError reports capability arguments that were rejected before
// execution: unknown capability, malformed JSON, or a schema violation.
type ValidationError struct {
	ToolName   string
	ToolCallID string
	Reason     string
	Cause      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("[tool:invalid_input]")
	if e.ToolName != "" {
		b.WriteString(" ")
		b.WriteString(e.ToolName)
	}
	if e.Reason != "" {
		b.WriteString(" ")
		b.WriteString(e.Reason)
	} else if e.Cause != nil {
		b.WriteString(" ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrInvalidArguments
}

// Kind returns the error category reported to the model.
func (e *ValidationError) Kind() ToolErrorType {
	if errors.Is(e.Cause, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	return ToolErrorInvalidInput
}

// CapabilityExecutionError reports a capability that accepted its arguments
// but could not produce a result.
type CapabilityExecutionError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *CapabilityExecutionError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *CapabilityExecutionError) Unwrap() error {
	return e.Cause
}

// NewCapabilityExecutionError wraps cause and classifies it.
func NewCapabilityExecutionError(toolName string, cause error) *CapabilityExecutionError {
	err := &CapabilityExecutionError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorExecution,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

// WithToolCallID sets the invocation identifier.
func (e *CapabilityExecutionError) WithToolCallID(id string) *CapabilityExecutionError {
	e.ToolCallID = id
	return e
}

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorExecution
	}

	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}
	if errors.Is(err, ErrToolTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ToolErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ToolErrorTimeout
		}
		return ToolErrorNetwork
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return ToolErrorTimeout
	}

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable") {
		return ToolErrorNetwork
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ToolErrorRateLimit
	}

	return ToolErrorExecution
}

// ModelUnavailableError reports a failed model call. It is fatal to the turn.
type ModelUnavailableError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *ModelUnavailableError) Error() string {
	msg := "model unavailable"
	if e.Provider != "" {
		msg += ": " + e.Provider
	}
	if e.Model != "" {
		msg += " model=" + e.Model
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ModelUnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrModelUnavailable}
	}
	return []error{ErrModelUnavailable, e.Cause}
}

// LoopError represents an error that ended a conversation turn.
type LoopError struct {
	// Phase where the error occurred
	Phase LoopPhase

	// Iteration is the model call count when the error occurred
	Iteration int

	// Message describes the error
	Message string

	// Cause is the underlying error
	Cause error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase represents a state of the conversation loop.
type LoopPhase string

const (
	// PhaseAwaitingModel is waiting on the model client
	PhaseAwaitingModel LoopPhase = "awaiting_model"

	// PhaseExecutingCapabilities is running requested tool calls
	PhaseExecutingCapabilities LoopPhase = "executing_capabilities"

	// PhaseDone is the terminal state
	PhaseDone LoopPhase = "done"
)

// IsLoopBoundExceeded reports whether err ended a turn at the round-trip cap.
func IsLoopBoundExceeded(err error) bool {
	return errors.Is(err, ErrLoopBoundExceeded)
}

// IsModelUnavailable reports whether err came from a failed model call.
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}

// errorPayload is the JSON body of an IsError tool result.
type errorPayload struct {
	Error string        `json:"error"`
	Kind  ToolErrorType `json:"kind"`
	Tool  string        `json:"tool,omitempty"`
}

// toolErrorResult converts a registry error into a result the model can read.
func toolErrorResult(toolName string, err error) *ToolResult {
	payload := errorPayload{Error: err.Error(), Kind: ToolErrorExecution, Tool: toolName}

	var validationErr *ValidationError
	var execErr *CapabilityExecutionError
	switch {
	case errors.As(err, &validationErr):
		payload.Kind = validationErr.Kind()
		if validationErr.Reason != "" {
			payload.Error = validationErr.Reason
		}
	case errors.As(err, &execErr):
		payload.Kind = execErr.Type
		if execErr.Message != "" {
			payload.Error = execErr.Message
		}
	}

	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return &ToolResult{Content: `{"error":"tool failed"}`, IsError: true}
	}
	return &ToolResult{Content: string(data), IsError: true}
}
