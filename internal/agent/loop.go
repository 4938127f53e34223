package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cinebot/internal/observability"
	"github.com/haasonsaas/cinebot/pkg/models"
)

// LoopConfig configures the conversation loop.
type LoopConfig struct {
	// Model is passed to the provider; empty selects the provider default.
	Model string

	// SystemPrompt is prepended to every model call and never stored.
	SystemPrompt string

	// MaxIterations limits model calls per turn.
	// Default: 10
	MaxIterations int

	// MaxTokens is the max tokens for each model response.
	// Default: 2048
	MaxTokens int

	// Temperature for model sampling. Negative values select the default.
	// Default: 0.1
	Temperature float64

	// ModelTimeout bounds each model call.
	// Default: 60s
	ModelTimeout time.Duration

	// ToolTimeout bounds each capability invocation.
	// Default: 20s
	ToolTimeout time.Duration
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 10,
		MaxTokens:     2048,
		Temperature:   0.1,
		ModelTimeout:  60 * time.Second,
		ToolTimeout:   20 * time.Second,
	}
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaults.ModelTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaults.ToolTimeout
	}
	return cfg
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithLogger sets the logger used for turn diagnostics.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records model, tool and turn metrics.
func WithMetrics(metrics *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = metrics }
}

// WithTracer records spans for turns, model calls and tool calls.
func WithTracer(tracer *observability.Tracer) LoopOption {
	return func(l *Loop) { l.tracer = tracer }
}

// WithClock overrides the timestamp source for appended messages.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// Loop runs one conversation turn at a time against a model and a fixed
// capability registry.
//
// The loop operates as a state machine:
//
//	               ┌────────────────────────┐
//	user message ─▶│     awaiting_model     │──── no tool calls ───▶ done
//	               └────────────────────────┘
//	                  ▲                 │
//	                  │ results         │ tool calls
//	                  │ appended        ▼
//	               ┌────────────────────────┐
//	               │ executing_capabilities │
//	               └────────────────────────┘
//
// Each pass through awaiting_model counts against MaxIterations. A Loop holds
// no per-session state and is safe for concurrent turns on different sessions.
type Loop struct {
	client   *modelClient
	registry *ToolRegistry
	config   LoopConfig

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time
}

// NewLoop creates a conversation loop.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig, opts ...LoopOption) (*Loop, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	config = sanitizeLoopConfig(config)

	l := &Loop{
		client: &modelClient{
			provider:    provider,
			model:       config.Model,
			system:      config.SystemPrompt,
			maxTokens:   config.MaxTokens,
			temperature: config.Temperature,
		},
		registry: registry,
		config:   config,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "agent")
	return l, nil
}

// Config returns the effective loop configuration.
func (l *Loop) Config() LoopConfig {
	return l.config
}

// Registry returns the capability registry advertised to the model.
func (l *Loop) Registry() *ToolRegistry {
	return l.registry
}

// LoopState tracks one turn in progress.
type LoopState struct {
	Phase      LoopPhase
	Iteration  int
	Rounds     int
	ToolCalls  int
	Messages   []models.Message
	Usage      Usage
	startIndex int
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	// History is the caller's history extended with this turn's messages.
	History []models.Message

	// Appended holds only the messages added during this turn, starting with
	// the user message. It shares storage with History.
	Appended []models.Message

	// Reply is the content of the final assistant message.
	Reply string

	// Rounds counts executing_capabilities passes.
	Rounds int

	// ModelCalls counts awaiting_model passes.
	ModelCalls int

	// ToolCalls counts capability invocations.
	ToolCalls int

	// Usage sums token counts across model calls.
	Usage Usage
}

// RunTurn processes one user message against history and returns the
// extended history.
//
// history is neither modified nor retained. On error no partial history is
// returned, so a caller that commits only on success never stores a partial
// turn. Capability failures do not produce errors; they are appended as tool
// results with IsError set. Model failures wrap *ModelUnavailableError and the
// round-trip cap wraps ErrLoopBoundExceeded, both inside *LoopError.
func (l *Loop) RunTurn(ctx context.Context, history []models.Message, userText string) (*TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, errors.New("user message is empty")
	}

	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "agent.turn", observability.SpanOptions{
		Attributes: []attribute.KeyValue{attribute.Int("agent.max_iterations", l.config.MaxIterations)},
	})
	defer span.End()

	state := &LoopState{
		Phase:      PhaseAwaitingModel,
		Messages:   models.CloneMessages(history),
		startIndex: len(history),
	}
	state.Messages = append(state.Messages, l.newMessage(models.RoleUser, userText))
	tools := l.registry.List()

	for {
		if err := ctx.Err(); err != nil {
			return nil, l.fail(span, state, &LoopError{Phase: state.Phase, Iteration: state.Iteration, Cause: err})
		}

		state.Phase = PhaseAwaitingModel
		reply, err := l.awaitModel(ctx, state, tools)
		state.Iteration++
		if err != nil {
			return nil, l.fail(span, state, &LoopError{Phase: PhaseAwaitingModel, Iteration: state.Iteration, Cause: err})
		}
		state.Messages = append(state.Messages, reply)

		if reply.IsTerminal() {
			state.Phase = PhaseDone
			return l.complete(span, state, reply, time.Since(start)), nil
		}

		// No model call remains to read this round's results.
		if state.Iteration >= l.config.MaxIterations {
			return nil, l.fail(span, state, &LoopError{
				Phase:     PhaseAwaitingModel,
				Iteration: state.Iteration,
				Cause:     ErrLoopBoundExceeded,
				Message:   fmt.Sprintf("model still requesting capabilities after %d calls", l.config.MaxIterations),
			})
		}

		state.Phase = PhaseExecutingCapabilities
		results, err := l.executeCapabilities(ctx, reply.ToolCalls)
		if err != nil {
			return nil, l.fail(span, state, &LoopError{Phase: PhaseExecutingCapabilities, Iteration: state.Iteration, Cause: err})
		}
		state.Messages = append(state.Messages, results...)
		state.Rounds++
		state.ToolCalls += len(results)
	}
}

// awaitModel performs one model call and normalizes the returned tool calls.
func (l *Loop) awaitModel(ctx context.Context, state *LoopState, tools []Tool) (models.Message, error) {
	provider := l.client.provider.Name()
	ctx, span := l.tracer.TraceLLMRequest(ctx, provider, l.config.Model)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, l.config.ModelTimeout)
	defer cancel()

	started := time.Now()
	reply, usage, err := l.client.complete(callCtx, state.Messages, tools)
	elapsed := time.Since(started)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Caller cancellation, not a model failure.
			return models.Message{}, ctxErr
		}
		l.tracer.RecordError(span, err)
		l.metrics.RecordLLMRequest(provider, l.config.Model, "error", elapsed.Seconds(), 0, 0)
		l.metrics.RecordError("agent", "model_unavailable")
		return models.Message{}, err
	}
	l.metrics.RecordLLMRequest(provider, l.config.Model, "success", elapsed.Seconds(), usage.InputTokens, usage.OutputTokens)
	state.Usage.InputTokens += usage.InputTokens
	state.Usage.OutputTokens += usage.OutputTokens

	reply.ID = uuid.NewString()
	reply.CreatedAt = l.now()
	normalizeToolCalls(reply.ToolCalls)

	l.logger.Debug("model replied",
		"iteration", state.Iteration+1,
		"tool_calls", len(reply.ToolCalls),
		"content_chars", len(reply.Content),
		"duration", elapsed,
	)
	return reply, nil
}

// normalizeToolCalls guarantees every call has a unique identifier and a JSON
// argument object before execution.
func normalizeToolCalls(calls []models.ToolCall) {
	seen := make(map[string]struct{}, len(calls))
	for i := range calls {
		id := strings.TrimSpace(calls[i].ID)
		if _, dup := seen[id]; id == "" || dup {
			id = "call_" + uuid.NewString()
		}
		seen[id] = struct{}{}
		calls[i].ID = id
		if len(bytes.TrimSpace(calls[i].Input)) == 0 {
			calls[i].Input = json.RawMessage("{}")
		}
	}
}

// executeCapabilities runs calls sequentially in request order. Each outcome
// becomes exactly one tool message keyed by the call's identifier. Only
// cancellation of ctx aborts the round.
func (l *Loop) executeCapabilities(ctx context.Context, calls []models.ToolCall) ([]models.Message, error) {
	results := make([]models.Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := l.invoke(ctx, call)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg := l.newMessage(models.RoleTool, res.Content)
		msg.ToolResults = []models.ToolResult{{
			ToolCallID: call.ID,
			Content:    res.Content,
			IsError:    res.IsError,
		}}
		results = append(results, msg)
	}
	return results, nil
}

func (l *Loop) invoke(ctx context.Context, call models.ToolCall) *ToolResult {
	ctx, span := l.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()
	span.SetAttributes(attribute.String("tool.call_id", call.ID))

	callCtx, cancel := context.WithTimeout(ctx, l.config.ToolTimeout)
	defer cancel()

	started := time.Now()
	res, err := l.registry.Execute(callCtx, call.Name, call.Input)
	elapsed := time.Since(started)
	if err != nil {
		l.tracer.RecordError(span, err)
		kind := string(ToolErrorExecution)
		var validationErr *ValidationError
		var execErr *CapabilityExecutionError
		switch {
		case errors.As(err, &validationErr):
			validationErr.ToolCallID = call.ID
			kind = string(validationErr.Kind())
		case errors.As(err, &execErr):
			execErr.ToolCallID = call.ID
			kind = string(execErr.Type)
		}
		l.metrics.RecordToolExecution(call.Name, "error", elapsed.Seconds())
		l.metrics.RecordError("tool", kind)
		l.logger.Warn("capability failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"kind", kind,
			"error", err,
		)
		return toolErrorResult(call.Name, err)
	}

	status := "success"
	if res.IsError {
		status = "error"
	}
	l.metrics.RecordToolExecution(call.Name, status, elapsed.Seconds())
	l.logger.Debug("capability executed", "tool", call.Name, "tool_call_id", call.ID, "duration", elapsed)
	return res
}

func (l *Loop) complete(span trace.Span, state *LoopState, reply models.Message, elapsed time.Duration) *TurnResult {
	l.metrics.RecordTurn("done", state.Rounds)
	span.SetAttributes(
		attribute.Int("agent.rounds", state.Rounds),
		attribute.Int("agent.model_calls", state.Iteration),
	)
	l.logger.Info("turn complete",
		"rounds", state.Rounds,
		"model_calls", state.Iteration,
		"tool_calls", state.ToolCalls,
		"duration", elapsed,
	)
	return &TurnResult{
		History:    state.Messages,
		Appended:   state.Messages[state.startIndex:],
		Reply:      reply.Content,
		Rounds:     state.Rounds,
		ModelCalls: state.Iteration,
		ToolCalls:  state.ToolCalls,
		Usage:      state.Usage,
	}
}

func (l *Loop) fail(span trace.Span, state *LoopState, err *LoopError) error {
	outcome := "error"
	switch {
	case errors.Is(err, ErrLoopBoundExceeded):
		outcome = "loop_bound_exceeded"
	case errors.Is(err, ErrModelUnavailable):
		outcome = "model_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	}
	l.metrics.RecordTurn(outcome, state.Rounds)
	l.tracer.RecordError(span, err)
	l.logger.Warn("turn failed",
		"outcome", outcome,
		"phase", err.Phase,
		"iteration", err.Iteration,
		"error", err.Cause,
	)
	return err
}

func (l *Loop) newMessage(role models.Role, content string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: l.now(),
	}
}
