package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracer_NoEndpointIsDisabled(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "cinebot-test"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	if tracer.Enabled() {
		t.Fatal("tracer without endpoint should not export")
	}

	ctx, span := tracer.Start(context.Background(), "agent.turn")
	defer span.End()
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
}

func TestNilTracerIsSafe(t *testing.T) {
	var tracer *Tracer
	if tracer.Enabled() {
		t.Fatal("nil tracer reported enabled")
	}

	ctx := context.Background()
	_, span := tracer.Start(ctx, "x")
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	_, llm := tracer.TraceLLMRequest(ctx, "groq", "llama")
	llm.End()
	_, tool := tracer.TraceToolExecution(ctx, "search_movies")
	tool.End()
	_, httpSpan := tracer.TraceHTTPRequest(ctx, "POST", "/chat")
	httpSpan.End()
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	var tracer *Tracer
	_, span := tracer.Start(context.Background(), "x")
	tracer.RecordError(span, nil)
	tracer.RecordError(nil, errors.New("boom"))
	span.End()
}

func TestGetTraceID_EmptyWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Fatalf("GetTraceID() = %q, want empty", id)
	}
}
