package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/cinebot/internal/agent"
)

type stubProvider struct {
	name      string
	err       error
	streamErr error
	text      string

	mu     sync.Mutex
	models []string
}

func (s *stubProvider) Complete(_ context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	s.mu.Lock()
	s.models = append(s.models, req.Model)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *agent.CompletionChunk, 2)
	if s.streamErr != nil {
		ch <- &agent.CompletionChunk{Error: s.streamErr}
	} else {
		ch <- &agent.CompletionChunk{Text: s.text}
		ch <- &agent.CompletionChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Name() string          { return s.name }
func (s *stubProvider) Models() []agent.Model { return []agent.Model{{ID: s.name + "-model"}} }
func (s *stubProvider) SupportsTools() bool   { return true }

func (s *stubProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models)
}

func TestFailoverProvider_PrimarySucceeds(t *testing.T) {
	primary := &stubProvider{name: "groq", text: "from groq"}
	fallback := &stubProvider{name: "anthropic", text: "from anthropic"}
	f, err := NewFailoverProvider(primary, FailoverConfig{}, nil, FailoverMember{Provider: fallback})
	if err != nil {
		t.Fatalf("NewFailoverProvider() error: %v", err)
	}
	if f.Name() != "groq+anthropic" {
		t.Fatalf("Name() = %q", f.Name())
	}

	ch, err := f.Complete(context.Background(), &agent.CompletionRequest{Model: "llama"})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	text, _, _, err := collect(t, ch)
	if err != nil || text != "from groq" {
		t.Fatalf("text %q err %v", text, err)
	}
	if fallback.calls() != 0 {
		t.Fatal("fallback called although primary succeeded")
	}
}

func TestFailoverProvider_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *stubProvider
	}{
		{name: "complete error", primary: &stubProvider{name: "groq", err: NewProviderError("groq", "", errors.New("x")).WithStatus(503)}},
		{name: "first chunk error", primary: &stubProvider{name: "groq", streamErr: errors.New("429 too many requests")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &stubProvider{name: "anthropic", text: "from anthropic"}
			f, _ := NewFailoverProvider(tt.primary, FailoverConfig{}, nil, FailoverMember{Provider: fallback, Model: "claude"})

			ch, err := f.Complete(context.Background(), &agent.CompletionRequest{Model: "llama"})
			if err != nil {
				t.Fatalf("Complete() error: %v", err)
			}
			text, _, _, err := collect(t, ch)
			if err != nil || text != "from anthropic" {
				t.Fatalf("text %q err %v", text, err)
			}
			if fallback.models[0] != "claude" {
				t.Fatalf("fallback model = %q, want claude", fallback.models[0])
			}
		})
	}
}

func TestFailoverProvider_InvalidRequestDoesNotFailOver(t *testing.T) {
	primary := &stubProvider{name: "groq", err: NewProviderError("groq", "", errors.New("bad")).WithStatus(400)}
	fallback := &stubProvider{name: "anthropic", text: "x"}
	f, _ := NewFailoverProvider(primary, FailoverConfig{}, nil, FailoverMember{Provider: fallback})

	if _, err := f.Complete(context.Background(), &agent.CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if fallback.calls() != 0 {
		t.Fatal("invalid request should not reach the fallback")
	}
}

func TestFailoverProvider_AllFail(t *testing.T) {
	primary := &stubProvider{name: "groq", err: errors.New("503")}
	fallback := &stubProvider{name: "anthropic", err: errors.New("529 overloaded")}
	f, _ := NewFailoverProvider(primary, FailoverConfig{}, nil, FailoverMember{Provider: fallback})

	_, err := f.Complete(context.Background(), &agent.CompletionRequest{})
	if err == nil || err.Error() != "529 overloaded" {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestFailoverProvider_CircuitOpensAfterThreshold(t *testing.T) {
	primary := &stubProvider{name: "groq", err: errors.New("503")}
	fallback := &stubProvider{name: "anthropic", text: "ok"}
	f, _ := NewFailoverProvider(primary, FailoverConfig{Threshold: 2, Cooldown: time.Minute}, nil, FailoverMember{Provider: fallback})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ch, err := f.Complete(context.Background(), &agent.CompletionRequest{})
		if err != nil {
			t.Fatalf("Complete() error: %v", err)
		}
		drain(ch)
	}
	if got := primary.calls(); got != 2 {
		t.Fatalf("primary called %d times, want 2 before the circuit opens", got)
	}

	now = now.Add(2 * time.Minute)
	ch, _ := f.Complete(context.Background(), &agent.CompletionRequest{})
	drain(ch)
	if got := primary.calls(); got != 3 {
		t.Fatalf("primary not retried after cooldown: %d calls", got)
	}
}

func TestFailoverProvider_CancelledContext(t *testing.T) {
	primary := &stubProvider{name: "groq", err: context.Canceled}
	fallback := &stubProvider{name: "anthropic", text: "x"}
	f, _ := NewFailoverProvider(primary, FailoverConfig{}, nil, FailoverMember{Provider: fallback})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Complete(ctx, &agent.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fallback.calls() != 0 {
		t.Fatal("cancelled request reached the fallback")
	}
}

func TestNewFailoverProvider_RequiresPrimary(t *testing.T) {
	if _, err := NewFailoverProvider(nil, FailoverConfig{}, nil); !errors.Is(err, agent.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}
