package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/pkg/models"
)

func sseServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		handler(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, event := range events {
		fmt.Fprintf(w, "data: %s\n\n", event)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func collect(t *testing.T, ch <-chan *agent.CompletionChunk) (string, []models.ToolCall, *agent.CompletionChunk, error) {
	t.Helper()
	var text strings.Builder
	var calls []models.ToolCall
	var last *agent.CompletionChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return text.String(), calls, last, nil
			}
			if chunk.Error != nil {
				return text.String(), calls, chunk, chunk.Error
			}
			text.WriteString(chunk.Text)
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			last = chunk
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func newTestGroq(t *testing.T, url string) *GroqProvider {
	t.Helper()
	provider, err := NewGroqProvider(GroqConfig{APIKey: "gsk_test", BaseURL: url, MaxRetries: -1})
	if err != nil {
		t.Fatalf("NewGroqProvider() error: %v", err)
	}
	return provider
}

func TestNewGroqProvider_RequiresKey(t *testing.T) {
	if _, err := NewGroqProvider(GroqConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestGroqProvider_StreamsText(t *testing.T) {
	var gotBody map[string]any
	server := sseServer(t, func(w http.ResponseWriter, body map[string]any) {
		gotBody = body
		writeSSE(w,
			`{"id":"1","object":"chat.completion.chunk","model":"llama-3.3-70b-versatile","choices":[{"index":0,"delta":{"role":"assistant","content":"Inception "}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"llama-3.3-70b-versatile","choices":[{"index":0,"delta":{"content":"is on Netflix."},"finish_reason":"stop"}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"llama-3.3-70b-versatile","choices":[],"usage":{"prompt_tokens":42,"completion_tokens":6,"total_tokens":48}}`,
		)
	})
	provider := newTestGroq(t, server.URL)

	ch, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		System:      "You are a movie assistant.",
		Messages:    []agent.CompletionMessage{{Role: "user", Content: "Where can I watch Inception?"}},
		MaxTokens:   2048,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	text, calls, last, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "Inception is on Netflix." || len(calls) != 0 {
		t.Fatalf("text %q calls %d", text, len(calls))
	}
	if last == nil || !last.Done || last.InputTokens != 42 || last.OutputTokens != 6 {
		t.Fatalf("final chunk = %+v", last)
	}

	if gotBody["model"] != DefaultGroqModel {
		t.Fatalf("model = %v", gotBody["model"])
	}
	messages := gotBody["messages"].([]any)
	first := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "You are a movie assistant." {
		t.Fatalf("system message = %v", first)
	}
}

func TestGroqProvider_ToolCallsInIndexOrder(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, _ map[string]any) {
		writeSSE(w,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"get_watch_providers","arguments":"{\"movie_id\":"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"search_movies","arguments":"{\"query\":"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"27205}"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Inception\"}"}}]},"finish_reason":"tool_calls"}]}`,
		)
	})
	provider := newTestGroq(t, server.URL)

	ch, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "Inception?"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	_, calls, _, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(calls))
	}
	if calls[0].ID != "call_a" || calls[0].Name != "search_movies" || string(calls[0].Input) != `{"query":"Inception"}` {
		t.Fatalf("first call = %+v (%s)", calls[0], calls[0].Input)
	}
	if calls[1].ID != "call_b" || string(calls[1].Input) != `{"movie_id":27205}` {
		t.Fatalf("second call = %+v (%s)", calls[1], calls[1].Input)
	}
}

func TestGroqProvider_SendsToolHistory(t *testing.T) {
	var gotBody map[string]any
	server := sseServer(t, func(w http.ResponseWriter, body map[string]any) {
		gotBody = body
		writeSSE(w, `{"id":"1","choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	})
	provider := newTestGroq(t, server.URL)

	ch, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: "Inception?"},
			{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "call_a", Name: "search_movies", Input: json.RawMessage(`{"query":"Inception"}`)}}},
			{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "call_a", Content: `{"results":[]}`}}},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if _, _, _, err := collect(t, ch); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	messages := gotBody["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("sent %d messages, want 3", len(messages))
	}
	tool := messages[2].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "call_a" {
		t.Fatalf("tool message = %v", tool)
	}
}

func TestGroqProvider_ErrorStatus(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	provider, err := NewGroqProvider(GroqConfig{APIKey: "gsk_bad", BaseURL: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewGroqProvider() error: %v", err)
	}
	_, err = provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	providerErr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if providerErr.Reason != FailoverAuth || providerErr.Status != http.StatusUnauthorized {
		t.Fatalf("reason %s status %d", providerErr.Reason, providerErr.Status)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("auth failure retried: %d requests", got)
	}
}

func TestGroqProvider_RetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"over capacity"}}`))
			return
		}
		writeSSE(w, `{"id":"1","choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	provider, err := NewGroqProvider(GroqConfig{APIKey: "gsk_test", BaseURL: server.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewGroqProvider() error: %v", err)
	}
	ch, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	text, _, _, err := collect(t, ch)
	if err != nil || text != "ok" {
		t.Fatalf("text %q err %v", text, err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestConvertOpenAIMessages_DropsStoredSystem(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{
		{Role: "system", Content: "stale"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "c", Name: "list_genres"}}},
	}, "fresh")

	if len(out) != 3 {
		t.Fatalf("got %d messages", len(out))
	}
	if out[0].Content != "fresh" {
		t.Fatalf("system = %q", out[0].Content)
	}
	if out[2].ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("empty arguments not normalized: %q", out[2].ToolCalls[0].Function.Arguments)
	}
}
