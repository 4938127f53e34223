package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/cinebot/pkg/models"
)

// scriptedProvider replays one chunk script per model call and records every
// request it receives.
type scriptedProvider struct {
	responses    [][]CompletionChunk
	calls        int32
	completeFunc func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	mu       sync.Mutex
	requests []*CompletionRequest
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.completeFunc != nil {
		return p.completeFunc(ctx, req)
	}

	call := int(atomic.AddInt32(&p.calls, 1)) - 1
	var script []CompletionChunk
	if call < len(p.responses) {
		script = p.responses[call]
	} else if len(p.responses) > 0 {
		script = p.responses[len(p.responses)-1]
	}

	ch := make(chan *CompletionChunk, len(script)+1)
	for i := range script {
		chunk := script[i]
		ch <- &chunk
	}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func textReply(text string) []CompletionChunk {
	return []CompletionChunk{{Text: text}}
}

func toolReply(text string, calls ...models.ToolCall) []CompletionChunk {
	var chunks []CompletionChunk
	if text != "" {
		chunks = append(chunks, CompletionChunk{Text: text})
	}
	for i := range calls {
		call := calls[i]
		chunks = append(chunks, CompletionChunk{ToolCall: &call})
	}
	return chunks
}

func newCall(id, name, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

// funcTool is a Tool backed by a function.
type funcTool struct {
	name   string
	schema string
	fn     func(ctx context.Context, params json.RawMessage) (*ToolResult, error)

	invocations int32
}

func (t *funcTool) Name() string            { return t.name }
func (t *funcTool) Description() string     { return "test tool " + t.name }
func (t *funcTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	atomic.AddInt32(&t.invocations, 1)
	if t.fn == nil {
		return &ToolResult{Content: `{"ok":true}`}, nil
	}
	return t.fn(ctx, params)
}

const querySchema = `{
	"type": "object",
	"properties": {"query": {"type": "string", "minLength": 1}},
	"required": ["query"],
	"additionalProperties": false
}`

const movieIDSchema = `{
	"type": "object",
	"properties": {"movie_id": {"type": "integer", "minimum": 1}},
	"required": ["movie_id"],
	"additionalProperties": false
}`

func echoTool(name, schema string) *funcTool {
	return &funcTool{
		name:   name,
		schema: schema,
		fn: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: string(params)}, nil
		},
	}
}

func decodePayload(content string) map[string]any {
	var payload map[string]any
	_ = json.Unmarshal([]byte(content), &payload)
	return payload
}
