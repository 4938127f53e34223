package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/cinebot/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with a chat-completion
// API (Groq's OpenAI-compatible endpoint, Anthropic) while presenting a unified
// streaming interface to the conversation loop.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different sessions.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:       "llama-3.3-70b-versatile",
//	    System:      tmdb.SystemPrompt(registry.List()),
//	    Messages:    []CompletionMessage{{Role: "user", Content: "Where can I watch Inception?"}},
//	    Tools:       registry.List(),
//	    MaxTokens:   2048,
//	    Temperature: 0.1,
//	}
type CompletionRequest struct {
	// Model specifies which LLM model to use.
	// If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt. It is never part of Messages.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools the LLM can request to execute, in the
	// order they are advertised.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness. Low values keep tool
	// selection reproducible.
	Temperature float64 `json:"temperature"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	// Role indicates who sent the message: "user", "assistant", or "tool"
	Role string `json:"role"`

	// Content is the text content of the message (may be empty for tool-only messages)
	Content string `json:"content,omitempty"`

	// ToolCalls contains any tool execution requests from the assistant
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Processing Example:
//
//	for chunk := range chunks {
//	    switch {
//	    case chunk.Error != nil:
//	        return chunk.Error
//	    case chunk.ToolCall != nil:
//	        calls = append(calls, *chunk.ToolCall)
//	    case chunk.Text != "":
//	        text.WriteString(chunk.Text)
//	    }
//	}
type CompletionChunk struct {
	// Text contains partial response text (streamed incrementally)
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred (streaming is terminated)
	Error error `json:"-"`

	// InputTokens is only populated in the final chunk.
	InputTokens int `json:"input_tokens,omitempty"`

	// OutputTokens is only populated in the final chunk.
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model (e.g., "llama-3.3-70b-versatile")
	ID string `json:"id"`

	// Name is the human-readable model name
	Name string `json:"name"`

	// ContextSize is the maximum token context window
	ContextSize int `json:"context_size"`
}

// Tool defines the interface for a capability the model may invoke.
//
// Tools are read-only from the conversation's point of view. Execute receives
// arguments that already passed schema validation in the ToolRegistry.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. A returned error is reported to the model as an
	// execution failure.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution.
type ToolResult struct {
	// Content is the JSON-serialized result
	Content string `json:"content"`

	// IsError marks Content as an error payload
	IsError bool `json:"is_error,omitempty"`
}
