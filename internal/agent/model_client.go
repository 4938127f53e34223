package agent

import (
	"context"
	"strings"

	"github.com/haasonsaas/cinebot/pkg/models"
)

// Usage reports token counts for one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// modelClient adapts a streaming LLMProvider to the single-message contract
// the loop needs: one call in, one assistant message out.
type modelClient struct {
	provider    LLMProvider
	model       string
	system      string
	maxTokens   int
	temperature float64
}

// complete sends history plus the tool advertisement and collects the stream
// into one assistant message. Any provider failure is a *ModelUnavailableError.
func (c *modelClient) complete(ctx context.Context, history []models.Message, tools []Tool) (models.Message, Usage, error) {
	req := &CompletionRequest{
		Model:       c.model,
		System:      c.system,
		Messages:    toCompletionMessages(history),
		Tools:       tools,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	chunks, err := c.provider.Complete(ctx, req)
	if err != nil {
		return models.Message{}, Usage{}, c.unavailable(err)
	}

	var text strings.Builder
	var calls []models.ToolCall
	var usage Usage
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			// Drain so the provider goroutine can exit.
			go func() {
				for range chunks {
				}
			}()
			return models.Message{}, Usage{}, c.unavailable(chunk.Error)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.InputTokens > 0 {
			usage.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			usage.OutputTokens = chunk.OutputTokens
		}
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, Usage{}, c.unavailable(err)
	}

	return models.Message{
		Role:      models.RoleAssistant,
		Content:   text.String(),
		ToolCalls: calls,
	}, usage, nil
}

func (c *modelClient) unavailable(err error) error {
	return &ModelUnavailableError{
		Provider: c.provider.Name(),
		Model:    c.model,
		Cause:    err,
	}
}

// toCompletionMessages converts stored history to provider messages. System
// messages are dropped; the system prompt travels in CompletionRequest.System.
func toCompletionMessages(history []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		out = append(out, CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return out
}
