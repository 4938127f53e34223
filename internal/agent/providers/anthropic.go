package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/internal/agent/toolconv"
	"github.com/haasonsaas/cinebot/pkg/models"
)

// DefaultAnthropicModel is used when neither config nor request names a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive events that carry nothing useful
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.LLMProvider for Anthropic's Messages API.
// It serves as the fallback model when Groq is unavailable.
//
// Thread Safety:
// AnthropicProvider is safe for concurrent use across multiple goroutines.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retry        retryPolicy
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required)
	APIKey string

	// BaseURL overrides the default API base URL
	BaseURL string

	// DefaultModel is the model used when the request names none
	DefaultModel string

	// MaxRetries is the retry budget for transient failures (default: 2)
	MaxRetries int

	// RetryDelay is the first backoff delay (default: 500ms)
	RetryDelay time.Duration
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultAnthropicModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	// Retries happen in retryPolicy so they are classified the same way as Groq's.
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		retry:        newRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the Claude models suitable as a fallback.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// SupportsTools reports tool calling support.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming message request. Request construction errors are
// returned directly; stream failures arrive as error chunks.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err).WithStatus(400)
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.retry.do(ctx, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			// The SDK defers HTTP errors to the first Next call.
			if stream.Next() {
				return nil
			}
			if err := stream.Err(); err != nil {
				_ = stream.Close()
				return p.wrapError(err, model)
			}
			return nil
		})
		if err != nil {
			sendChunk(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true})
			return
		}
		defer stream.Close()
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream converts SSE events to chunks. The stream is already
// positioned on its first event.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var current *models.ToolCall
	var input strings.Builder
	var inputTokens, outputTokens int
	empty := 0

	for {
		event := stream.Current()
		useful := true

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				input.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					useful = false
				} else if !sendChunk(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				input.WriteString(delta.PartialJSON)
			default:
				useful = false
			}

		case "content_block_stop":
			if current != nil {
				current.Input = json.RawMessage(input.String())
				if !sendChunk(ctx, chunks, &agent.CompletionChunk{ToolCall: current}) {
					return
				}
				current = nil
			}

		case "message_delta":
			if tokens := int(event.AsMessageDelta().Usage.OutputTokens); tokens > 0 {
				outputTokens = tokens
			}

		case "message_stop":
			sendChunk(ctx, chunks, &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		default:
			useful = false
		}

		if useful {
			empty = 0
		} else {
			empty++
			if empty >= maxEmptyStreamEvents {
				sendChunk(ctx, chunks, &agent.CompletionChunk{
					Error: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", empty), model),
				})
				return
			}
		}

		if !stream.Next() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
		return
	}
	// Stream ended without message_stop.
	sendChunk(ctx, chunks, &agent.CompletionChunk{
		Error: p.wrapError(errors.New("stream ended before message_stop"), model),
	})
}

// convertAnthropicMessages converts history to Anthropic message params.
// Consecutive tool messages merge into one user message because Anthropic
// expects every tool_result for an assistant turn in the next user message.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			continue

		case "tool":
			for _, tr := range msg.ToolResults {
				pendingResults = append(pendingResults, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}

		case "assistant":
			flush()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := map[string]any{}
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						return nil, fmt.Errorf("tool call %s: invalid input: %w", tc.ID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			flush()
			if msg.Content == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError("anthropic", model, err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.StatusCode)
		providerErr.RequestID = apiErr.RequestID
		var payload anthropicErrorPayload
		if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr.Message = payload.Error.Message
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
		}
	}
	return providerErr
}
