package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/internal/agent/toolconv"
	"github.com/haasonsaas/cinebot/pkg/models"
)

const (
	// GroqBaseURL is Groq's OpenAI-compatible endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	// DefaultGroqModel is used when neither config nor request names a model.
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// GroqProvider implements agent.LLMProvider against Groq's OpenAI-compatible
// chat completions API.
//
// Thread Safety:
// GroqProvider is safe for concurrent use across multiple goroutines.
type GroqProvider struct {
	client       *openai.Client
	defaultModel string
	retry        retryPolicy
}

// GroqConfig holds configuration for the Groq provider.
type GroqConfig struct {
	// APIKey is the Groq API key (required)
	APIKey string

	// BaseURL overrides GroqBaseURL (tests, proxies)
	BaseURL string

	// DefaultModel is the model used when the request names none
	DefaultModel string

	// MaxRetries is the retry budget for transient failures (default: 2)
	MaxRetries int

	// RetryDelay is the first backoff delay (default: 500ms)
	RetryDelay time.Duration
}

// NewGroqProvider creates a Groq provider.
//
// Example:
//
//	provider, err := providers.NewGroqProvider(providers.GroqConfig{
//	    APIKey: os.Getenv("GROQ_API_KEY"),
//	})
func NewGroqProvider(cfg GroqConfig) (*GroqProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("groq: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultGroqModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = GroqBaseURL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &GroqProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		retry:        newRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *GroqProvider) Name() string {
	return "groq"
}

// Models returns the Groq models known to handle tool calling well.
func (p *GroqProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", ContextSize: 131072},
		{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", ContextSize: 131072},
		{ID: "openai/gpt-oss-120b", Name: "GPT-OSS 120B", ContextSize: 131072},
	}
}

// SupportsTools reports tool calling support.
func (p *GroqProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming chat completion.
func (p *GroqProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertOpenAIMessages(req.Messages, req.System),
		Stream:        true,
		Temperature:   float32(req.Temperature),
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	var stream *openai.ChatCompletionStream
	err := p.retry.do(ctx, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return p.wrapError(err, model)
		}
		return nil
	})
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream relays text deltas as they arrive and assembles tool calls
// from their fragments. Tool calls are emitted in stream index order once the
// model finishes.
func (p *GroqProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	var usage openai.Usage

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, tc := range orderedToolCalls(pending) {
					if !sendChunk(ctx, chunks, &agent.CompletionChunk{ToolCall: tc}) {
						return
					}
				}
				sendChunk(ctx, chunks, &agent.CompletionChunk{
					Done:         true,
					InputTokens:  usage.PromptTokens,
					OutputTokens: usage.CompletionTokens,
				})
				return
			}
			sendChunk(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true})
			return
		}

		if response.Usage != nil {
			usage = *response.Usage
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if !sendChunk(ctx, chunks, &agent.CompletionChunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &models.ToolCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			for _, tc := range orderedToolCalls(pending) {
				if !sendChunk(ctx, chunks, &agent.CompletionChunk{ToolCall: tc}) {
					return
				}
			}
			pending = make(map[int]*models.ToolCall)
		}
	}
}

func orderedToolCalls(pending map[int]*models.ToolCall) []*models.ToolCall {
	indexes := make([]int, 0, len(pending))
	for index, tc := range pending {
		if tc.Name != "" {
			indexes = append(indexes, index)
		}
	}
	sort.Ints(indexes)
	out := make([]*models.ToolCall, 0, len(indexes))
	for _, index := range indexes {
		out = append(out, pending[index])
	}
	return out
}

// convertOpenAIMessages converts history to the OpenAI wire shape. The system
// prompt leads; each tool result becomes its own tool-role message.
func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			continue

		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := string(tc.Input)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *GroqProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError("groq", model, err)

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		if apiErr.Code != nil {
			providerErr = providerErr.WithCode(fmt.Sprint(apiErr.Code))
		}
		if apiErr.Message != "" {
			providerErr.Message = apiErr.Message
		}
	case errors.As(err, &reqErr):
		if reqErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(reqErr.HTTPStatusCode)
		}
	}
	return providerErr
}
