package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/cinebot/internal/agent"
)

// ToOpenAITools converts capabilities to OpenAI function definitions. Groq's
// chat completions endpoint accepts the same shape.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaObject(tool.Schema()),
			},
		}
	}
	return result
}

// schemaObject decodes a tool schema, falling back to an empty object schema
// so a malformed definition never breaks the whole advertisement.
func schemaObject(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}
