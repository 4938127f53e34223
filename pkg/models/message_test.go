package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{RoleTool, true},
		{Role("narrator"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage_IsTerminal(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want bool
	}{
		{"nil", nil, false},
		{"assistant without calls", &Message{Role: RoleAssistant, Content: "done"}, true},
		{"assistant with empty content", &Message{Role: RoleAssistant}, true},
		{"assistant with calls", &Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "search_movies"}}}, false},
		{"user", &Message{Role: RoleUser, Content: "hi"}, false},
		{"tool", &Message{Role: RoleTool, ToolResults: []ToolResult{{ToolCallID: "1"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage_CloneDoesNotShareState(t *testing.T) {
	original := Message{
		ID:   "m1",
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "search_movies", Input: json.RawMessage(`{"query":"Inception"}`)},
		},
		ToolResults: []ToolResult{{ToolCallID: "c1", Content: "{}"}},
		Metadata:    map[string]any{"k": "v"},
	}

	clone := original.Clone()
	clone.ToolCalls[0].Name = "changed"
	clone.ToolCalls[0].Input[2] = 'X'
	clone.ToolResults[0].Content = "changed"
	clone.Metadata["k"] = "changed"

	if original.ToolCalls[0].Name != "search_movies" {
		t.Errorf("tool call name leaked: %q", original.ToolCalls[0].Name)
	}
	if string(original.ToolCalls[0].Input) != `{"query":"Inception"}` {
		t.Errorf("tool call input leaked: %s", original.ToolCalls[0].Input)
	}
	if original.ToolResults[0].Content != "{}" {
		t.Errorf("tool result leaked: %q", original.ToolResults[0].Content)
	}
	if original.Metadata["k"] != "v" {
		t.Errorf("metadata leaked: %v", original.Metadata["k"])
	}
}

func TestCloneMessages(t *testing.T) {
	if CloneMessages(nil) != nil {
		t.Fatal("expected nil for nil input")
	}

	in := []Message{{ID: "a", Role: RoleUser}, {ID: "b", Role: RoleAssistant}}
	out := CloneMessages(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	out[0].Content = "mutated"
	if in[0].Content != "" {
		t.Error("CloneMessages shares backing array with input")
	}
}

func TestMessage_JSONOmitsEmptyToolFields(t *testing.T) {
	data, err := json.Marshal(Message{ID: "m1", Role: RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"tool_calls", "tool_results", "metadata", "session_id"} {
		if _, ok := raw[key]; ok {
			t.Errorf("expected %q to be omitted, got %s", key, data)
		}
	}
}
