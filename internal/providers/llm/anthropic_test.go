package llm

import (
	"encoding/json"
	"testing"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

func TestConvertMessagesRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		wantErr  bool
	}{
		{
			name:     "simple user message",
			messages: []Message{{Role: models.RoleUser, Content: "hello"}},
		},
		{
			name: "assistant message with tool call",
			messages: []Message{{
				Role:    models.RoleAssistant,
				Content: "let me check",
				ToolCalls: []models.ToolCall{
					{ID: "call_1", Name: "search_memories", Input: json.RawMessage(`{"query":"dog"}`)},
				},
			}},
		},
		{
			name: "tool result message",
			messages: []Message{{
				Role:        models.RoleUser,
				ToolResults: []models.ToolResult{{ToolCallID: "call_1", Content: "no matches", IsError: false}},
			}},
		},
		{
			name: "message with no content is skipped, not errored",
			messages: []Message{{Role: models.RoleUser}},
		},
		{
			name: "invalid tool call input JSON",
			messages: []Message{{
				Role:      models.RoleAssistant,
				ToolCalls: []models.ToolCall{{ID: "call_1", Name: "x", Input: json.RawMessage(`not json`)}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convertMessages(tt.messages)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	_, err := convertTools([]ToolDef{{Name: "bad", Schema: json.RawMessage(`not json`)}})
	if err == nil {
		t.Fatal("expected error for invalid schema JSON")
	}
}

func TestConvertToolsAcceptsObjectSchema(t *testing.T) {
	tools, err := convertTools([]ToolDef{
		{Name: "search_memories", Description: "search", Schema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
}
