package llm

import (
	"encoding/json"
	"testing"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

func TestConvertOpenAIMessages(t *testing.T) {
	messages := convertOpenAIMessages("be helpful", []Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "search_memories", Input: json.RawMessage(`{"query":"x"}`)},
		}},
		{Role: models.RoleUser, ToolResults: []models.ToolResult{{ToolCallID: "call_1", Content: "no results"}}},
	})

	if len(messages) != 4 { // system + user + assistant + tool
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected first message to be system, got %s", messages[0].Role)
	}
	if messages[2].Role != openai.ChatMessageRoleAssistant || len(messages[2].ToolCalls) != 1 {
		t.Fatalf("expected assistant message with one tool call, got %+v", messages[2])
	}
	if messages[3].Role != openai.ChatMessageRoleTool || messages[3].ToolCallID != "call_1" {
		t.Fatalf("expected tool result message, got %+v", messages[3])
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := convertOpenAITools([]ToolDef{
		{Name: "search_memories", Description: "search", Schema: json.RawMessage(`{"type":"object"}`)},
	})
	if len(tools) != 1 || tools[0].Function.Name != "search_memories" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}
