// Package llm defines the chat-model client contract and the
// Anthropic/OpenAI-compatible implementations the Orchestrator and
// Summariser call through. Assistant text is always delivered as one
// message, so every call here is a single non-streaming round trip.
package llm

import (
	"context"
	"encoding/json"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

// Message is one transcript entry sent to the chat model.
type Message struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolDef is a tool definition advertised to the model in the provider's
// function-calling shape.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is a single non-streaming completion request.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// StopReason classifies why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is the model's final answer for one request: either plain text
// or one or more tool calls (never both populated meaningfully for our
// purposes; the orchestrator treats any ToolCalls as "not yet final").
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason StopReason
}

// Provider is a chat-model backend. The Orchestrator calls Complete in
// a loop until the response carries no tool calls.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}
