// Package summarizer condenses a slice of turns into prose plus a
// JSON-Patch against the Profile document, in one tool-model call: a single
// non-streaming completion whose system prompt demands a strict JSON
// envelope, parsed with encoding/json rather than a function call, since
// the contract is "return exactly these two fields" not "pick a tool".
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluviusmagnus/Seelenmaschine/internal/contextwindow"
	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/llm"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

const systemPrompt = `You condense a slice of conversation turns into durable memory.

Respond with a single JSON object and nothing else, of the exact shape:
{"summary": "<prose summary, a few sentences>", "patch": [{"op":"add|replace|remove","path":"/a/b","value":<any>}]}

"patch" is a JSON-Patch (RFC 6902) document applied to a structured profile
about the user and the assistant's persona. Only include patch operations for
facts that changed or were newly learned in this slice of turns; omit "patch"
entirely (or use an empty array) if nothing changed. "value" is required for
"add" and "replace", omitted for "remove". Never include commentary outside
the JSON object.`

// Summariser implements contextwindow.Summarizer against a chat-model
// Provider configured with TOOL_MODEL.
type Summariser struct {
	provider llm.Provider
}

var _ contextwindow.Summarizer = (*Summariser)(nil)

// New builds a Summariser around an already-configured tool-model provider.
func New(provider llm.Provider) *Summariser {
	return &Summariser{provider: provider}
}

type response struct {
	Summary string           `json:"summary"`
	Patch   models.JSONPatch `json:"patch"`
}

// Summarize condenses turns into a summary and profile patch.
func (s *Summariser) Summarize(ctx context.Context, turns []models.Turn, lastSummary *models.Summary, profile json.RawMessage) (contextwindow.SummarizeResult, error) {
	userMsg := buildUserMessage(turns, lastSummary, profile)

	resp, err := s.provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: models.RoleUser, Content: userMsg}},
		MaxTokens: 1024,
	})
	if err != nil {
		return contextwindow.SummarizeResult{}, apperr.Wrap(apperr.KindUpstreamFailure, "summarizer.summarize", err)
	}

	parsed, err := parseResponse(resp.Text)
	if err != nil {
		return contextwindow.SummarizeResult{}, apperr.Wrap(apperr.KindUpstreamFailure, "summarizer.parse_response", err)
	}

	return contextwindow.SummarizeResult{Text: parsed.Summary, Patch: parsed.Patch}, nil
}

func buildUserMessage(turns []models.Turn, lastSummary *models.Summary, profile json.RawMessage) string {
	var b strings.Builder
	b.WriteString("Current profile document:\n")
	b.Write(profile)
	b.WriteString("\n\n")
	if lastSummary != nil {
		fmt.Fprintf(&b, "Most recent prior summary: %s\n\n", lastSummary.Text)
	}
	b.WriteString("Turns to condense:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Text)
	}
	return b.String()
}

// parseResponse tolerates a model wrapping the JSON object in a fenced code
// block, a common deviation despite instruction to emit raw JSON.
func parseResponse(text string) (response, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed response
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return response{}, fmt.Errorf("summariser response was not valid JSON: %w", err)
	}
	if parsed.Summary == "" {
		return response{}, fmt.Errorf("summariser response missing summary field")
	}
	return parsed, nil
}
