package promptassembler

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

func TestAssembleOrdersSectionsAndEmbedsProfileVerbatim(t *testing.T) {
	req := Assemble(Input{
		Profile:         json.RawMessage(`{"user":{"name":"Ada"}}`),
		RecentSummaries: []models.Summary{{Text: "met on a Tuesday"}},
		Retrieval: models.RetrievalResult{
			Summaries: []models.RetrievedSummary{{Text: "loves tea", HumanTime: "2026-01-01 10:00 UTC"}},
			Turns:     []models.RetrievedTurn{{Role: models.RoleUser, Text: "I had tea", HumanTime: "2026-01-02 10:00 UTC"}},
		},
		HistoryTail: []models.Turn{{Role: models.RoleUser, Text: "hi"}, {Role: models.RoleAssistant, Text: "hello"}},
		UserInput:   "what's new?",
	})

	if !strings.Contains(req.System, `{"user":{"name":"Ada"}}`) {
		t.Fatalf("profile not embedded verbatim in system block: %q", req.System)
	}
	if !strings.Contains(req.System, "met on a Tuesday") {
		t.Fatalf("recent summary missing from system block")
	}
	if !strings.Contains(req.System, "loves tea") || !strings.Contains(req.System, "I had tea") {
		t.Fatalf("retrieved memories missing from system block")
	}

	if len(req.Messages) != 3 {
		t.Fatalf("expected 2 history turns + 1 current request, got %d", len(req.Messages))
	}
	if req.Messages[len(req.Messages)-1].Content != "what's new?" {
		t.Fatalf("current request should be last message, got %+v", req.Messages[len(req.Messages)-1])
	}
}

func TestAssembleSchedulingContextReplacesUserInput(t *testing.T) {
	req := Assemble(Input{
		Profile: json.RawMessage(`{}`),
		SchedulingContext: &SchedulingContext{
			TaskName:     "morning check-in",
			TriggerHuman: "2026-01-01 09:00 UTC",
			Message:      "say good morning",
		},
	})

	last := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(last, "[SYSTEM_SCHEDULED_TASK]") || !strings.Contains(last, "morning check-in") || !strings.Contains(last, "say good morning") {
		t.Fatalf("scheduling context not rendered correctly: %q", last)
	}
}
