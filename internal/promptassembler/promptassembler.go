// Package promptassembler deterministically composes the request sent to
// the chat model: a fixed section order of profile, recent summaries,
// retrieved memories, history tail, current request, and tools.
package promptassembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/llm"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

const personaPreamble = `You are a long-running conversational companion. Below is your persona and
memory of the user, embedded as a JSON document; treat it as ground truth about
who you and the user are, updating your tone and knowledge accordingly.`

// Input bundles everything Assemble needs for one request.
type Input struct {
	Profile          json.RawMessage
	RecentSummaries  []models.Summary
	Retrieval        models.RetrievalResult
	HistoryTail      []models.Turn
	UserInput        string // empty when SchedulingContext is set
	SchedulingContext *SchedulingContext
	Tools            []llm.ToolDef
}

// SchedulingContext carries the scheduler-synthesised prompt: a single
// user-role message describing a fired task, never persisted as a Turn.
type SchedulingContext struct {
	TaskName     string
	TriggerHuman string
	Message      string
}

// Assemble builds the ordered transcript for one chat-model call.
func Assemble(in Input) llm.Request {
	system := buildSystemBlock(in.Profile, in.RecentSummaries, in.Retrieval)

	var messages []llm.Message
	for _, t := range in.HistoryTail {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Text})
	}

	messages = append(messages, llm.Message{Role: models.RoleUser, Content: currentRequestText(in)})

	return llm.Request{
		System:   system,
		Messages: messages,
		Tools:    in.Tools,
	}
}

func currentRequestText(in Input) string {
	if in.SchedulingContext != nil {
		sc := in.SchedulingContext
		return fmt.Sprintf("[SYSTEM_SCHEDULED_TASK] Task %q fired at %s.\n%s", sc.TaskName, sc.TriggerHuman, sc.Message)
	}
	return in.UserInput
}

func buildSystemBlock(profile json.RawMessage, summaries []models.Summary, retrieval models.RetrievalResult) string {
	var b strings.Builder
	b.WriteString(personaPreamble)
	b.WriteString("\n\n<profile>\n")
	b.Write(profile)
	b.WriteString("\n</profile>\n")

	if len(summaries) > 0 {
		b.WriteString("\n<recent_summaries>\n")
		for _, s := range summaries {
			fmt.Fprintf(&b, "- %s\n", s.Text)
		}
		b.WriteString("</recent_summaries>\n")
	}

	if len(retrieval.Summaries) > 0 || len(retrieval.Turns) > 0 {
		b.WriteString("\n<retrieved_memories>\n")
		for _, s := range retrieval.Summaries {
			fmt.Fprintf(&b, "- [%s] %s\n", s.HumanTime, s.Text)
		}
		for _, t := range retrieval.Turns {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", t.HumanTime, t.Role, t.Text)
		}
		b.WriteString("</retrieved_memories>\n")
	}

	return b.String()
}
