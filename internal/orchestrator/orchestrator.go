// Package orchestrator runs the tool-calling loop around the chat-model
// provider. Each user turn goes assemble -> call -> {final | tool calls}
// until the model emits a final message or the iteration bound is hit; only
// the user text and the final assistant text are persisted as Turns.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fluviusmagnus/Seelenmaschine/internal/contextwindow"
	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/metrics"
	"github.com/fluviusmagnus/Seelenmaschine/internal/promptassembler"
	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/llm"
	"github.com/fluviusmagnus/Seelenmaschine/internal/retriever"
	"github.com/fluviusmagnus/Seelenmaschine/internal/tools"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

const exhaustedMessage = "I hit the limit on tool calls for this message, so I stopped before finishing. Could you try again or narrow the request?"

// Notifier delivers proactive assistant text produced by a scheduler firing
// back to the user (the transport adapter implements this).
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Profile supplies the prompt assembler's profile snapshot from the
// in-memory cache; prompt assembly never reads the disk.
type Profile interface {
	Snapshot() json.RawMessage
}

// Config bounds the orchestrator loop.
type Config struct {
	// MaxToolIterations caps tool-call loop iterations per user turn.
	// Defaults to 8.
	MaxToolIterations int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator mediates one conversation between the transport, the memory
// subsystem, the tool registry, and the chat-model provider.
type Orchestrator struct {
	window    *contextwindow.Window
	retriever *retriever.Retriever
	profile   Profile
	provider  llm.Provider
	registry  *tools.Registry
	humanizer *datetime.Humanizer
	notifier  Notifier
	config    Config
	logger    *slog.Logger

	// Serializes user and scheduler turns: a firing never interleaves
	// with an in-flight user turn.
	mu sync.Mutex
}

// New wires an Orchestrator. notifier may be nil until the transport is up;
// SetNotifier installs it later.
func New(window *contextwindow.Window, ret *retriever.Retriever, profile Profile, provider llm.Provider, registry *tools.Registry, humanizer *datetime.Humanizer, config Config) *Orchestrator {
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = 8
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		window:    window,
		retriever: ret,
		profile:   profile,
		provider:  provider,
		registry:  registry,
		humanizer: humanizer,
		config:    config,
		logger:    logger.With("component", "orchestrator"),
	}
}

// SetNotifier installs the transport's proactive-message sink.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = n
}

// HandleUserTurn processes one inbound user message end to end and returns
// the final assistant text. A storage failure persisting the user's input is
// returned to the caller so the transport can apologise and retry; the input
// is never silently dropped.
func (o *Orchestrator) HandleUserTurn(ctx context.Context, text string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, err := o.window.EnsureActiveSession(ctx)
	if err != nil {
		return "", err
	}

	lastAssistant, err := o.lastAssistantText(ctx)
	if err != nil {
		o.logger.Warn("could not resolve last assistant turn", "error", err)
	}

	if _, _, err := o.window.Append(ctx, models.RoleUser, text); err != nil {
		return "", err
	}

	recall, err := o.retriever.Recall(ctx, text, lastAssistant, sess.ID)
	if err != nil {
		o.logger.Warn("retrieval failed, continuing without recalls", "error", err)
		recall = models.RetrievalResult{}
	}

	view := o.registry.View() // user turns see every tool
	final, err := o.runLoop(ctx, promptassembler.Input{
		UserInput: text,
		Retrieval: recall,
		Tools:     view.Defs(),
	}, view)
	if err != nil {
		return "", err
	}

	_, compact, err := o.window.Append(ctx, models.RoleAssistant, final)
	if err != nil {
		return "", err
	}
	if compact {
		if err := o.window.CompactIfNeeded(ctx); err != nil {
			o.logger.Warn("compaction deferred", "error", err)
		}
	}
	return final, nil
}

// HandleScheduledTask runs a scheduler firing: a synthetic user-role prompt
// that is never persisted; only the assistant response is stored, and the
// task-management tool is hidden for the duration of the turn so a scheduled
// turn cannot schedule further tasks.
func (o *Orchestrator) HandleScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, err := o.window.EnsureActiveSession(ctx)
	if err != nil {
		return err
	}

	lastAssistant, err := o.lastAssistantText(ctx)
	if err != nil {
		o.logger.Warn("could not resolve last assistant turn", "error", err)
	}

	recall, err := o.retriever.Recall(ctx, task.Message, lastAssistant, sess.ID)
	if err != nil {
		o.logger.Warn("retrieval failed for scheduled turn", "error", err)
		recall = models.RetrievalResult{}
	}

	view := o.registry.View("scheduled_task")
	final, err := o.runLoop(ctx, promptassembler.Input{
		SchedulingContext: &promptassembler.SchedulingContext{
			TaskName:     task.Name,
			TriggerHuman: o.humanizer.Format(task.NextRunAt),
			Message:      task.Message,
		},
		Retrieval: recall,
		Tools:     view.Defs(),
	}, view)
	if err != nil {
		return err
	}

	if _, compact, err := o.window.Append(ctx, models.RoleAssistant, final); err != nil {
		return err
	} else if compact {
		if err := o.window.CompactIfNeeded(ctx); err != nil {
			o.logger.Warn("compaction deferred", "error", err)
		}
	}

	if o.notifier == nil {
		return apperr.New(apperr.KindUpstreamFailure, "orchestrator.scheduled_task", "no transport to deliver proactive message")
	}
	return o.notifier.Notify(ctx, final)
}

// NewSession finalises the active session and rotates to a fresh one (/new).
func (o *Orchestrator) NewSession(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.window.New(ctx)
	return err
}

// ResetSession hard-deletes the active session (/reset).
func (o *Orchestrator) ResetSession(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.window.Reset(ctx)
	return err
}

// runLoop drives the assemble -> call -> execute-tools cycle until the model
// emits a final message or MaxToolIterations is exceeded. Intermediate tool
// calls and results live only in the in-memory transcript; they are never
// persisted as Turns.
func (o *Orchestrator) runLoop(ctx context.Context, in promptassembler.Input, view *tools.View) (string, error) {
	tail, err := o.window.Tail(ctx)
	if err != nil {
		return "", err
	}
	// The current user input is appended by the assembler itself; drop it
	// from the tail when it was already persisted (user turns only).
	if in.SchedulingContext == nil && len(tail) > 0 && tail[len(tail)-1].Role == models.RoleUser && tail[len(tail)-1].Text == in.UserInput {
		tail = tail[:len(tail)-1]
	}
	in.HistoryTail = tail

	summaries, err := o.window.RecentSummaries(ctx)
	if err != nil {
		o.logger.Warn("could not load recent summaries", "error", err)
	}
	in.RecentSummaries = summaries
	in.Profile = o.profile.Snapshot()

	req := promptassembler.Assemble(in)

	for iteration := 1; iteration <= o.config.MaxToolIterations; iteration++ {
		resp, err := o.provider.Complete(ctx, req)
		if err != nil {
			return "", apperr.Wrap(apperr.KindUpstreamFailure, "orchestrator.complete", err)
		}

		if len(resp.ToolCalls) == 0 {
			if o.config.Metrics != nil {
				o.config.Metrics.OrchestratorIterations.Observe(float64(iteration))
			}
			if resp.Text == "" {
				return "", apperr.New(apperr.KindUpstreamFailure, "orchestrator.complete", "model returned neither text nor tool calls")
			}
			return resp.Text, nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		var results []models.ToolResult
		for _, tc := range resp.ToolCalls {
			result := view.Execute(ctx, tc.Name, tc.Input)
			outcome := "ok"
			if result.IsError {
				outcome = "error"
				o.logger.Warn("tool call failed", "tool", tc.Name, "result", result.Content)
			}
			if o.config.Metrics != nil {
				o.config.Metrics.ToolCallOutcomes.WithLabelValues(tc.Name, outcome).Inc()
			}
			results = append(results, models.ToolResult{
				ToolCallID: tc.ID,
				Content:    result.Content,
				IsError:    result.IsError,
			})
		}
		req.Messages = append(req.Messages, llm.Message{
			Role:        models.RoleUser,
			ToolResults: results,
		})
	}

	o.logger.Warn("max tool iterations exceeded", "limit", o.config.MaxToolIterations)
	if o.config.Metrics != nil {
		o.config.Metrics.OrchestratorIterations.Observe(float64(o.config.MaxToolIterations))
	}
	return exhaustedMessage, nil
}

// lastAssistantText finds the most recent assistant turn in the window
// tail; it is the retriever's second query input.
func (o *Orchestrator) lastAssistantText(ctx context.Context) (string, error) {
	tail, err := o.window.Tail(ctx)
	if err != nil {
		return "", err
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i].Role == models.RoleAssistant {
			return tail[i].Text, nil
		}
	}
	return "", nil
}
