// Package scheduledtask implements the built-in scheduled_task tool:
// create, list, get, pause, resume, and cancel operations over the
// persistent task store. The Orchestrator hides this tool during a
// scheduler-fired turn so a scheduled turn can never schedule further tasks.
package scheduledtask

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/scheduler"
	"github.com/fluviusmagnus/Seelenmaschine/internal/tools"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

// ToolName is the tool name the Orchestrator's recursion guard hides.
const ToolName = "scheduled_task"

// Tool exposes task management to the LLM.
type Tool struct {
	service   *scheduler.Service
	humanizer *datetime.Humanizer
}

var _ tools.Tool = (*Tool)(nil)

// New builds the scheduled_task tool around the scheduler service.
func New(service *scheduler.Service, humanizer *datetime.Humanizer) *Tool {
	return &Tool{service: service, humanizer: humanizer}
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string {
	return "Manage scheduled tasks that proactively message the user later. Actions: " +
		"create, list, get, pause, resume, cancel. For one-off tasks, trigger accepts " +
		"epoch seconds, an ISO-8601 datetime, 'in N seconds|minutes|hours|days', " +
		"'tomorrow', or 'next week'. For recurring tasks, trigger accepts '30s', '5m', " +
		"'1h', '1d', '1w', or a number of seconds."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["create", "list", "get", "pause", "resume", "cancel"]},
    "task_id": {"type": "string", "description": "Task id, required for get/pause/resume/cancel"},
    "name": {"type": "string", "description": "Short task name, required for create"},
    "trigger_type": {"type": "string", "enum": ["once", "interval"], "description": "Required for create"},
    "trigger": {"type": "string", "description": "When the task fires, required for create"},
    "message": {"type": "string", "description": "Briefing handed to the assistant when the task fires, required for create"}
  },
  "required": ["action"]
}`)
}

type input struct {
	Action      string `json:"action"`
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	TriggerType string `json:"trigger_type"`
	Trigger     string `json:"trigger"`
	Message     string `json:"message"`
}

// Execute dispatches on action. Every failure comes back as an IsError
// result so the tool-calling loop continues.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in input
	if err := json.Unmarshal(params, &in); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}

	switch in.Action {
	case "create":
		task, err := t.service.Create(ctx, in.Name, models.TaskTriggerType(in.TriggerType), in.Trigger, in.Message)
		if err != nil {
			return &tools.Result{Content: err.Error(), IsError: true}, nil
		}
		return &tools.Result{Content: fmt.Sprintf("Task %q created (id %s), next run %s.",
			task.Name, task.ID, t.humanizer.Format(task.NextRunAt))}, nil

	case "list":
		taskList, err := t.service.List(ctx)
		if err != nil {
			return &tools.Result{Content: err.Error(), IsError: true}, nil
		}
		if len(taskList) == 0 {
			return &tools.Result{Content: "no scheduled tasks"}, nil
		}
		var b strings.Builder
		for _, task := range taskList {
			fmt.Fprintf(&b, "%s\n", t.describe(task))
		}
		return &tools.Result{Content: b.String()}, nil

	case "get":
		if in.TaskID == "" {
			return &tools.Result{Content: "task_id is required", IsError: true}, nil
		}
		task, err := t.service.Get(ctx, in.TaskID)
		if err != nil {
			return &tools.Result{Content: err.Error(), IsError: true}, nil
		}
		return &tools.Result{Content: t.describe(task)}, nil

	case "pause", "resume", "cancel":
		if in.TaskID == "" {
			return &tools.Result{Content: "task_id is required", IsError: true}, nil
		}
		var err error
		switch in.Action {
		case "pause":
			err = t.service.Pause(ctx, in.TaskID)
		case "resume":
			err = t.service.Resume(ctx, in.TaskID)
		case "cancel":
			err = t.service.Cancel(ctx, in.TaskID)
		}
		if err != nil {
			return &tools.Result{Content: err.Error(), IsError: true}, nil
		}
		return &tools.Result{Content: fmt.Sprintf("task %s %sd", in.TaskID, in.Action)}, nil

	default:
		return &tools.Result{Content: fmt.Sprintf("unknown action %q", in.Action), IsError: true}, nil
	}
}

func (t *Tool) describe(task *models.ScheduledTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (%s, %s)", task.ID, task.Name, task.TriggerType, task.Status)
	if task.Status == models.TaskActive {
		fmt.Fprintf(&b, " next run %s", t.humanizer.Format(task.NextRunAt))
	}
	if task.TriggerType == models.TriggerInterval {
		fmt.Fprintf(&b, " every %ds", task.Trigger.Interval)
	}
	if task.LastRunAt != nil {
		fmt.Fprintf(&b, " last run %s", t.humanizer.Format(*task.LastRunAt))
	}
	fmt.Fprintf(&b, ": %s", task.Message)
	return b.String()
}
