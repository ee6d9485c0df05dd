package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

// Service exposes the task-management operations (create, list, get, pause,
// resume, cancel) to the scheduled_task tool and the seed loader.
type Service struct {
	store *store.Store
	loc   *time.Location
}

// NewService builds a Service; loc is the configured IANA zone used to
// interpret zoneless trigger specifications.
func NewService(st *store.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: st, loc: loc}
}

// Create parses the trigger specification and persists a new active task.
func (s *Service) Create(ctx context.Context, name string, triggerType models.TaskTriggerType, triggerSpec, message string) (*models.ScheduledTask, error) {
	if name == "" {
		return nil, apperr.New(apperr.KindBadArgument, "scheduler.create", "task name is required")
	}
	if message == "" {
		return nil, apperr.New(apperr.KindBadArgument, "scheduler.create", "task message is required")
	}

	now := datetime.Now()
	task := &models.ScheduledTask{
		ID:          uuid.NewString(),
		Name:        name,
		TriggerType: triggerType,
		Message:     message,
		CreatedAt:   now,
		Status:      models.TaskActive,
	}

	switch triggerType {
	case models.TriggerOnce:
		at, err := ParseOnce(triggerSpec, now, s.loc)
		if err != nil {
			return nil, err
		}
		if at <= now {
			return nil, apperr.New(apperr.KindBadArgument, "scheduler.create", "trigger time is in the past")
		}
		task.Trigger = models.TriggerConfig{Timestamp: at}
		task.NextRunAt = at
	case models.TriggerInterval:
		interval, err := ParseInterval(triggerSpec)
		if err != nil {
			return nil, err
		}
		task.Trigger = models.TriggerConfig{Interval: interval}
		task.NextRunAt = now + interval
	default:
		return nil, apperr.New(apperr.KindBadArgument, "scheduler.create", "trigger_type must be once or interval")
	}

	if err := s.store.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// List returns every persisted task regardless of status.
func (s *Service) List(ctx context.Context) ([]*models.ScheduledTask, error) {
	return s.store.ListTasks(ctx)
}

// Get fetches a single task by id.
func (s *Service) Get(ctx context.Context, taskID string) (*models.ScheduledTask, error) {
	return s.store.GetTask(ctx, taskID)
}

// Pause transitions an active task to paused.
func (s *Service) Pause(ctx context.Context, taskID string) error {
	return s.store.SetTaskStatus(ctx, taskID, models.TaskPaused)
}

// Resume transitions a paused task back to active.
func (s *Service) Resume(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskCompleted {
		return apperr.New(apperr.KindConflict, "scheduler.resume", "completed tasks cannot be resumed")
	}
	return s.store.SetTaskStatus(ctx, taskID, models.TaskActive)
}

// Cancel marks a task completed so it never fires again.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	return s.store.SetTaskStatus(ctx, taskID, models.TaskCompleted)
}

// seedTask is one entry of the optional JSON seed file loaded at startup.
type seedTask struct {
	Name          string                 `json:"name"`
	TriggerType   models.TaskTriggerType `json:"trigger_type"`
	TriggerConfig models.TriggerConfig   `json:"trigger_config"`
	Message       string                 `json:"message"`
}

// LoadSeedFile merges the preset tasks at path into the store, idempotent on
// (name, trigger_type, trigger_config) identity: a task whose identity triple
// already exists is skipped, so loading the same file twice yields the same
// task count as loading it once. A missing file is not an error.
func (s *Service) LoadSeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreUnavailable, "scheduler.load_seed", err)
	}

	var seeds []seedTask
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, apperr.Wrap(apperr.KindBadArgument, "scheduler.load_seed", err)
	}

	existing, err := s.store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}

	now := datetime.Now()
	created := 0
	for _, seed := range seeds {
		if seedExists(existing, seed) {
			continue
		}
		task := &models.ScheduledTask{
			ID:          uuid.NewString(),
			Name:        seed.Name,
			TriggerType: seed.TriggerType,
			Trigger:     seed.TriggerConfig,
			Message:     seed.Message,
			CreatedAt:   now,
			Status:      models.TaskActive,
		}
		switch seed.TriggerType {
		case models.TriggerOnce:
			if seed.TriggerConfig.Timestamp <= 0 {
				return created, apperr.New(apperr.KindBadArgument, "scheduler.load_seed", "once seed task requires a positive timestamp")
			}
			task.NextRunAt = seed.TriggerConfig.Timestamp
		case models.TriggerInterval:
			if seed.TriggerConfig.Interval <= 0 {
				return created, apperr.New(apperr.KindBadArgument, "scheduler.load_seed", "interval seed task requires a positive interval")
			}
			task.NextRunAt = now + seed.TriggerConfig.Interval
		default:
			return created, apperr.New(apperr.KindBadArgument, "scheduler.load_seed", "seed trigger_type must be once or interval")
		}
		if err := s.store.UpsertTask(ctx, task); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func seedExists(existing []*models.ScheduledTask, seed seedTask) bool {
	for _, t := range existing {
		if t.Name == seed.Name && t.TriggerType == seed.TriggerType && t.Trigger == seed.TriggerConfig {
			return true
		}
	}
	return false
}
