package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

type fakeInvoker struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeInvoker) HandleScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, task.Message)
	return nil
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), 3)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestOnceTaskNeverRefires is the historical-regression test: after one
// successful firing a once task is completed, and later ticks do not fire
// it again.
func TestOnceTaskNeverRefires(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	invoker := &fakeInvoker{}
	sched := New(st, invoker, Config{PollInterval: time.Hour})

	now := datetime.Now()
	task := &models.ScheduledTask{
		ID:          "once-1",
		Name:        "say M",
		TriggerType: models.TriggerOnce,
		Trigger:     models.TriggerConfig{Timestamp: now - 1},
		Message:     "M",
		CreatedAt:   now - 10,
		NextRunAt:   now - 1,
		Status:      models.TaskActive,
	}
	if err := st.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	for i := 0; i < 5; i++ {
		sched.Tick(ctx)
	}

	if invoker.count() != 1 {
		t.Fatalf("expected exactly one firing, got %d", invoker.count())
	}
	got, err := st.GetTask(ctx, "once-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestIntervalTaskAdvances(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	invoker := &fakeInvoker{}
	sched := New(st, invoker, Config{PollInterval: time.Hour})

	now := datetime.Now()
	task := &models.ScheduledTask{
		ID:          "interval-1",
		Name:        "check in",
		TriggerType: models.TriggerInterval,
		Trigger:     models.TriggerConfig{Interval: 3600},
		Message:     "ping",
		CreatedAt:   now - 10,
		NextRunAt:   now - 1,
		Status:      models.TaskActive,
	}
	if err := st.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	sched.Tick(ctx)
	sched.Tick(ctx) // next_run_at now sits an hour out, must not fire again

	if invoker.count() != 1 {
		t.Fatalf("expected one firing within the interval, got %d", invoker.count())
	}

	got, err := st.GetTask(ctx, "interval-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskActive {
		t.Fatalf("interval task must stay active, got %s", got.Status)
	}
	if got.LastRunAt == nil {
		t.Fatalf("last_run_at not recorded")
	}
	if diff := got.NextRunAt - *got.LastRunAt; diff != 3600 {
		t.Fatalf("next_run_at - last_run_at = %d, want 3600", diff)
	}
}

func TestDueTasksFireInNextRunOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	invoker := &fakeInvoker{}
	sched := New(st, invoker, Config{PollInterval: time.Hour})

	now := datetime.Now()
	for i, id := range []string{"b", "a"} {
		task := &models.ScheduledTask{
			ID:          id,
			Name:        id,
			TriggerType: models.TriggerOnce,
			Trigger:     models.TriggerConfig{Timestamp: now - int64(i+1)},
			Message:     id,
			CreatedAt:   now - 100,
			NextRunAt:   now - int64(i+1),
			Status:      models.TaskActive,
		}
		if err := st.UpsertTask(ctx, task); err != nil {
			t.Fatalf("UpsertTask: %v", err)
		}
	}

	sched.Tick(ctx)

	// "a" has the earlier next_run_at, so it fires first.
	if len(invoker.messages) != 2 || invoker.messages[0] != "a" || invoker.messages[1] != "b" {
		t.Fatalf("expected firing order [a b], got %v", invoker.messages)
	}
}

func TestSeedLoadingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	service := NewService(st, time.UTC)

	seedPath := filepath.Join(t.TempDir(), "scheduled_tasks.json")
	seed := `[
		{"name": "daily checkin", "trigger_type": "interval", "trigger_config": {"interval": 86400}, "message": "how was the day?"},
		{"name": "birthday", "trigger_type": "once", "trigger_config": {"timestamp": 99999999999}, "message": "celebrate"}
	]`
	if err := os.WriteFile(seedPath, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	created, err := service.LoadSeedFile(ctx, seedPath)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 created, got %d", created)
	}

	created, err = service.LoadSeedFile(ctx, seedPath)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if created != 0 {
		t.Fatalf("second load must be a no-op, created %d", created)
	}

	tasks, err := service.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks after double load, got %d", len(tasks))
	}
}

func TestSeedMissingFileIsNotAnError(t *testing.T) {
	st := newTestStore(t)
	service := NewService(st, time.UTC)

	created, err := service.LoadSeedFile(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing seed file: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 created, got %d", created)
	}
}

func TestServiceCreateValidation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	service := NewService(st, time.UTC)

	if _, err := service.Create(ctx, "", models.TriggerOnce, "in 5 minutes", "msg"); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := service.Create(ctx, "task", models.TriggerOnce, "garbage", "msg"); err == nil {
		t.Fatalf("expected error for unparsable trigger")
	}

	task, err := service.Create(ctx, "task", models.TriggerInterval, "5m", "msg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Trigger.Interval != 300 {
		t.Fatalf("expected 300s interval, got %d", task.Trigger.Interval)
	}
	if task.NextRunAt <= task.CreatedAt {
		t.Fatalf("next_run_at must exceed created_at")
	}
}
