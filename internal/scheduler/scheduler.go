// Package scheduler implements the persistent timer behind proactive turns:
// a poll loop that finds due tasks in the Store and fires synthetic prompts
// into the Orchestrator, updating task state atomically with each attempt so
// `once` tasks can never refire.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/metrics"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/pkg/models"
)

// Invoker is the Orchestrator entry point a firing calls into; the
// task-tool recursion guard is applied on the other side.
type Invoker interface {
	HandleScheduledTask(ctx context.Context, task *models.ScheduledTask) error
}

// Config configures the scheduler poll loop.
type Config struct {
	// PollInterval is how often the scheduler checks for due tasks.
	// Defaults to 10 seconds.
	PollInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Scheduler polls the Store for due tasks and fires them in next_run_at
// ascending order.
type Scheduler struct {
	store   *store.Store
	invoker Invoker
	config  Config
	logger  *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New creates a scheduler around the store and orchestrator invoker.
func New(st *store.Store, invoker Invoker, config Config) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   st,
		invoker: invoker,
		config:  config,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start begins the poll loop. Safe to call once; a second call is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("starting scheduler", "poll_interval", s.config.PollInterval)

	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// Stop shuts the poll loop down and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start so restarts pick up overdue tasks.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due task once, in next_run_at ascending order. Exported
// so tests can drive the scheduler without real time.
func (s *Scheduler) Tick(ctx context.Context) {
	now := datetime.Now()
	tasks, err := s.store.TasksDue(ctx, now)
	if err != nil {
		s.logger.Error("failed to load due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		s.fire(ctx, task)
	}
}

// fire invokes the orchestrator for one due task and records the attempt.
// The state update is committed before control yields back to the loop so a
// subsequent tick can never observe the task as still due. A firing failure
// still advances the task: `once` tasks are marked completed rather than
// retried forever.
func (s *Scheduler) fire(ctx context.Context, task *models.ScheduledTask) {
	err := s.invoker.HandleScheduledTask(ctx, task)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Warn("scheduled task firing failed", "task_id", task.ID, "task_name", task.Name, "error", err)
	}
	if s.config.Metrics != nil {
		s.config.Metrics.SchedulerFirings.WithLabelValues(string(task.TriggerType), outcome).Inc()
	}

	now := datetime.Now()
	var next int64
	completeIfOnce := false
	switch task.TriggerType {
	case models.TriggerOnce:
		next = task.NextRunAt
		completeIfOnce = true
	case models.TriggerInterval:
		next = now + task.Trigger.Interval
	}

	if err := s.store.SetTaskNextRun(ctx, task.ID, next, now, completeIfOnce); err != nil {
		s.logger.Error("failed to record task firing", "task_id", task.ID, "error", err)
	}
}
