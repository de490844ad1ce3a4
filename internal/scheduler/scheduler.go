// Package scheduler runs durable deferred tasks. Tasks are persisted before
// they are armed and re-armed from the store on startup, so reminders and
// mute expiries survive restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
)

// Task kinds.
const (
	KindReminder = "reminder"
	KindUnmute   = "unmute"
)

// TaskFunc executes one due task.
type TaskFunc func(ctx context.Context, task domain.Task) error

// Scheduler arms persisted tasks with in-process timers.
type Scheduler struct {
	store  domain.TaskStore
	logger *logrus.Entry
	now    func() time.Time

	mu       sync.Mutex
	handlers map[string]TaskFunc
	timers   map[string]*time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	running  sync.WaitGroup
}

// New builds a Scheduler over store.
func New(store domain.TaskStore, logger *logrus.Entry) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("task store is not initialized")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	return &Scheduler{
		store:    store,
		logger:   logging.Component(logger, "scheduler"),
		now:      time.Now,
		handlers: make(map[string]TaskFunc),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Handle registers fn for tasks of kind.
func (s *Scheduler) Handle(kind string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

// Start re-arms every pending task; overdue ones fire immediately.
func (s *Scheduler) Start(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return 0, errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	tasks, err := s.store.PendingTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover tasks: %w", err)
	}
	for _, task := range tasks {
		s.arm(task)
	}

	s.logger.WithFields(logging.Fields{
		"event":     "tasks_recovered",
		"recovered": len(tasks),
	}).Info("scheduler started")
	return len(tasks), nil
}

// Schedule persists task and arms it when the scheduler is running.
func (s *Scheduler) Schedule(ctx context.Context, task domain.Task) (domain.Task, error) {
	if ctx == nil {
		return domain.Task{}, errors.New("context is required")
	}
	task.Kind = strings.TrimSpace(task.Kind)
	if task.Kind == "" {
		return domain.Task{}, errors.New("task kind is required")
	}
	if task.RunAt.IsZero() {
		return domain.Task{}, errors.New("task run time is required")
	}

	s.mu.Lock()
	_, known := s.handlers[task.Kind]
	s.mu.Unlock()
	if !known {
		return domain.Task{}, fmt.Errorf("no handler for task kind %q", task.Kind)
	}

	created, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("schedule task: %w", err)
	}
	s.arm(created)

	s.logger.WithFields(logging.Fields{
		"event":   "task_scheduled",
		"task_id": created.ID,
		"kind":    created.Kind,
		"run_at":  created.RunAt,
	}).Info("task scheduled")
	return created, nil
}

// Cancel disarms and cancels a pending task.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if err := s.store.CancelTask(ctx, id); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms all timers and waits for running tasks. Pending tasks stay
// pending in the store.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.running.Wait()
}

func (s *Scheduler) arm(task domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.stopped {
		return
	}
	if _, ok := s.timers[task.ID]; ok {
		return
	}

	delay := task.RunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[task.ID] = time.AfterFunc(delay, func() { s.fire(task) })
}

func (s *Scheduler) fire(task domain.Task) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[task.ID]; !ok {
		// Cancelled after the timer fired.
		s.mu.Unlock()
		return
	}
	delete(s.timers, task.ID)
	fn := s.handlers[task.Kind]
	ctx := s.ctx
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	logger := s.logger.WithFields(logging.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
	})

	var err error
	if fn == nil {
		err = fmt.Errorf("no handler for task kind %q", task.Kind)
	} else {
		err = s.run(ctx, fn, task)
	}

	if err != nil {
		logger.WithError(err).WithField("event", "task_failed").Warn("task failed")
		if ferr := s.store.FailTask(ctx, task.ID, err.Error()); ferr != nil {
			logger.WithError(ferr).WithField("event", "task_update_failed").Error("failed to record task failure")
		}
		return
	}

	logger.WithField("event", "task_completed").Info("task completed")
	if cerr := s.store.CompleteTask(ctx, task.ID); cerr != nil {
		logger.WithError(cerr).WithField("event", "task_update_failed").Error("failed to record task completion")
	}
}

func (s *Scheduler) run(ctx context.Context, fn TaskFunc, task domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, task)
}
