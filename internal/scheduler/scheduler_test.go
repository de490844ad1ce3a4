package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"wa_command_bot/internal/domain"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	seq   int
	tasks map[string]domain.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]domain.Task)}
}

func (f *fakeTaskStore) CreateTask(_ context.Context, task domain.Task) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if task.ID == "" {
		task.ID = fmt.Sprintf("task-%d", f.seq)
	}
	task.Status = domain.TaskPending
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskStore) PendingTasks(context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Task
	for _, t := range f.tasks {
		if t.Status == domain.TaskPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) finish(id string, fn func(*domain.Task)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Status != domain.TaskPending {
		return domain.ErrNotFound
	}
	fn(&t)
	f.tasks[id] = t
	return nil
}

func (f *fakeTaskStore) CompleteTask(_ context.Context, id string) error {
	return f.finish(id, func(t *domain.Task) { t.Status = domain.TaskDone; t.Attempts++ })
}

func (f *fakeTaskStore) FailTask(_ context.Context, id, reason string) error {
	return f.finish(id, func(t *domain.Task) { t.Status = domain.TaskFailed; t.LastError = reason; t.Attempts++ })
}

func (f *fakeTaskStore) CancelTask(_ context.Context, id string) error {
	return f.finish(id, func(t *domain.Task) { t.Status = domain.TaskCancelled })
}

func (f *fakeTaskStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].Status
}

func newTestScheduler(t *testing.T, store domain.TaskStore) *Scheduler {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	s, err := New(store, logger.WithField("test", t.Name()))
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleRunsDueTask(t *testing.T) {
	store := newFakeTaskStore()
	s := newTestScheduler(t, store)

	fired := make(chan domain.Task, 1)
	s.Handle(KindReminder, func(_ context.Context, task domain.Task) error {
		fired <- task
		return nil
	})
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	task, err := s.Schedule(context.Background(), domain.Task{
		Kind:    KindReminder,
		UserID:  "1@s.whatsapp.net",
		Payload: "stretch",
		RunAt:   time.Now().Add(20 * time.Millisecond),
	})
	require.NoError(t, err)

	select {
	case got := <-fired:
		require.Equal(t, "stretch", got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire")
	}
	require.Eventually(t, func() bool { return store.status(task.ID) == domain.TaskDone }, time.Second, 10*time.Millisecond)
	require.Zero(t, s.Pending())
}

func TestStartRecoversPendingTasks(t *testing.T) {
	store := newFakeTaskStore()
	ctx := context.Background()
	overdue, _ := store.CreateTask(ctx, domain.Task{Kind: KindUnmute, UserID: "a", RunAt: time.Now().Add(-time.Hour)})
	future, _ := store.CreateTask(ctx, domain.Task{Kind: KindUnmute, UserID: "b", RunAt: time.Now().Add(time.Hour)})

	s := newTestScheduler(t, store)
	var mu sync.Mutex
	var ran []string
	s.Handle(KindUnmute, func(_ context.Context, task domain.Task) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, task.UserID)
		return nil
	})

	recovered, err := s.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, recovered)

	require.Eventually(t, func() bool { return store.status(overdue.ID) == domain.TaskDone }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, domain.TaskPending, store.status(future.ID))
	require.Equal(t, 1, s.Pending())

	mu.Lock()
	require.Equal(t, []string{"a"}, ran)
	mu.Unlock()

	s.Stop()
	require.Zero(t, s.Pending())
	require.Equal(t, domain.TaskPending, store.status(future.ID))
}

func TestFailedAndPanickingTasksAreRecorded(t *testing.T) {
	store := newFakeTaskStore()
	s := newTestScheduler(t, store)
	s.Handle("fails", func(context.Context, domain.Task) error { return errors.New("recipient gone") })
	s.Handle("panics", func(context.Context, domain.Task) error { panic("bad payload") })
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	failing, err := s.Schedule(context.Background(), domain.Task{Kind: "fails", RunAt: time.Now()})
	require.NoError(t, err)
	panicking, err := s.Schedule(context.Background(), domain.Task{Kind: "panics", RunAt: time.Now()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.status(failing.ID) == domain.TaskFailed && store.status(panicking.ID) == domain.TaskFailed
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	require.Equal(t, "recipient gone", store.tasks[failing.ID].LastError)
	require.Contains(t, store.tasks[panicking.ID].LastError, "bad payload")
	store.mu.Unlock()
}

func TestCancelPreventsExecution(t *testing.T) {
	store := newFakeTaskStore()
	s := newTestScheduler(t, store)
	called := make(chan struct{}, 1)
	s.Handle(KindReminder, func(context.Context, domain.Task) error {
		called <- struct{}{}
		return nil
	})
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	task, err := s.Schedule(context.Background(), domain.Task{Kind: KindReminder, RunAt: time.Now().Add(100 * time.Millisecond)})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(context.Background(), task.ID))

	select {
	case <-called:
		t.Fatal("cancelled task ran")
	case <-time.After(250 * time.Millisecond):
	}
	require.Equal(t, domain.TaskCancelled, store.status(task.ID))
}

func TestScheduleValidates(t *testing.T) {
	s := newTestScheduler(t, newFakeTaskStore())
	ctx := context.Background()

	_, err := s.Schedule(ctx, domain.Task{RunAt: time.Now()})
	require.Error(t, err)
	_, err = s.Schedule(ctx, domain.Task{Kind: KindReminder})
	require.Error(t, err)
	_, err = s.Schedule(ctx, domain.Task{Kind: "unknown", RunAt: time.Now()})
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)
}
