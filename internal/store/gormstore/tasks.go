package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wa_command_bot/internal/domain"
)

// CreateTask persists a pending task, assigning an id when missing.
func (s *Store) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Kind == "" {
		return domain.Task{}, errors.New("task kind is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	now := s.now()
	task.Status = domain.TaskPending
	task.RunAt = task.RunAt.UTC()
	task.CreatedAt, task.UpdatedAt = now, now

	if err := db.Create(&task).Error; err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// PendingTasks returns all pending tasks ordered by due time.
func (s *Store) PendingTasks(ctx context.Context) ([]domain.Task, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []domain.Task
	if err := db.Where("status = ?", domain.TaskPending).Order("run_at").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("pending tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	return s.finishTask(ctx, id, map[string]interface{}{"status": domain.TaskDone})
}

// FailTask marks a task failed and records the reason.
func (s *Store) FailTask(ctx context.Context, id string, reason string) error {
	return s.finishTask(ctx, id, map[string]interface{}{"status": domain.TaskFailed, "last_error": reason})
}

// CancelTask marks a pending task cancelled.
func (s *Store) CancelTask(ctx context.Context, id string) error {
	return s.finishTask(ctx, id, map[string]interface{}{"status": domain.TaskCancelled})
}

func (s *Store) finishTask(ctx context.Context, id string, updates map[string]interface{}) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}

	updates["updated_at"] = s.now()
	updates["attempts"] = gorm.Expr("attempts + 1")
	result := db.Model(&domain.Task{}).Where("id = ? AND status = ?", id, domain.TaskPending).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
