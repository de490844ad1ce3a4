package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wa_command_bot/internal/domain"
)

// AppendCommandLog writes one audit record.
func (s *Store) AppendCommandLog(ctx context.Context, entry domain.CommandLog) error {
	logs, err := s.coll(ctx, CollectionCommandLogs)
	if err != nil {
		return err
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = s.now()
	}
	if entry.ID == 0 {
		entry.ID = time.Now().UnixNano()
	}

	if _, err := logs.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("append command log: %w", err)
	}
	return nil
}

// CommandStats aggregates audit records by command, optionally since a time.
func (s *Store) CommandStats(ctx context.Context, since time.Time) ([]domain.CommandStat, error) {
	logs, err := s.coll(ctx, CollectionCommandLogs)
	if err != nil {
		return nil, err
	}

	pipeline := bson.A{}
	if !since.IsZero() {
		pipeline = append(pipeline, bson.M{"$match": bson.M{"executed_at": bson.M{"$gte": since.UTC()}}})
	}
	pipeline = append(pipeline,
		bson.M{"$group": bson.M{
			"_id":        "$command",
			"total":      bson.M{"$sum": 1},
			"successful": bson.M{"$sum": bson.M{"$cond": bson.A{"$success", 1, 0}}},
			"failed":     bson.M{"$sum": bson.M{"$cond": bson.A{"$success", 0, 1}}},
		}},
		bson.M{"$sort": bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}},
	)

	cursor, err := logs.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("command stats: %w", err)
	}

	var stats []domain.CommandStat
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("decode command stats: %w", err)
	}
	return stats, nil
}

// RecentCommandLogs returns the latest records for a user, newest first.
func (s *Store) RecentCommandLogs(ctx context.Context, userID string, limit int) ([]domain.CommandLog, error) {
	logs, err := s.coll(ctx, CollectionCommandLogs)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := logs.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("recent command logs: %w", err)
	}

	var out []domain.CommandLog
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode command logs: %w", err)
	}
	return out, nil
}

// RecordMessage bumps the message counter and last-active time.
func (s *Store) RecordMessage(ctx context.Context, userID, chatID string, at time.Time) error {
	return s.bumpStats(ctx, userID, chatID, "messages_sent", at)
}

// RecordCommand bumps the command counter and last-active time.
func (s *Store) RecordCommand(ctx context.Context, userID, chatID string, at time.Time) error {
	return s.bumpStats(ctx, userID, chatID, "commands_used", at)
}

// RecordWarning bumps the warnings-received counter.
func (s *Store) RecordWarning(ctx context.Context, userID, chatID string) error {
	return s.bumpStats(ctx, userID, chatID, "warnings_received", time.Time{})
}

// UserStats sums a user's counters across chats.
func (s *Store) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats, err := s.coll(ctx, CollectionUserStats)
	if err != nil {
		return domain.UserStats{}, err
	}

	cursor, err := stats.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("user stats: %w", err)
	}

	var rows []domain.UserStats
	if err := cursor.All(ctx, &rows); err != nil {
		return domain.UserStats{}, fmt.Errorf("decode user stats: %w", err)
	}

	total := domain.UserStats{UserID: userID}
	for _, row := range rows {
		total.CommandsUsed += row.CommandsUsed
		total.MessagesSent += row.MessagesSent
		total.WarningsReceived += row.WarningsReceived
		if row.LastActive.After(total.LastActive) {
			total.LastActive = row.LastActive
		}
	}
	return total, nil
}

func (s *Store) bumpStats(ctx context.Context, userID, chatID, field string, at time.Time) error {
	stats, err := s.coll(ctx, CollectionUserStats)
	if err != nil {
		return err
	}
	if userID == "" {
		return errors.New("user id is required")
	}

	update := bson.M{"$inc": bson.M{field: 1}}
	if !at.IsZero() {
		update["$set"] = bson.M{"last_active": at.UTC()}
	}

	_, err = stats.UpdateOne(ctx, bson.M{"user_id": userID, "chat_id": chatID}, update, upsert())
	if err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}
	return nil
}

// UpsertPlugin inserts or replaces a catalog row. InstalledAt is kept from the
// first insert.
func (s *Store) UpsertPlugin(ctx context.Context, record domain.PluginRecord) error {
	plugins, err := s.coll(ctx, CollectionPlugins)
	if err != nil {
		return err
	}
	if record.Name == "" {
		return errors.New("plugin name is required")
	}

	now := s.now()
	if record.InstalledAt.IsZero() {
		record.InstalledAt = now
	}

	_, err = plugins.UpdateOne(ctx,
		bson.M{"name": record.Name},
		bson.M{
			"$set": bson.M{
				"category":     record.Category,
				"enabled":      record.Enabled,
				"file_path":    record.FilePath,
				"hash":         record.Hash,
				"metadata":     record.Metadata,
				"installed_by": record.InstalledBy,
				"updated_at":   now,
			},
			"$setOnInsert": bson.M{"installed_at": record.InstalledAt},
		},
		upsert(),
	)
	if err != nil {
		return fmt.Errorf("upsert plugin: %w", err)
	}
	return nil
}

// GetPlugin fetches a catalog row by name.
func (s *Store) GetPlugin(ctx context.Context, name string) (domain.PluginRecord, error) {
	plugins, err := s.coll(ctx, CollectionPlugins)
	if err != nil {
		return domain.PluginRecord{}, err
	}

	var record domain.PluginRecord
	if err := decodeOne(plugins.FindOne(ctx, bson.M{"name": name}), &record); err != nil {
		return domain.PluginRecord{}, fmt.Errorf("find plugin: %w", err)
	}
	return record, nil
}

// SetPluginEnabled flips the persisted enabled flag.
func (s *Store) SetPluginEnabled(ctx context.Context, name string, enabled bool) error {
	plugins, err := s.coll(ctx, CollectionPlugins)
	if err != nil {
		return err
	}

	result, err := plugins.UpdateOne(ctx, bson.M{"name": name}, bson.M{"$set": bson.M{"enabled": enabled, "updated_at": s.now()}})
	if err != nil {
		return fmt.Errorf("toggle plugin: %w", err)
	}
	if result == nil || result.MatchedCount == 0 {
		return fmt.Errorf("toggle plugin: %w", domain.ErrNotFound)
	}
	return nil
}

// DeletePlugin removes a catalog row.
func (s *Store) DeletePlugin(ctx context.Context, name string) error {
	plugins, err := s.coll(ctx, CollectionPlugins)
	if err != nil {
		return err
	}

	if _, err := plugins.DeleteOne(ctx, bson.M{"name": name}); err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	return nil
}

// ListPlugins returns all catalog rows ordered by category and name.
func (s *Store) ListPlugins(ctx context.Context) ([]domain.PluginRecord, error) {
	plugins, err := s.coll(ctx, CollectionPlugins)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := plugins.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}

	var out []domain.PluginRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode plugins: %w", err)
	}
	return out, nil
}

// CreateTask persists a pending task, assigning an id when missing.
func (s *Store) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	tasks, err := s.coll(ctx, CollectionTasks)
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

	if _, err := tasks.InsertOne(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// PendingTasks returns all pending tasks ordered by due time.
func (s *Store) PendingTasks(ctx context.Context) ([]domain.Task, error) {
	tasks, err := s.coll(ctx, CollectionTasks)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "run_at", Value: 1}})
	cursor, err := tasks.Find(ctx, bson.M{"status": domain.TaskPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("pending tasks: %w", err)
	}

	var out []domain.Task
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return out, nil
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	return s.finishTask(ctx, id, bson.M{"status": domain.TaskDone})
}

// FailTask marks a task failed and records the reason.
func (s *Store) FailTask(ctx context.Context, id string, reason string) error {
	return s.finishTask(ctx, id, bson.M{"status": domain.TaskFailed, "last_error": reason})
}

// CancelTask marks a pending task cancelled.
func (s *Store) CancelTask(ctx context.Context, id string) error {
	return s.finishTask(ctx, id, bson.M{"status": domain.TaskCancelled})
}

func (s *Store) finishTask(ctx context.Context, id string, set bson.M) error {
	tasks, err := s.coll(ctx, CollectionTasks)
	if err != nil {
		return err
	}

	set["updated_at"] = s.now()
	result, err := tasks.UpdateOne(ctx,
		bson.M{"task_id": id, "status": domain.TaskPending},
		bson.M{"$set": set, "$inc": bson.M{"attempts": 1}},
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result == nil || result.MatchedCount == 0 {
		return fmt.Errorf("update task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
