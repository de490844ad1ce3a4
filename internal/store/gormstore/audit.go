package gormstore

import (
	"context"
	"fmt"
	"time"

	"wa_command_bot/internal/domain"
)

// AppendCommandLog writes one audit record.
func (s *Store) AppendCommandLog(ctx context.Context, entry domain.CommandLog) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = s.now()
	}
	entry.ID = 0

	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("append command log: %w", err)
	}
	return nil
}

// CommandStats aggregates audit records by command, optionally since a time.
func (s *Store) CommandStats(ctx context.Context, since time.Time) ([]domain.CommandStat, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&domain.CommandLog{}).Select(
		"command, COUNT(*) AS total, " +
			"SUM(CASE WHEN success THEN 1 ELSE 0 END) AS successful, " +
			"SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failed",
	)
	if !since.IsZero() {
		query = query.Where("executed_at >= ?", since.UTC())
	}

	var stats []domain.CommandStat
	if err := query.Group("command").Order("total DESC, command").Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("command stats: %w", err)
	}
	return stats, nil
}

// RecentCommandLogs returns the latest records for a user, newest first.
func (s *Store) RecentCommandLogs(ctx context.Context, userID string, limit int) ([]domain.CommandLog, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var logs []domain.CommandLog
	err = db.Where("user_id = ?", userID).Order("executed_at DESC, id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("recent command logs: %w", err)
	}
	return logs, nil
}
