package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wa_command_bot/internal/domain"
)

// RecordMessage bumps the message counter and last-active time.
func (s *Store) RecordMessage(ctx context.Context, userID, chatID string, at time.Time) error {
	return s.bumpStats(ctx, domain.UserStats{UserID: userID, ChatID: chatID, MessagesSent: 1, LastActive: at.UTC()}, "messages_sent", true)
}

// RecordCommand bumps the command counter and last-active time.
func (s *Store) RecordCommand(ctx context.Context, userID, chatID string, at time.Time) error {
	return s.bumpStats(ctx, domain.UserStats{UserID: userID, ChatID: chatID, CommandsUsed: 1, LastActive: at.UTC()}, "commands_used", true)
}

// RecordWarning bumps the warnings-received counter.
func (s *Store) RecordWarning(ctx context.Context, userID, chatID string) error {
	return s.bumpStats(ctx, domain.UserStats{UserID: userID, ChatID: chatID, WarningsReceived: 1}, "warnings_received", false)
}

// UserStats sums a user's counters across chats.
func (s *Store) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return domain.UserStats{}, err
	}

	var rows []domain.UserStats
	if err := db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return domain.UserStats{}, fmt.Errorf("user stats: %w", err)
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

func (s *Store) bumpStats(ctx context.Context, row domain.UserStats, column string, touch bool) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if row.UserID == "" {
		return errors.New("user id is required")
	}

	assignments := map[string]interface{}{
		column: gorm.Expr("user_stats." + column + " + 1"),
	}
	if touch {
		assignments["last_active"] = row.LastActive
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "chat_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}
