package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm/clause"

	"wa_command_bot/internal/domain"
)

// UpsertPlugin inserts or fully replaces a catalog row. InstalledAt is kept
// from the first insert.
func (s *Store) UpsertPlugin(ctx context.Context, record domain.PluginRecord) error {
	db, err := s.ready(ctx)
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
	record.UpdatedAt = now

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "enabled", "file_path", "hash", "metadata", "installed_by", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("upsert plugin: %w", err)
	}
	return nil
}

// GetPlugin fetches a catalog row by name.
func (s *Store) GetPlugin(ctx context.Context, name string) (domain.PluginRecord, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return domain.PluginRecord{}, err
	}

	var record domain.PluginRecord
	if err := db.Where("name = ?", name).First(&record).Error; err != nil {
		return domain.PluginRecord{}, fmt.Errorf("find plugin: %w", notFound(err))
	}
	return record, nil
}

// SetPluginEnabled flips the persisted enabled flag.
func (s *Store) SetPluginEnabled(ctx context.Context, name string, enabled bool) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&domain.PluginRecord{}).Where("name = ?", name).Updates(map[string]interface{}{
		"enabled":    enabled,
		"updated_at": s.now(),
	})
	if result.Error != nil {
		return fmt.Errorf("toggle plugin: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("toggle plugin: %w", domain.ErrNotFound)
	}
	return nil
}

// DeletePlugin removes a catalog row.
func (s *Store) DeletePlugin(ctx context.Context, name string) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("name = ?", name).Delete(&domain.PluginRecord{}).Error; err != nil {
		return fmt.Errorf("delete plugin: %w", err)
	}
	return nil
}

// ListPlugins returns all catalog rows ordered by category and name.
func (s *Store) ListPlugins(ctx context.Context) ([]domain.PluginRecord, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.PluginRecord
	if err := db.Order("category, name").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	return records, nil
}
