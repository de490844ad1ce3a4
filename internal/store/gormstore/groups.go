package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm/clause"

	"wa_command_bot/internal/domain"
)

// EnsureGroup inserts the group when missing and refreshes its name and
// description otherwise. The bool reports whether a record was created.
func (s *Store) EnsureGroup(ctx context.Context, group domain.Group) (bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return false, err
	}
	if group.ID == "" {
		return false, errors.New("group id is required")
	}

	now := s.now()
	group.CreatedAt, group.UpdatedAt = now, now

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&group)
	if result.Error != nil {
		return false, fmt.Errorf("ensure group: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	if group.Name == "" && group.Description == "" {
		return false, nil
	}

	updates := map[string]interface{}{"updated_at": now}
	if group.Name != "" {
		updates["name"] = group.Name
	}
	if group.Description != "" {
		updates["description"] = group.Description
	}
	if err := db.Model(&domain.Group{}).Where("id = ?", group.ID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("refresh group: %w", err)
	}
	return false, nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return domain.Group{}, err
	}

	var group domain.Group
	if err := db.Where("id = ?", id).First(&group).Error; err != nil {
		return domain.Group{}, fmt.Errorf("find group: %w", notFound(err))
	}
	return group, nil
}

// GetSetting returns a group setting; the bool is false when it is unset.
func (s *Store) GetSetting(ctx context.Context, groupID, key string) (string, bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return "", false, err
	}

	var settings []domain.GroupSetting
	if err := db.Where("group_id = ? AND key = ?", groupID, key).Limit(1).Find(&settings).Error; err != nil {
		return "", false, fmt.Errorf("find group setting: %w", err)
	}
	if len(settings) == 0 {
		return "", false, nil
	}
	return settings[0].Value, true, nil
}

// SetSetting upserts a group setting.
func (s *Store) SetSetting(ctx context.Context, groupID, key, value string) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if groupID == "" || key == "" {
		return errors.New("group id and key are required")
	}

	setting := domain.GroupSetting{GroupID: groupID, Key: key, Value: value, UpdatedAt: s.now()}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("save group setting: %w", err)
	}
	return nil
}

// CountGroups returns the number of known groups.
func (s *Store) CountGroups(ctx context.Context) (int64, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&domain.Group{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return count, nil
}
