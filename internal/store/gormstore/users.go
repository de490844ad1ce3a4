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

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if id == "" {
		return domain.User{}, errors.New("user id is required")
	}

	var user domain.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", notFound(err))
	}
	return user, nil
}

// EnsureUser inserts the user when missing and refreshes name and phone
// otherwise. Role defaults to user.
func (s *Store) EnsureUser(ctx context.Context, user domain.User) (domain.User, bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	if user.ID == "" {
		return domain.User{}, false, errors.New("user id is required")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if result.Error != nil {
		return domain.User{}, false, fmt.Errorf("ensure user: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return user, true, nil
	}

	updates := map[string]interface{}{}
	if user.Name != "" {
		updates["name"] = user.Name
	}
	if user.Phone != "" {
		updates["phone"] = user.Phone
	}
	if len(updates) > 0 {
		updates["updated_at"] = now
		if err := db.Model(&domain.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return domain.User{}, false, fmt.Errorf("refresh user: %w", err)
		}
	}

	existing, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return domain.User{}, false, err
	}
	return existing, false, nil
}

// SetRole changes the stored role of an existing user.
func (s *Store) SetRole(ctx context.Context, id, role string) error {
	if !domain.ValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	return s.updateUser(ctx, id, map[string]interface{}{"role": role})
}

// ListByRole returns all users holding role.
func (s *Store) ListByRole(ctx context.Context, role string) ([]domain.User, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var users []domain.User
	if err := db.Where("role = ?", role).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return users, nil
}

// AddWarning increments the warning counter and returns the new value.
func (s *Store) AddWarning(ctx context.Context, id string) (int, error) {
	return s.adjustWarnings(ctx, id, gorm.Expr("warnings + 1"))
}

// RemoveWarning decrements the warning counter, never below zero.
func (s *Store) RemoveWarning(ctx context.Context, id string) (int, error) {
	return s.adjustWarnings(ctx, id, gorm.Expr("CASE WHEN warnings > 0 THEN warnings - 1 ELSE 0 END"))
}

// ClearWarnings resets the warning counter.
func (s *Store) ClearWarnings(ctx context.Context, id string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"warnings": 0})
}

// SetBanned sets or clears the ban flag.
func (s *Store) SetBanned(ctx context.Context, id string, banned bool) error {
	return s.updateUser(ctx, id, map[string]interface{}{"banned": banned})
}

// SetMutedUntil mutes the user until the given time; zero unmutes.
func (s *Store) SetMutedUntil(ctx context.Context, id string, until time.Time) error {
	return s.updateUser(ctx, id, map[string]interface{}{"muted_until": until.UTC()})
}

// SetRestrictedUntil restricts the user until the given time; zero lifts it.
func (s *Store) SetRestrictedUntil(ctx context.Context, id string, until time.Time) error {
	return s.updateUser(ctx, id, map[string]interface{}{"restricted_until": until.UTC()})
}

// CountUsers returns the number of known users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&domain.User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *Store) adjustWarnings(ctx context.Context, id string, expr clause.Expr) (int, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if id == "" {
		return 0, errors.New("user id is required")
	}

	var warnings int
	err = db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.User{}).Where("id = ?", id).Updates(map[string]interface{}{
			"warnings":   expr,
			"updated_at": s.now(),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		var user domain.User
		if err := tx.Select("warnings").Where("id = ?", id).First(&user).Error; err != nil {
			return err
		}
		warnings = user.Warnings
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update warnings: %w", notFound(err))
	}
	return warnings, nil
}

func (s *Store) updateUser(ctx context.Context, id string, updates map[string]interface{}) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return errors.New("user id is required")
	}

	updates["updated_at"] = s.now()
	result := db.Model(&domain.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update user: %w", domain.ErrNotFound)
	}
	return nil
}
