package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm/clause"

	"wa_command_bot/internal/domain"
)

// IsOwner reports whether id is in the owners set.
func (s *Store) IsOwner(ctx context.Context, id string) (bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.Model(&domain.Owner{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check owner: %w", err)
	}
	return count > 0, nil
}

// AddOwner inserts id into the owners set; adding an existing owner is a no-op.
func (s *Store) AddOwner(ctx context.Context, owner domain.Owner) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if owner.ID == "" {
		return errors.New("owner id is required")
	}
	if owner.AddedAt.IsZero() {
		owner.AddedAt = s.now()
	}

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&owner).Error; err != nil {
		return fmt.Errorf("add owner: %w", err)
	}
	return nil
}

// RemoveOwner deletes id from the owners set and reports whether it was present.
func (s *Store) RemoveOwner(ctx context.Context, id string) (bool, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return false, err
	}

	result := db.Where("id = ?", id).Delete(&domain.Owner{})
	if result.Error != nil {
		return false, fmt.Errorf("remove owner: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListOwners returns the owners set ordered by insertion time.
func (s *Store) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var owners []domain.Owner
	if err := db.Order("added_at").Find(&owners).Error; err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}
