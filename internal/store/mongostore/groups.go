package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wa_command_bot/internal/domain"
)

// EnsureGroup upserts a group; the bool reports whether it was created.
func (s *Store) EnsureGroup(ctx context.Context, group domain.Group) (bool, error) {
	groups, err := s.coll(ctx, CollectionGroups)
	if err != nil {
		return false, err
	}
	if group.ID == "" {
		return false, errors.New("group id is required")
	}

	now := s.now()
	set := bson.M{"updated_at": now}
	insert := bson.M{"locked": false, "created_at": now}
	if group.Name != "" {
		set["name"] = group.Name
	} else {
		insert["name"] = ""
	}
	if group.Description != "" {
		set["description"] = group.Description
	} else {
		insert["description"] = ""
	}

	result, err := groups.UpdateOne(ctx, bson.M{"group_id": group.ID}, bson.M{"$set": set, "$setOnInsert": insert}, upsert())
	if err != nil {
		return false, fmt.Errorf("ensure group: %w", err)
	}
	return result != nil && result.UpsertedCount > 0, nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	groups, err := s.coll(ctx, CollectionGroups)
	if err != nil {
		return domain.Group{}, err
	}

	var group domain.Group
	if err := decodeOne(groups.FindOne(ctx, bson.M{"group_id": id}), &group); err != nil {
		return domain.Group{}, fmt.Errorf("find group: %w", err)
	}
	return group, nil
}

// GetSetting returns a group setting; the bool is false when it is unset.
func (s *Store) GetSetting(ctx context.Context, groupID, key string) (string, bool, error) {
	settings, err := s.coll(ctx, CollectionGroupSettings)
	if err != nil {
		return "", false, err
	}

	var setting domain.GroupSetting
	err = decodeOne(settings.FindOne(ctx, bson.M{"group_id": groupID, "key": key}), &setting)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find group setting: %w", err)
	}
	return setting.Value, true, nil
}

// SetSetting upserts a group setting.
func (s *Store) SetSetting(ctx context.Context, groupID, key, value string) error {
	settings, err := s.coll(ctx, CollectionGroupSettings)
	if err != nil {
		return err
	}
	if groupID == "" || key == "" {
		return errors.New("group id and key are required")
	}

	_, err = settings.UpdateOne(ctx,
		bson.M{"group_id": groupID, "key": key},
		bson.M{"$set": bson.M{"value": value, "updated_at": s.now()}},
		upsert(),
	)
	if err != nil {
		return fmt.Errorf("save group setting: %w", err)
	}
	return nil
}

// CountGroups returns the number of documents in the groups collection.
func (s *Store) CountGroups(ctx context.Context) (int64, error) {
	return s.count(ctx, CollectionGroups)
}

// IsOwner reports whether id is in the owners set.
func (s *Store) IsOwner(ctx context.Context, id string) (bool, error) {
	owners, err := s.coll(ctx, CollectionOwners)
	if err != nil {
		return false, err
	}

	count, err := owners.CountDocuments(ctx, bson.M{"owner_id": id})
	if err != nil {
		return false, fmt.Errorf("check owner: %w", err)
	}
	return count > 0, nil
}

// AddOwner inserts id into the owners set; adding an existing owner is a no-op.
func (s *Store) AddOwner(ctx context.Context, owner domain.Owner) error {
	owners, err := s.coll(ctx, CollectionOwners)
	if err != nil {
		return err
	}
	if owner.ID == "" {
		return errors.New("owner id is required")
	}
	if owner.AddedAt.IsZero() {
		owner.AddedAt = s.now()
	}

	_, err = owners.UpdateOne(ctx,
		bson.M{"owner_id": owner.ID},
		bson.M{"$setOnInsert": bson.M{"added_by": owner.AddedBy, "added_at": owner.AddedAt}},
		upsert(),
	)
	if err != nil {
		return fmt.Errorf("add owner: %w", err)
	}
	return nil
}

// RemoveOwner deletes id from the owners set and reports whether it was present.
func (s *Store) RemoveOwner(ctx context.Context, id string) (bool, error) {
	owners, err := s.coll(ctx, CollectionOwners)
	if err != nil {
		return false, err
	}

	result, err := owners.DeleteOne(ctx, bson.M{"owner_id": id})
	if err != nil {
		return false, fmt.Errorf("remove owner: %w", err)
	}
	return result != nil && result.DeletedCount > 0, nil
}

// ListOwners returns the owners set ordered by insertion time.
func (s *Store) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	owners, err := s.coll(ctx, CollectionOwners)
	if err != nil {
		return nil, err
	}

	cursor, err := owners.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	var out []domain.Owner
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode owners: %w", err)
	}
	return out, nil
}
