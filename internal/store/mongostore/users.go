package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wa_command_bot/internal/domain"
)

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	users, err := s.coll(ctx, CollectionUsers)
	if err != nil {
		return domain.User{}, err
	}
	if id == "" {
		return domain.User{}, errors.New("user id is required")
	}

	var user domain.User
	if err := decodeOne(users.FindOne(ctx, bson.M{"user_id": id}), &user); err != nil {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// EnsureUser upserts the user, refreshing name and phone when provided.
func (s *Store) EnsureUser(ctx context.Context, user domain.User) (domain.User, bool, error) {
	users, err := s.coll(ctx, CollectionUsers)
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
	set := bson.M{"updated_at": now}
	insert := bson.M{
		"role":             user.Role,
		"warnings":         0,
		"banned":           false,
		"muted_until":      time.Time{},
		"restricted_until": time.Time{},
		"created_at":       now,
	}
	if user.Name != "" {
		set["name"] = user.Name
	} else {
		insert["name"] = ""
	}
	if user.Phone != "" {
		set["phone"] = user.Phone
	} else {
		insert["phone"] = ""
	}

	result, err := users.UpdateOne(ctx,
		bson.M{"user_id": user.ID},
		bson.M{"$set": set, "$setOnInsert": insert},
		upsert(),
	)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("ensure user: %w", err)
	}
	created := result != nil && result.UpsertedCount > 0

	stored, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return domain.User{}, false, err
	}
	return stored, created, nil
}

// SetRole changes the stored role of an existing user.
func (s *Store) SetRole(ctx context.Context, id, role string) error {
	if !domain.ValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	return s.updateUser(ctx, id, bson.M{"role": role})
}

// ListByRole returns all users holding role.
func (s *Store) ListByRole(ctx context.Context, role string) ([]domain.User, error) {
	users, err := s.coll(ctx, CollectionUsers)
	if err != nil {
		return nil, err
	}

	cursor, err := users.Find(ctx, bson.M{"role": role}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}

	var out []domain.User
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

// AddWarning increments the warning counter and returns the new value.
func (s *Store) AddWarning(ctx context.Context, id string) (int, error) {
	return s.adjustWarnings(ctx, bson.M{"user_id": id}, id, 1)
}

// RemoveWarning decrements the warning counter, never below zero.
func (s *Store) RemoveWarning(ctx context.Context, id string) (int, error) {
	warnings, err := s.adjustWarnings(ctx, bson.M{"user_id": id, "warnings": bson.M{"$gt": 0}}, id, -1)
	if errors.Is(err, domain.ErrNotFound) {
		user, getErr := s.GetUser(ctx, id)
		if getErr != nil {
			return 0, getErr
		}
		return user.Warnings, nil
	}
	return warnings, err
}

// ClearWarnings resets the warning counter.
func (s *Store) ClearWarnings(ctx context.Context, id string) error {
	return s.updateUser(ctx, id, bson.M{"warnings": 0})
}

// SetBanned sets or clears the ban flag.
func (s *Store) SetBanned(ctx context.Context, id string, banned bool) error {
	return s.updateUser(ctx, id, bson.M{"banned": banned})
}

// SetMutedUntil mutes the user until the given time; zero unmutes.
func (s *Store) SetMutedUntil(ctx context.Context, id string, until time.Time) error {
	return s.updateUser(ctx, id, bson.M{"muted_until": until.UTC()})
}

// SetRestrictedUntil restricts the user until the given time; zero lifts it.
func (s *Store) SetRestrictedUntil(ctx context.Context, id string, until time.Time) error {
	return s.updateUser(ctx, id, bson.M{"restricted_until": until.UTC()})
}

// CountUsers returns the number of documents in the users collection.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return s.count(ctx, CollectionUsers)
}

func (s *Store) adjustWarnings(ctx context.Context, filter bson.M, id string, delta int) (int, error) {
	users, err := s.coll(ctx, CollectionUsers)
	if err != nil {
		return 0, err
	}
	if id == "" {
		return 0, errors.New("user id is required")
	}

	result := users.FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{"warnings": delta}, "$set": bson.M{"updated_at": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var user domain.User
	if err := decodeOne(result, &user); err != nil {
		return 0, fmt.Errorf("update warnings: %w", err)
	}
	return user.Warnings, nil
}

func (s *Store) updateUser(ctx context.Context, id string, set bson.M) error {
	users, err := s.coll(ctx, CollectionUsers)
	if err != nil {
		return err
	}
	if id == "" {
		return errors.New("user id is required")
	}

	set["updated_at"] = s.now()
	result, err := users.UpdateOne(ctx, bson.M{"user_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if result == nil || result.MatchedCount == 0 {
		return fmt.Errorf("update user: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *Store) count(ctx context.Context, name string) (int64, error) {
	coll, err := s.coll(ctx, name)
	if err != nil {
		return 0, err
	}

	count, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return count, nil
}
