// Package user provides helpers for user registration and lifecycle updates.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/transport"
)

type userStore interface {
	EnsureUser(ctx context.Context, user domain.User) (domain.User, bool, error)
}

// Registrar ensures users are present in the database and keeps their
// display name fresh on every interaction.
type Registrar struct {
	users  userStore
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided user store.
func NewRegistrar(users userStore, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
	}
}

// EnsureUser creates the user with the default role if missing and refreshes
// the display name otherwise. The bool reports whether a record was created.
func (r *Registrar) EnsureUser(ctx context.Context, userID, name string) (domain.User, bool, error) {
	if r == nil || r.users == nil {
		return domain.User{}, false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return domain.User{}, false, errors.New("context is required")
	}
	if transport.UserPart(userID) == "" {
		return domain.User{}, false, errors.New("user id is required")
	}

	user, created, err := r.users.EnsureUser(ctx, domain.User{
		ID:    userID,
		Phone: "+" + transport.UserPart(userID),
		Name:  strings.TrimSpace(name),
		Role:  domain.RoleUser,
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("ensure user: %w", err)
	}

	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": userID,
		}).Info("registered new user")
		return user, true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": userID,
	}).Debug("updated user last seen")

	return user, false, nil
}
