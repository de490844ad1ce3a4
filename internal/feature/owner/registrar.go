// Package owner provides startup helpers for ensuring the configured real
// owner exists in the database with the correct role.
package owner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/transport"
)

type userStore interface {
	EnsureUser(ctx context.Context, user domain.User) (domain.User, bool, error)
	SetRole(ctx context.Context, id, role string) error
	ListByRole(ctx context.Context, role string) ([]domain.User, error)
}

// Registrar bootstraps the configured real owner record.
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

// EnsureOwner upserts ownerID with role=real_owner and demotes any stale
// real_owner rows to owner.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID string) error {
	if r == nil || r.users == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if transport.UserPart(ownerID) == "" {
		return errors.New("owner id is required")
	}

	previous, err := r.users.ListByRole(ctx, domain.RoleRealOwner)
	if err != nil {
		return fmt.Errorf("list previous real owners: %w", err)
	}

	demoted := 0
	for _, u := range previous {
		if transport.SameUser(u.ID, ownerID) {
			continue
		}
		if err := r.users.SetRole(ctx, u.ID, domain.RoleOwner); err != nil {
			return fmt.Errorf("demote previous real owner: %w", err)
		}
		demoted++
	}

	_, created, err := r.users.EnsureUser(ctx, domain.User{
		ID:    ownerID,
		Phone: "+" + transport.UserPart(ownerID),
		Role:  domain.RoleRealOwner,
	})
	if err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}
	if err := r.users.SetRole(ctx, ownerID, domain.RoleRealOwner); err != nil {
		return fmt.Errorf("set owner role: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_bootstrap",
		"owner_id":       ownerID,
		"demoted_owners": demoted,
		"created_owner":  created,
	}).Info("ensured bot owner")

	return nil
}
