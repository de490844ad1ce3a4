// Package permission resolves user roles and checks command requirements.
package permission

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

var (
	// ErrNotRealOwner is returned when someone other than the real owner
	// tries to change the owners set.
	ErrNotRealOwner = errors.New("only the real owner can manage owners")
	// ErrRealOwnerImmutable is returned when the real owner's role is targeted.
	ErrRealOwnerImmutable = errors.New("the real owner's role cannot be changed")
	// ErrNotOwner is returned when removing someone who is not an owner.
	ErrNotOwner = errors.New("user is not an owner")
)

// GroupLookup fetches group membership with admin flags.
type GroupLookup interface {
	GroupMetadata(ctx context.Context, chatID string) (transport.GroupInfo, error)
}

// RoleWriter mirrors owner changes onto user records.
type RoleWriter interface {
	EnsureUser(ctx context.Context, user domain.User) (domain.User, bool, error)
	SetRole(ctx context.Context, id, role string) error
}

// Evaluator resolves roles in order: real owner, owners set, group admin, user.
type Evaluator struct {
	realOwner string
	owners    domain.OwnerStore
	users     RoleWriter
	groups    GroupLookup
	logger    *logrus.Entry
}

// NewEvaluator constructs an Evaluator. groups may be nil when no group
// context is available.
func NewEvaluator(realOwner string, owners domain.OwnerStore, users RoleWriter, groups GroupLookup, logger *logrus.Entry) *Evaluator {
	return &Evaluator{
		realOwner: realOwner,
		owners:    owners,
		users:     users,
		groups:    groups,
		logger:    logging.Component(logger, "permission"),
	}
}

// IsRealOwner reports whether userID is the configured real owner.
func (e *Evaluator) IsRealOwner(userID string) bool {
	return e != nil && transport.SameUser(userID, e.realOwner)
}

// Role returns the highest role userID holds in chatID. Lookup errors fail
// closed to the next lower role.
func (e *Evaluator) Role(ctx context.Context, userID, chatID string, isGroup bool) string {
	if e == nil {
		return domain.RoleUser
	}
	if e.IsRealOwner(userID) {
		return domain.RoleRealOwner
	}

	if e.owners != nil {
		isOwner, err := e.owners.IsOwner(ctx, userID)
		if err != nil {
			e.logger.WithError(err).WithFields(logging.Fields{
				"event":   "owner_lookup_failed",
				"user_id": userID,
			}).Warn("owner lookup failed")
		} else if isOwner {
			return domain.RoleOwner
		}
	}

	if isGroup && e.groups != nil && chatID != "" {
		info, err := e.groups.GroupMetadata(ctx, chatID)
		if err != nil {
			e.logger.WithError(err).WithFields(logging.Fields{
				"event":   "admin_lookup_failed",
				"user_id": userID,
				"chat_id": chatID,
			}).Warn("group admin lookup failed")
		} else if info.IsAdmin(userID) {
			return domain.RoleAdmin
		}
	}

	return domain.RoleUser
}

// HasPermission reports whether userID satisfies any one of required.
func (e *Evaluator) HasPermission(ctx context.Context, userID string, required []string, chatID string, isGroup bool) bool {
	return Allows(e.Role(ctx, userID, chatID, isGroup), required)
}

// Allows reports whether role meets the lowest level named in required. An
// empty list means user.
func Allows(role string, required []string) bool {
	held := domain.RoleLevel(role)
	if held == 0 {
		return false
	}
	if len(required) == 0 {
		return held >= domain.RoleLevelUser
	}

	for _, token := range required {
		level := domain.RoleLevel(token)
		if level > 0 && held >= level {
			return true
		}
	}
	return false
}

// CanActOn reports whether actor may moderate target in chatID: the actor must
// be at least admin and strictly outrank the target.
func (e *Evaluator) CanActOn(ctx context.Context, actorID, targetID, chatID string) bool {
	if transport.SameUser(actorID, targetID) || e.IsRealOwner(targetID) {
		return false
	}

	actor := domain.RoleLevel(e.Role(ctx, actorID, chatID, chatID != ""))
	if actor < domain.RoleLevelAdmin {
		return false
	}
	target := domain.RoleLevel(e.Role(ctx, targetID, chatID, chatID != ""))
	return actor > target
}

// CanPromote reports whether actor may grant elevated roles.
func (e *Evaluator) CanPromote(ctx context.Context, actorID, chatID string, isGroup bool) bool {
	return domain.RoleLevel(e.Role(ctx, actorID, chatID, isGroup)) >= domain.RoleLevelOwner
}

// CanManageGroup reports whether actor may change group settings.
func (e *Evaluator) CanManageGroup(ctx context.Context, actorID, chatID string) bool {
	return domain.RoleLevel(e.Role(ctx, actorID, chatID, true)) >= domain.RoleLevelAdmin
}

// AddOwner adds target to the owners set. Only the real owner may do this.
func (e *Evaluator) AddOwner(ctx context.Context, actorID, targetID string) error {
	if err := e.guardOwnerChange(actorID, targetID); err != nil {
		return err
	}

	if err := e.owners.AddOwner(ctx, domain.Owner{ID: targetID, AddedBy: actorID}); err != nil {
		return fmt.Errorf("add owner: %w", err)
	}
	if e.users != nil {
		if _, _, err := e.users.EnsureUser(ctx, domain.User{ID: targetID, Phone: transport.UserPart(targetID)}); err != nil {
			return fmt.Errorf("ensure owner user: %w", err)
		}
		if err := e.users.SetRole(ctx, targetID, domain.RoleOwner); err != nil {
			return fmt.Errorf("set owner role: %w", err)
		}
	}

	e.logger.WithFields(logging.Fields{
		"event":    "owner_added",
		"user_id":  targetID,
		"actor_id": actorID,
	}).Info("owner added")
	return nil
}

// RemoveOwner removes target from the owners set. Only the real owner may do this.
func (e *Evaluator) RemoveOwner(ctx context.Context, actorID, targetID string) error {
	if err := e.guardOwnerChange(actorID, targetID); err != nil {
		return err
	}

	removed, err := e.owners.RemoveOwner(ctx, targetID)
	if err != nil {
		return fmt.Errorf("remove owner: %w", err)
	}
	if !removed {
		return ErrNotOwner
	}
	if e.users != nil {
		if err := e.users.SetRole(ctx, targetID, domain.RoleUser); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("reset owner role: %w", err)
		}
	}

	e.logger.WithFields(logging.Fields{
		"event":    "owner_removed",
		"user_id":  targetID,
		"actor_id": actorID,
	}).Info("owner removed")
	return nil
}

func (e *Evaluator) guardOwnerChange(actorID, targetID string) error {
	if e == nil || e.owners == nil {
		return errors.New("permission evaluator is not initialized")
	}
	if !e.IsRealOwner(actorID) {
		return ErrNotRealOwner
	}
	if e.IsRealOwner(targetID) {
		return ErrRealOwnerImmutable
	}
	if strings.TrimSpace(targetID) == "" {
		return errors.New("target user is required")
	}
	return nil
}

// ValidatePermissionList normalizes tokens and rejects unknown roles. An empty
// list becomes [user].
func ValidatePermissionList(tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return []string{domain.RoleUser}, nil
	}

	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		role, ok := domain.ParseRole(token)
		if !ok {
			return nil, fmt.Errorf("unknown permission %q", token)
		}
		out = append(out, role)
	}
	return out, nil
}

// Highest returns the highest role named in tokens, or user.
func Highest(tokens []string) string {
	best := domain.RoleUser
	for _, token := range tokens {
		if domain.RoleLevel(token) > domain.RoleLevel(best) {
			best = token
		}
	}
	return best
}
