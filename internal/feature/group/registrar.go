// Package group provides helpers for registering and tracking group chats
// and greeting members as they join or leave.
package group

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

// MentionPlaceholder is replaced by the affected members in welcome and
// goodbye messages.
const MentionPlaceholder = "{mention}"

type groupStore interface {
	EnsureGroup(ctx context.Context, group domain.Group) (bool, error)
	GetSetting(ctx context.Context, groupID, key string) (string, bool, error)
}

type messenger interface {
	SelfID() string
	SendMessage(ctx context.Context, chatID string, msg transport.OutgoingMessage) (string, error)
	GroupMetadata(ctx context.Context, chatID string) (transport.GroupInfo, error)
}

// Registrar ensures groups are persisted when the bot encounters them and
// sends the configured welcome and goodbye messages.
type Registrar struct {
	groups groupStore
	client messenger
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar. client may be nil when only group
// tracking is needed.
func NewRegistrar(groups groupStore, client messenger, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		groups: groups,
		client: client,
		logger: logger,
	}
}

// EnsureGroup upserts the group record and refreshes its name when a title
// is known. A newly seen group without a title is named from the transport
// metadata when available.
func (r *Registrar) EnsureGroup(ctx context.Context, chatID, title string) (bool, error) {
	if r == nil || r.groups == nil {
		return false, errors.New("group registrar is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if strings.TrimSpace(chatID) == "" {
		return false, errors.New("chat id is required")
	}

	title = strings.TrimSpace(title)
	created, err := r.groups.EnsureGroup(ctx, domain.Group{ID: chatID, Name: title})
	if err != nil {
		return false, fmt.Errorf("ensure group: %w", err)
	}

	if !created {
		r.logger.WithFields(logging.Fields{
			"event":   "group_seen",
			"chat_id": chatID,
		}).Debug("updated group last seen")
		return false, nil
	}

	if title == "" && r.client != nil {
		if info, err := r.client.GroupMetadata(ctx, chatID); err == nil && info.Subject != "" {
			title = info.Subject
			if _, err := r.groups.EnsureGroup(ctx, domain.Group{ID: chatID, Name: title, Description: info.Description}); err != nil {
				r.logger.WithError(err).WithField("event", "group_refresh_failed").Warn("failed to store group subject")
			}
		}
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_registered",
		"chat_id": chatID,
		"title":   title,
	}).Info("registered new group")
	return true, nil
}

// HandleParticipants tracks the group and greets members who joined or left.
// Messages are sent only when the group has one configured and greetings are
// not switched off.
func (r *Registrar) HandleParticipants(ctx context.Context, evt transport.ParticipantsEvent) error {
	if _, err := r.EnsureGroup(ctx, evt.ChatID, ""); err != nil {
		return err
	}

	var key string
	switch evt.Action {
	case transport.ParticipantAdd:
		key = domain.SettingWelcomeMessage
	case transport.ParticipantRemove:
		key = domain.SettingGoodbyeMessage
	default:
		return nil
	}
	if r.client == nil {
		return errors.New("transport client is not initialized")
	}

	members := make([]string, 0, len(evt.Participants))
	for _, p := range evt.Participants {
		if !transport.SameUser(p, r.client.SelfID()) {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		return nil
	}

	enabled, _, err := r.groups.GetSetting(ctx, evt.ChatID, domain.SettingWelcomeEnabled)
	if err != nil {
		return fmt.Errorf("read greeting toggle: %w", err)
	}
	if strings.EqualFold(enabled, "off") {
		return nil
	}

	template, ok, err := r.groups.GetSetting(ctx, evt.ChatID, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || strings.TrimSpace(template) == "" {
		return nil
	}

	if _, err := r.client.SendMessage(ctx, evt.ChatID, transport.OutgoingMessage{
		Text:     RenderGreeting(template, members),
		Mentions: members,
	}); err != nil {
		return fmt.Errorf("send %s: %w", key, err)
	}

	r.logger.WithFields(logging.Fields{
		"event":        "group_greeting_sent",
		"chat_id":      evt.ChatID,
		"action":       evt.Action,
		"participants": len(members),
	}).Info("sent group greeting")
	return nil
}

// RenderGreeting substitutes every MentionPlaceholder with the members' tags.
func RenderGreeting(template string, members []string) string {
	tags := make([]string, 0, len(members))
	for _, m := range members {
		tags = append(tags, transport.Mention(m))
	}
	return strings.ReplaceAll(template, MentionPlaceholder, strings.Join(tags, " "))
}
