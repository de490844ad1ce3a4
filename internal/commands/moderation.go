package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/durations"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/scheduler"
	"wa_command_bot/internal/transport"
)

// Mute length bounds.
const (
	MinMute = time.Minute
	MaxMute = 30 * 24 * time.Hour
)

const noReason = "No reason provided"

func (s *Set) moderationCommands() []plugin.Descriptor {
	admin := []string{domain.RoleAdmin}
	return []plugin.Descriptor{
		{
			Name:        "warn",
			Category:    plugin.CategoryAdmin,
			Description: "Issue a warning to a user",
			Usage:       "warn @user [reason]",
			Aliases:     []string{"warning"},
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.warn,
		},
		{
			Name:        "unwarn",
			Category:    plugin.CategoryAdmin,
			Description: "Remove one warning from a user",
			Usage:       "unwarn @user",
			Aliases:     []string{"delwarn"},
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.unwarn,
		},
		{
			Name:        "kick",
			Category:    plugin.CategoryAdmin,
			Description: "Remove a user from the group",
			Usage:       "kick @user [reason]",
			Aliases:     []string{"remove"},
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.kick,
		},
		{
			Name:        "ban",
			Category:    plugin.CategoryAdmin,
			Description: "Ban a user from using bot commands",
			Usage:       "ban @user [reason]",
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.ban,
		},
		{
			Name:        "unban",
			Category:    plugin.CategoryAdmin,
			Description: "Lift a ban",
			Usage:       "unban @user",
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.unban,
		},
		{
			Name:        "mute",
			Category:    plugin.CategoryAdmin,
			Description: "Temporarily mute a user from using bot commands",
			Usage:       "mute @user <duration> [reason]",
			Aliases:     []string{"muteuser"},
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.mute,
		},
		{
			Name:        "unmute",
			Category:    plugin.CategoryAdmin,
			Description: "Lift a mute",
			Usage:       "unmute @user",
			Permissions: admin,
			Cooldown:    time.Second,
			Handler:     s.unmute,
		},
	}
}

func (s *Set) warn(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	target, err := s.moderationTarget(ctx, c, "warn", "warn @user [reason]")
	if err != nil {
		return err
	}
	reason := reasonFrom(c)

	count, err := s.store.AddWarning(ctx, target)
	if err != nil {
		return fmt.Errorf("add warning: %w", err)
	}
	if err := s.store.RecordWarning(ctx, target, c.ChatID()); err != nil {
		return fmt.Errorf("record warning: %w", err)
	}

	limit, action := s.warnPolicy(ctx, c.ChatID())

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s has received a warning!\n\n", transport.Mention(target))
	fmt.Fprintf(&b, "👮‍♂️ Warned by: %s\n", transport.Mention(c.SenderID()))
	fmt.Fprintf(&b, "📝 Reason: %s\n", reason)
	fmt.Fprintf(&b, "📊 Warnings: %d/%d", count, limit)
	c.SetDetail(fmt.Sprintf("warnings=%d/%d", count, limit))

	if count >= limit {
		b.WriteString("\n\n")
		b.WriteString(s.warnAction(ctx, c, target, action))
	} else {
		remaining := limit - count
		plural := ""
		if remaining > 1 {
			plural = "s"
		}
		fmt.Fprintf(&b, "\n\n⚡ %d warning%s remaining before action is taken.", remaining, plural)
	}

	c.Logger().WithFields(logging.Fields{
		"event":     "user_warned",
		"target_id": target,
		"warnings":  count,
		"limit":     limit,
	}).Info("user warned")
	return c.ReplyMentions(b.String(), []string{target, c.SenderID()})
}

// warnAction applies the group's limit action and describes the outcome.
func (s *Set) warnAction(ctx context.Context, c *plugin.Context, target, action string) string {
	logger := c.Logger().WithFields(logging.Fields{"target_id": target, "action": action})

	if action == domain.WarnActionBan {
		if err := s.store.SetBanned(ctx, target, true); err != nil {
			logger.WithError(err).WithField("event", "warn_action_failed").Error("auto-ban failed")
			return "⚠️ User has reached the warning limit but auto-action failed!"
		}
		return "🔨 User has been automatically banned for reaching the warning limit!"
	}

	info, err := s.client.GroupMetadata(ctx, c.ChatID())
	if err != nil {
		logger.WithError(err).WithField("event", "warn_action_failed").Error("auto-kick failed")
		return "⚠️ User has reached the warning limit but auto-action failed!"
	}
	if !info.IsAdmin(s.client.SelfID()) {
		return "⚠️ User has reached the warning limit but I don't have admin privileges to kick!"
	}
	if err := s.client.UpdateParticipants(ctx, c.ChatID(), []string{target}, transport.ParticipantRemove); err != nil {
		logger.WithError(err).WithField("event", "warn_action_failed").Error("auto-kick failed")
		return "⚠️ User has reached the warning limit but auto-action failed!"
	}
	return "🚫 User has been automatically kicked for reaching the warning limit!"
}

func (s *Set) warnPolicy(ctx context.Context, chatID string) (int, string) {
	limit, action := domain.DefaultWarnLimit, domain.DefaultWarnAction
	if raw, ok, err := s.store.GetSetting(ctx, chatID, domain.SettingWarnLimit); err == nil && ok {
		limit = domain.WarnLimitFromSetting(raw)
	}
	if raw, ok, err := s.store.GetSetting(ctx, chatID, domain.SettingWarnAction); err == nil && ok {
		action = domain.WarnActionFromSetting(raw)
	}
	return limit, action
}

func (s *Set) unwarn(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	target, err := s.moderationTarget(ctx, c, "remove a warning from", "unwarn @user")
	if err != nil {
		return err
	}

	user, err := s.store.GetUser(ctx, target)
	if err != nil || user.Warnings == 0 {
		return c.ReplyMentions(fmt.Sprintf("❌ %s has no warnings to remove.", transport.Mention(target)), []string{target})
	}

	count, err := s.store.RemoveWarning(ctx, target)
	if err != nil {
		return fmt.Errorf("remove warning: %w", err)
	}
	limit, _ := s.warnPolicy(ctx, c.ChatID())
	return c.ReplyMentions(fmt.Sprintf("✅ Removed one warning from %s.\n\n📊 Warnings: %d/%d",
		transport.Mention(target), count, limit), []string{target})
}

func (s *Set) kick(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}
	target, err := s.moderationTarget(ctx, c, "kick", "kick @user [reason]")
	if err != nil {
		return err
	}
	reason := reasonFrom(c)

	info, err := s.client.GroupMetadata(ctx, c.ChatID())
	if err != nil {
		return fmt.Errorf("fetch group metadata: %w", err)
	}
	if !info.IsAdmin(s.client.SelfID()) {
		return plugin.Usagef("❌ I need to be an admin to remove users.")
	}
	if !isParticipant(info, target) {
		return plugin.Usagef("❌ User is not in this group.")
	}

	if err := s.client.UpdateParticipants(ctx, c.ChatID(), []string{target}, transport.ParticipantRemove); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	c.Logger().WithFields(logging.Fields{
		"event":     "user_kicked",
		"target_id": target,
	}).Info("user kicked")
	return c.ReplyMentions(fmt.Sprintf("✅ %s has been removed from the group.\n\n👮‍♂️ Kicked by: %s\n📝 Reason: %s",
		transport.Mention(target), transport.Mention(c.SenderID()), reason), []string{target, c.SenderID()})
}

func (s *Set) ban(ctx context.Context, c *plugin.Context) error {
	target, err := s.moderationTarget(ctx, c, "ban", "ban @user [reason]")
	if err != nil {
		return err
	}
	reason := reasonFrom(c)

	if user, err := s.store.GetUser(ctx, target); err == nil && user.Banned {
		return plugin.Usagef("❌ This user is already banned.")
	}
	if err := s.store.SetBanned(ctx, target, true); err != nil {
		return fmt.Errorf("ban user: %w", err)
	}

	c.Logger().WithFields(logging.Fields{
		"event":     "user_banned",
		"target_id": target,
	}).Info("user banned")
	return c.ReplyMentions(fmt.Sprintf("🔨 %s has been permanently banned from using bot commands.\n\n👮‍♂️ Banned by: %s\n📝 Reason: %s",
		transport.Mention(target), transport.Mention(c.SenderID()), reason), []string{target, c.SenderID()})
}

func (s *Set) unban(ctx context.Context, c *plugin.Context) error {
	target, err := s.moderationTarget(ctx, c, "unban", "unban @user")
	if err != nil {
		return err
	}

	user, err := s.store.GetUser(ctx, target)
	if err != nil || !user.Banned {
		return c.ReplyMentions(fmt.Sprintf("❌ %s is not currently banned.", transport.Mention(target)), []string{target})
	}
	if err := s.store.SetBanned(ctx, target, false); err != nil {
		return fmt.Errorf("unban user: %w", err)
	}
	return c.ReplyMentions(fmt.Sprintf("✅ %s has been unbanned and can use bot commands again.",
		transport.Mention(target)), []string{target})
}

func (s *Set) mute(ctx context.Context, c *plugin.Context) error {
	form := "mute @user <duration> [reason]"
	target, err := s.moderationTarget(ctx, c, "mute", form)
	if err != nil {
		return err
	}

	rest := c.TargetArgs()
	if len(rest) == 0 {
		return s.usage("Please specify a duration such as 5m, 1h or 1d.", form)
	}
	d, err := durations.ParseBounded(rest[0], MinMute, MaxMute)
	if err != nil {
		return s.usage("Invalid duration. Use 1m to 30d, for example 10m, 2h or 1w.", form)
	}
	reason := noReason
	if len(rest) > 1 {
		reason = strings.Join(rest[1:], " ")
	}

	now := s.now()
	if user, err := s.store.GetUser(ctx, target); err == nil && user.Muted(now) {
		return plugin.Usagef("❌ This user is already muted for %s.", durations.Format(user.MutedUntil.Sub(now)))
	}

	until := now.Add(d)
	if err := s.store.SetMutedUntil(ctx, target, until); err != nil {
		return fmt.Errorf("mute user: %w", err)
	}
	if _, err := s.scheduler.Schedule(ctx, domain.Task{
		Kind:   scheduler.KindUnmute,
		ChatID: c.ChatID(),
		UserID: target,
		RunAt:  until,
	}); err != nil {
		// The mute still lapses on its own; only the cleanup is lost.
		c.Logger().WithError(err).WithField("event", "unmute_schedule_failed").Warn("failed to schedule unmute")
	}

	c.Logger().WithFields(logging.Fields{
		"event":       "user_muted",
		"target_id":   target,
		"muted_until": until,
	}).Info("user muted")
	return c.ReplyMentions(fmt.Sprintf("🔇 %s has been muted from using bot commands.\n\n👮‍♂️ Muted by: %s\n⏰ Duration: %s\n📝 Reason: %s",
		transport.Mention(target), transport.Mention(c.SenderID()), durations.Format(d), reason), []string{target, c.SenderID()})
}

func (s *Set) unmute(ctx context.Context, c *plugin.Context) error {
	target, err := s.moderationTarget(ctx, c, "unmute", "unmute @user")
	if err != nil {
		return err
	}

	user, err := s.store.GetUser(ctx, target)
	if err != nil || !user.Muted(s.now()) {
		return c.ReplyMentions(fmt.Sprintf("❌ %s is not currently muted.", transport.Mention(target)), []string{target})
	}
	if err := s.store.SetMutedUntil(ctx, target, time.Time{}); err != nil {
		return fmt.Errorf("unmute user: %w", err)
	}
	return c.ReplyMentions(fmt.Sprintf("🔊 %s has been unmuted.", transport.Mention(target)), []string{target})
}

// expireMute clears a mute whose time has come. A later, longer mute is left
// in place.
func (s *Set) expireMute(ctx context.Context, task domain.Task) error {
	user, err := s.store.GetUser(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("load muted user: %w", err)
	}
	if user.MutedUntil.IsZero() || user.MutedUntil.After(s.now()) {
		return nil
	}
	if err := s.store.SetMutedUntil(ctx, task.UserID, time.Time{}); err != nil {
		return fmt.Errorf("clear mute: %w", err)
	}
	s.logger.WithFields(logging.Fields{
		"event":   "mute_expired",
		"user_id": task.UserID,
		"chat_id": task.ChatID,
	}).Info("mute expired")
	return nil
}

// moderationTarget resolves the target user, checks the actor outranks it and
// makes sure a user record exists.
func (s *Set) moderationTarget(ctx context.Context, c *plugin.Context, verb, form string) (string, error) {
	target := c.Target()
	if target == "" {
		return "", s.usage(fmt.Sprintf("Please mention a user to %s.", verb), form)
	}

	chatID := ""
	if c.IsGroup() {
		chatID = c.ChatID()
	}
	if !s.perms.CanActOn(ctx, c.SenderID(), target, chatID) {
		return "", plugin.Usagef("❌ You cannot %s this user (insufficient permissions or target has equal/higher role).", verb)
	}

	if _, _, err := s.store.EnsureUser(ctx, domain.User{ID: target, Phone: "+" + transport.UserPart(target)}); err != nil {
		return "", fmt.Errorf("ensure target user: %w", err)
	}
	return target, nil
}

func reasonFrom(c *plugin.Context) string {
	if rest := c.TargetArgs(); len(rest) > 0 {
		return strings.Join(rest, " ")
	}
	return noReason
}

func isParticipant(info transport.GroupInfo, userID string) bool {
	if info.AdminsOnly {
		return true
	}
	for _, p := range info.Participants {
		if transport.SameUser(p.ID, userID) {
			return true
		}
	}
	return false
}
