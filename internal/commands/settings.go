package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/plugin"
)

func (s *Set) settingCommands() []plugin.Descriptor {
	admin := []string{domain.RoleAdmin}
	return []plugin.Descriptor{
		{
			Name:        "setwarnlimit",
			Category:    plugin.CategoryAdmin,
			Description: "Set how many warnings trigger the warn action",
			Usage:       "setwarnlimit <1-10>",
			Aliases:     []string{"warnlimit"},
			Permissions: admin,
			Cooldown:    2 * time.Second,
			Handler:     s.setWarnLimit,
		},
		{
			Name:        "setwarnaction",
			Category:    plugin.CategoryAdmin,
			Description: "Choose whether the warn limit kicks or bans",
			Usage:       "setwarnaction <kick|ban>",
			Aliases:     []string{"warnaction"},
			Permissions: admin,
			Cooldown:    2 * time.Second,
			Handler:     s.setWarnAction,
		},
		{
			Name:        "setwelcome",
			Category:    plugin.CategoryAdmin,
			Description: "Set the welcome message; {mention} tags the new members",
			Usage:       "setwelcome <message|on|off>",
			Aliases:     []string{"welcome"},
			Permissions: admin,
			Cooldown:    2 * time.Second,
			Handler:     s.setWelcome,
		},
		{
			Name:        "setgoodbye",
			Category:    plugin.CategoryAdmin,
			Description: "Set the goodbye message; {mention} tags the leaving members",
			Usage:       "setgoodbye <message>",
			Aliases:     []string{"goodbye"},
			Permissions: admin,
			Cooldown:    2 * time.Second,
			Handler:     s.setGoodbye,
		},
	}
}

func (s *Set) setWarnLimit(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}

	raw := c.Arg(0)
	if raw == "" {
		limit, _ := s.warnPolicy(ctx, c.ChatID())
		return c.Reply(fmt.Sprintf("📊 Current warning limit: %d\n\nUsage: %ssetwarnlimit <number>\n\n💡 Users will be kicked/banned after reaching this many warnings.", limit, s.prefix))
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < domain.MinWarnLimit || limit > domain.MaxWarnLimit {
		return s.usage(fmt.Sprintf("Please provide a valid number between %d and %d.", domain.MinWarnLimit, domain.MaxWarnLimit), "setwarnlimit <1-10>")
	}
	if err := s.setSetting(ctx, c, domain.SettingWarnLimit, strconv.Itoa(limit)); err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("✅ Warning limit set to %d.", limit))
}

func (s *Set) setWarnAction(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}

	action := strings.ToLower(c.Arg(0))
	if action != domain.WarnActionKick && action != domain.WarnActionBan {
		_, current := s.warnPolicy(ctx, c.ChatID())
		return s.usage(fmt.Sprintf("Please choose kick or ban. Current action: %s.", current), "setwarnaction <kick|ban>")
	}
	if err := s.setSetting(ctx, c, domain.SettingWarnAction, action); err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("✅ Users reaching the warning limit will now be %s.", pastTense(action)))
}

func (s *Set) setWelcome(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}

	text := s.messageArg(c)
	switch strings.ToLower(text) {
	case "":
		return s.usage("Please provide the welcome message. Use {mention} to tag new members.", "setwelcome <message|on|off>")
	case "on", "off":
		if err := s.setSetting(ctx, c, domain.SettingWelcomeEnabled, strings.ToLower(text)); err != nil {
			return err
		}
		return c.Reply(fmt.Sprintf("✅ Welcome and goodbye messages turned %s.", strings.ToLower(text)))
	}

	if err := s.setSetting(ctx, c, domain.SettingWelcomeMessage, text); err != nil {
		return err
	}
	return c.Reply("✅ Welcome message updated.")
}

func (s *Set) setGoodbye(ctx context.Context, c *plugin.Context) error {
	if err := requireGroup(c); err != nil {
		return err
	}

	text := s.messageArg(c)
	if text == "" {
		return s.usage("Please provide the goodbye message. Use {mention} to tag members who left.", "setgoodbye <message>")
	}
	if err := s.setSetting(ctx, c, domain.SettingGoodbyeMessage, text); err != nil {
		return err
	}
	return c.Reply("✅ Goodbye message updated.")
}

func (s *Set) setSetting(ctx context.Context, c *plugin.Context, key, value string) error {
	if err := s.store.SetSetting(ctx, c.ChatID(), key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// messageArg returns everything after the command with its line breaks kept.
func (s *Set) messageArg(c *plugin.Context) string {
	line, body := splitCommandBody(c.Message.Text, c.Prefix, c.Invoked)
	return strings.TrimSpace(line + "\n" + body)
}

func pastTense(action string) string {
	if action == domain.WarnActionBan {
		return "banned"
	}
	return "kicked"
}
