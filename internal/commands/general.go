package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/durations"
	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/store"
	"wa_command_bot/internal/transport"
)

func (s *Set) generalCommands() []plugin.Descriptor {
	return []plugin.Descriptor{
		{
			Name:        "help",
			Category:    plugin.CategoryUtility,
			Description: "List the commands you can use or describe one",
			Usage:       "help [command]",
			Aliases:     []string{"menu", "commands"},
			Cooldown:    2 * time.Second,
			Handler:     s.help,
		},
		{
			Name:        "ping",
			Category:    plugin.CategoryUtility,
			Description: "Check that the bot is alive",
			Usage:       "ping",
			Cooldown:    2 * time.Second,
			Handler:     s.ping,
		},
		{
			Name:        "stats",
			Category:    plugin.CategoryUser,
			Description: "Show your activity, or bot usage for owners",
			Usage:       "stats [@user]",
			Aliases:     []string{"mystats"},
			Cooldown:    5 * time.Second,
			Handler:     s.statsCommand,
		},
	}
}

func (s *Set) help(_ context.Context, c *plugin.Context) error {
	if name := c.Arg(0); name != "" {
		d, ok := s.registry.Resolve(strings.TrimPrefix(name, s.prefix))
		if !ok || !d.Enabled || !permission.Allows(c.Role, d.Permissions) {
			return plugin.Usagef("❌ Unknown command %q. Send %shelp for the list.", name, s.prefix)
		}
		return c.Reply(s.describe(d))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Commands* (prefix %s)\n", s.prefix)
	total := 0
	for _, category := range plugin.Categories {
		var names []string
		for _, d := range s.registry.ByCategory(category) {
			if d.Enabled && permission.Allows(c.Role, d.Permissions) {
				names = append(names, s.prefix+d.Name)
			}
		}
		if len(names) == 0 {
			continue
		}
		total += len(names)
		fmt.Fprintf(&b, "\n*%s*\n%s\n", strings.ToUpper(category[:1])+category[1:], strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "\n%d commands available to you. Send %shelp <command> for details.", total, s.prefix)
	return c.Reply(b.String())
}

func (s *Set) describe(d plugin.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 *%s%s*\n%s\n", s.prefix, d.Name, d.Description)
	if d.Usage != "" {
		fmt.Fprintf(&b, "\nUsage: %s%s", s.prefix, d.Usage)
	}
	if len(d.Aliases) > 0 {
		fmt.Fprintf(&b, "\nAliases: %s", strings.Join(d.Aliases, ", "))
	}
	fmt.Fprintf(&b, "\nCategory: %s", d.Category)
	fmt.Fprintf(&b, "\nRequires: %s", permission.Highest(d.Permissions))
	if d.Cooldown > 0 {
		fmt.Fprintf(&b, "\nCooldown: %s", durations.Format(d.Cooldown))
	}
	return b.String()
}

func (s *Set) ping(_ context.Context, c *plugin.Context) error {
	started := time.Now()
	latency := time.Duration(0)
	if !c.Message.Timestamp.IsZero() {
		latency = started.Sub(c.Message.Timestamp)
	}
	return c.Reply(fmt.Sprintf("🏓 Pong!\n\nLatency: %d ms\nUptime: %s\nPlugins: %d",
		latency.Milliseconds(),
		durations.Format(s.now().Sub(s.startedAt)),
		s.registry.Len(),
	))
}

func (s *Set) statsCommand(ctx context.Context, c *plugin.Context) error {
	target := c.SenderID()
	if other := c.Target(); other != "" {
		target = other
	}

	stats, err := s.store.UserStats(ctx, target)
	if err != nil {
		return fmt.Errorf("load user stats: %w", err)
	}
	user, err := s.store.GetUser(ctx, target)
	if err != nil {
		user = domain.User{ID: target}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Stats for %s*\n\n", transport.Mention(target))
	fmt.Fprintf(&b, "Messages: %s\n", humanize.Comma(stats.MessagesSent))
	fmt.Fprintf(&b, "Commands: %s\n", humanize.Comma(stats.CommandsUsed))
	fmt.Fprintf(&b, "Warnings: %d\n", user.Warnings)
	if !stats.LastActive.IsZero() {
		fmt.Fprintf(&b, "Last active: %s\n", humanize.RelTime(stats.LastActive, s.now(), "ago", "from now"))
	}
	if !user.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "First seen: %s\n", humanize.RelTime(user.CreatedAt, s.now(), "ago", "from now"))
	}

	if domain.RoleLevel(c.Role) >= domain.RoleLevelOwner {
		if err := s.writeBotStats(ctx, &b); err != nil {
			return err
		}
	}
	return c.ReplyMentions(strings.TrimRight(b.String(), "\n"), []string{target})
}

func (s *Set) writeBotStats(ctx context.Context, b *strings.Builder) error {
	counts, err := store.NewStatsProvider(s.store).Snapshot(ctx)
	if err != nil {
		return err
	}
	top, err := s.store.CommandStats(ctx, s.now().Add(-7*24*time.Hour))
	if err != nil {
		return fmt.Errorf("command stats: %w", err)
	}

	fmt.Fprintf(b, "\n🤖 *Bot*\nUsers: %s\nGroups: %s\nUptime: %s\n",
		humanize.Comma(counts.Users), humanize.Comma(counts.Groups), durations.Format(s.now().Sub(s.startedAt)))
	if s.stats != nil {
		st := s.stats.Stats()
		fmt.Fprintf(b, "Dispatched: %s (%s ok, %s failed)\n",
			humanize.Comma(st.Commands), humanize.Comma(st.Succeeded), humanize.Comma(st.Failed))
	}
	if len(top) > 0 {
		b.WriteString("\n*Top commands (7 days)*\n")
		for i, stat := range top {
			if i == 5 {
				break
			}
			fmt.Fprintf(b, "%d. %s%s: %s (%s failed)\n", i+1, s.prefix, stat.Command,
				humanize.Comma(stat.Total), humanize.Comma(stat.Failed))
		}
	}
	return nil
}
