package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/transport"
)

func (s *Set) ownerCommands() []plugin.Descriptor {
	return []plugin.Descriptor{
		{
			Name:        "addowner",
			Category:    plugin.CategoryOwner,
			Description: "Grant owner access to a user",
			Usage:       "addowner <@user|number>",
			Permissions: []string{domain.RoleRealOwner},
			Cooldown:    2 * time.Second,
			Handler:     s.addOwner,
		},
		{
			Name:        "removeowner",
			Category:    plugin.CategoryOwner,
			Description: "Revoke owner access from a user",
			Usage:       "removeowner <@user|number>",
			Aliases:     []string{"delowner"},
			Permissions: []string{domain.RoleRealOwner},
			Cooldown:    2 * time.Second,
			Handler:     s.removeOwner,
		},
		{
			Name:        "owners",
			Category:    plugin.CategoryOwner,
			Description: "List the bot owners",
			Usage:       "owners",
			Aliases:     []string{"listowners"},
			Permissions: []string{domain.RoleOwner},
			Cooldown:    2 * time.Second,
			Handler:     s.listOwners,
		},
	}
}

func (s *Set) addOwner(ctx context.Context, c *plugin.Context) error {
	target := c.Target()
	if target == "" {
		return s.usage("Please mention or reply to the user to promote.", "addowner <@user|number>")
	}

	if err := s.perms.AddOwner(ctx, c.SenderID(), target); err != nil {
		return ownerChangeError(err)
	}
	return c.ReplyMentions(fmt.Sprintf("👑 %s is now an owner.", transport.Mention(target)), []string{target})
}

func (s *Set) removeOwner(ctx context.Context, c *plugin.Context) error {
	target := c.Target()
	if target == "" {
		return s.usage("Please mention or reply to the owner to remove.", "removeowner <@user|number>")
	}

	if err := s.perms.RemoveOwner(ctx, c.SenderID(), target); err != nil {
		return ownerChangeError(err)
	}
	return c.ReplyMentions(fmt.Sprintf("✅ %s is no longer an owner.", transport.Mention(target)), []string{target})
}

func (s *Set) listOwners(ctx context.Context, c *plugin.Context) error {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	if len(owners) == 0 {
		return c.Reply("👑 No owners besides the real owner.")
	}

	var b strings.Builder
	mentions := make([]string, 0, len(owners))
	fmt.Fprintf(&b, "👑 *Owners* (%d)\n", len(owners))
	for i, o := range owners {
		fmt.Fprintf(&b, "\n%d. %s", i+1, transport.Mention(o.ID))
		mentions = append(mentions, o.ID)
	}
	return c.ReplyMentions(b.String(), mentions)
}

func ownerChangeError(err error) error {
	switch {
	case errors.Is(err, permission.ErrNotRealOwner):
		return plugin.Usagef("❌ Only the real owner can manage owners.")
	case errors.Is(err, permission.ErrRealOwnerImmutable):
		return plugin.Usagef("❌ The real owner's role cannot be changed.")
	case errors.Is(err, permission.ErrNotOwner):
		return plugin.Usagef("❌ That user is not an owner.")
	default:
		return err
	}
}
