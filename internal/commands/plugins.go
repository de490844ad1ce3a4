package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/transport"
)

func (s *Set) pluginCommands() []plugin.Descriptor {
	owner := []string{domain.RoleOwner}
	return []plugin.Descriptor{
		{
			Name:        "plugin",
			Category:    plugin.CategoryOwner,
			Description: "List, inspect, enable, disable or reload plugins",
			Usage:       "plugin <list|info|enable|disable|reload> [name]",
			Aliases:     []string{"plugins", "pl"},
			Permissions: owner,
			Cooldown:    time.Second,
			Handler:     s.plugin,
		},
		{
			Name:        "addplugin",
			Category:    plugin.CategoryOwner,
			Description: "Install a plugin from the message text or an attached file",
			Usage:       "addplugin [category] [--force]\n<source>",
			Aliases:     []string{"installplugin"},
			Permissions: owner,
			Cooldown:    5 * time.Second,
			Handler:     s.addPlugin,
		},
		{
			Name:        "removeplugin",
			Category:    plugin.CategoryOwner,
			Description: "Uninstall a plugin",
			Usage:       "removeplugin <name>",
			Aliases:     []string{"uninstallplugin", "delplugin"},
			Permissions: owner,
			Cooldown:    5 * time.Second,
			Handler:     s.removePlugin,
		},
	}
}

func (s *Set) plugin(ctx context.Context, c *plugin.Context) error {
	action := strings.ToLower(c.Arg(0))
	name := strings.ToLower(c.Arg(1))
	form := "plugin <list|info|enable|disable|reload> [name]"

	switch action {
	case "", "list":
		return c.Reply(s.pluginList())
	case "info", "enable", "disable", "reload":
		if name == "" {
			return s.usage("Please name a plugin.", form)
		}
	default:
		return s.usage(fmt.Sprintf("Unknown action %q.", action), form)
	}

	switch action {
	case "info":
		d, ok := s.registry.Resolve(name)
		if !ok {
			return plugin.Usagef("❌ Plugin %q not found.", name)
		}
		return c.Reply(s.pluginInfo(d))
	case "enable", "disable":
		enabled := action == "enable"
		if err := s.manager.Toggle(ctx, name, enabled); err != nil {
			return err
		}
		return c.Reply(fmt.Sprintf("✅ Plugin %s %sd.", name, action))
	default:
		d, err := s.manager.Reload(ctx, name)
		if err != nil {
			return err
		}
		return c.Reply(fmt.Sprintf("🔄 Plugin %s reloaded.", d.Name))
	}
}

func (s *Set) pluginList() string {
	all := s.registry.All()
	var b strings.Builder
	fmt.Fprintf(&b, "🔌 *Plugins* (%d)\n", len(all))
	current := ""
	for _, d := range all {
		if d.Category != current {
			current = d.Category
			fmt.Fprintf(&b, "\n*%s*\n", current)
		}
		state := "✅"
		if !d.Enabled {
			state = "⛔"
		}
		kind := ""
		if d.Builtin {
			kind = " (built-in)"
		}
		fmt.Fprintf(&b, "%s %s%s\n", state, d.Name, kind)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Set) pluginInfo(d plugin.Descriptor) string {
	var b strings.Builder
	b.WriteString(s.describe(d))
	fmt.Fprintf(&b, "\nEnabled: %t", d.Enabled)
	if d.Builtin {
		b.WriteString("\nSource: built-in")
	} else {
		fmt.Fprintf(&b, "\nFile: %s", d.FilePath)
		if len(d.Hash) >= 12 {
			fmt.Fprintf(&b, "\nHash: %s", d.Hash[:12])
		}
	}
	if !d.LoadedAt.IsZero() {
		fmt.Fprintf(&b, "\nLoaded: %s", humanize.RelTime(d.LoadedAt, s.now(), "ago", "from now"))
	}
	return b.String()
}

func (s *Set) addPlugin(ctx context.Context, c *plugin.Context) error {
	header, body := splitCommandBody(c.Message.Text, c.Prefix, c.Invoked)

	req := plugin.InstallRequest{InstalledBy: c.SenderID()}
	if !parseInstallFlags(header, &req) {
		// The source started on the command line.
		body = strings.TrimSpace(header + "\n" + body)
	}
	req.Source = body

	if strings.TrimSpace(req.Source) == "" && c.Message.Media == transport.MediaDocument {
		data, err := c.Download()
		if err != nil {
			return fmt.Errorf("download plugin file: %w", err)
		}
		req.Source = string(data)
	}
	if strings.TrimSpace(req.Source) == "" {
		return s.usage("Please include the plugin source or attach a .go file.", "addplugin [category] [--force]\n<source>")
	}

	d, err := s.manager.Install(ctx, req)
	if err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("✅ Plugin *%s* installed in %s.\n\n%s\nCommand: %s%s",
		d.Name, d.Category, d.Description, s.prefix, d.Name))
}

func (s *Set) removePlugin(ctx context.Context, c *plugin.Context) error {
	name := strings.ToLower(c.Arg(0))
	if name == "" {
		return s.usage("Please name the plugin to remove.", "removeplugin <name>")
	}
	if err := s.manager.Uninstall(ctx, name); err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("🗑️ Plugin %s uninstalled.", name))
}

// parseInstallFlags applies a "[category] [--force]" header to req. It
// reports false when the header holds anything else.
func parseInstallFlags(header string, req *plugin.InstallRequest) bool {
	var category string
	var force bool
	for _, token := range strings.Fields(header) {
		switch lower := strings.ToLower(token); {
		case lower == "--force" || lower == "-f":
			force = true
		case plugin.ValidCategory(lower) && category == "":
			category = lower
		default:
			return false
		}
	}
	req.Category = category
	req.Overwrite = force
	return true
}

// splitCommandBody returns the rest of the command line and everything after
// it, preserving the body's line breaks.
func splitCommandBody(text, prefix, invoked string) (string, string) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, prefix)
	text = strings.TrimLeft(text, " \t")
	if len(text) >= len(invoked) && strings.EqualFold(text[:len(invoked)], invoked) {
		text = text[len(invoked):]
	}

	line, body, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(line), strings.TrimSpace(body)
}
