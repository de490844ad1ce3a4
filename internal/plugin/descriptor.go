// Package plugin holds the command registry, the script plugin runtime and
// the loader that keeps both in sync with the plugins directory.
package plugin

import (
	"context"
	"strings"
	"time"

	"wa_command_bot/internal/domain"
)

// Categories a plugin may belong to; each maps to a subdirectory of the
// plugins root.
const (
	CategoryAdmin      = "admin"
	CategoryOwner      = "owner"
	CategoryUser       = "user"
	CategoryMedia      = "media"
	CategoryUtility    = "utility"
	CategoryModeration = "moderation"
)

// Categories lists every category in display order.
var Categories = []string{
	CategoryOwner,
	CategoryAdmin,
	CategoryModeration,
	CategoryUtility,
	CategoryMedia,
	CategoryUser,
}

// ValidCategory reports whether category is known.
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Names that cannot be uninstalled or disabled.
var (
	protectedUninstall = map[string]bool{
		"help": true, "ping": true, "plugin": true, "addplugin": true,
		"removeplugin": true, "addowner": true, "removeowner": true,
	}
	protectedDisable = map[string]bool{
		"help": true, "ping": true, "plugin": true,
	}
)

// ProtectedFromUninstall reports whether name rejects uninstall.
func ProtectedFromUninstall(name string) bool { return protectedUninstall[name] }

// ProtectedFromDisable reports whether name rejects toggle(false).
func ProtectedFromDisable(name string) bool { return protectedDisable[name] }

// Handler runs one command invocation.
type Handler func(ctx context.Context, c *Context) error

// Descriptor describes one registered command. Descriptors are values: the
// registry swaps them whole and never mutates a published one.
type Descriptor struct {
	Name        string
	Category    string
	Description string
	Usage       string
	Aliases     []string
	Permissions []string
	Cooldown    time.Duration
	Enabled     bool
	Handler     Handler
	Builtin     bool
	FilePath    string
	Hash        string
	LoadedAt    time.Time

	baseCooldown    time.Duration
	basePermissions []string
}

func (d Descriptor) clone() Descriptor {
	d.Aliases = append([]string(nil), d.Aliases...)
	d.Permissions = append([]string(nil), d.Permissions...)
	d.basePermissions = append([]string(nil), d.basePermissions...)
	return d
}

// withBase records the declared cooldown and permissions so overrides can be
// reverted later.
func (d Descriptor) withBase() Descriptor {
	d.baseCooldown = d.Cooldown
	d.basePermissions = append([]string(nil), d.Permissions...)
	return d
}

// InferCategory picks a category for a plugin submitted without one.
func InferCategory(permissions []string, source string) string {
	for _, p := range permissions {
		if p == domain.RoleOwner || p == domain.RoleRealOwner {
			return CategoryOwner
		}
	}
	for _, p := range permissions {
		if p == domain.RoleAdmin {
			return CategoryAdmin
		}
	}

	lower := strings.ToLower(source)
	for _, hint := range []string{"downloadmedia", "c.download(", "mediaimage", "mediavideo", "mediaaudio", "mediasticker"} {
		if strings.Contains(lower, hint) {
			return CategoryMedia
		}
	}
	return CategoryUser
}
