package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, *Context) error { return nil }

func TestRegistryAliasResolution(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{
		Name:     "Sticker",
		Category: CategoryMedia,
		Aliases:  []string{"s", "stik", "S"},
		Enabled:  true,
		Handler:  noopHandler,
	}))

	for _, alias := range []string{"s", "stik", "STIK"} {
		d, ok := r.GetByAlias(alias)
		require.True(t, ok, "alias %s", alias)
		require.Equal(t, "sticker", d.Name)
	}

	d, ok := r.Lookup("sticker")
	require.True(t, ok)
	require.Equal(t, []string{"s", "stik"}, d.Aliases)

	require.True(t, r.Remove("sticker"))
	_, ok = r.GetByAlias("s")
	require.False(t, ok)
	_, ok = r.GetByAlias("stik")
	require.False(t, ok)
	require.Zero(t, r.Len())
}

func TestRegistryRejectsAliasCollisions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "kick", Aliases: []string{"remove"}, Enabled: true}))

	err := r.Register(Descriptor{Name: "ban", Aliases: []string{"remove"}, Enabled: true})
	require.Error(t, err)
	require.True(t, IsCode(err, CodeAliasConflict))

	err = r.Register(Descriptor{Name: "boot", Aliases: []string{"kick"}, Enabled: true})
	require.True(t, IsCode(err, CodeAliasConflict))

	err = r.Register(Descriptor{Name: "remove", Enabled: true})
	require.True(t, IsCode(err, CodeAliasConflict))

	_, ok := r.Lookup("ban")
	require.False(t, ok)
	d, ok := r.GetByAlias("remove")
	require.True(t, ok)
	require.Equal(t, "kick", d.Name)
}

func TestRegistryReplaceDropsOldAliases(t *testing.T) {
	r := NewRegistry()
	first := Descriptor{Name: "echo", Aliases: []string{"say"}, Enabled: true, Description: "v1"}
	require.NoError(t, r.Register(first))

	second := Descriptor{Name: "echo", Aliases: []string{"repeat"}, Enabled: true, Description: "v2"}
	require.NoError(t, r.Register(second))

	require.Equal(t, 1, r.Len())
	_, ok := r.GetByAlias("say")
	require.False(t, ok)
	d, ok := r.GetByAlias("repeat")
	require.True(t, ok)
	require.Equal(t, "v2", d.Description)

	require.NoError(t, r.Register(Descriptor{Name: "say", Enabled: true}))
}

func TestRegistryDisabledIsKnownButNotUsable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "joke", Category: CategoryUser, Aliases: []string{"j"}, Enabled: true}))
	require.NoError(t, r.SetEnabled("joke", false))

	_, ok := r.Get("joke")
	require.False(t, ok)
	_, ok = r.GetByAlias("j")
	require.False(t, ok)

	d, ok := r.Resolve("j")
	require.True(t, ok)
	require.False(t, d.Enabled)

	all := r.All()
	require.Len(t, all, 1)
	require.Equal(t, "joke", all[0].Name)
	require.False(t, all[0].Enabled)

	require.True(t, IsCode(r.SetEnabled("missing", true), CodeNotFound))
}

func TestRegistryOrderingAndCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "zeta", Category: CategoryUser, Enabled: true}))
	require.NoError(t, r.Register(Descriptor{Name: "alpha", Category: CategoryUser, Enabled: true, Permissions: []string{"user"}}))
	require.NoError(t, r.Register(Descriptor{Name: "kick", Category: CategoryAdmin, Enabled: true}))

	all := r.All()
	require.Equal(t, []string{"kick", "alpha", "zeta"}, []string{all[0].Name, all[1].Name, all[2].Name})
	require.Len(t, r.ByCategory(CategoryUser), 2)

	all[1].Permissions[0] = "owner"
	d, _ := r.Lookup("alpha")
	require.Equal(t, []string{"user"}, d.Permissions)
}
