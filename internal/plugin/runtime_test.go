package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wa_command_bot/internal/transport"
	"wa_command_bot/internal/transport/transporttest"
)

const echoScript = `package main

import (
	"strings"

	"bot"
)

const Name = "Echo"
const Description = "Repeat the given text"
const Usage = "echo <text>"
const Cooldown = 1500

var Aliases = []string{"say"}
var Permissions = []string{"user"}

func Execute(c *bot.Context) error {
	if len(c.Args) == 0 {
		return bot.Usagef("Usage: .echo <text>")
	}
	return c.Reply(strings.ToUpper(c.Text()))
}
`

func TestCompileReadsContract(t *testing.T) {
	script, err := Compile("echo.go", echoScript)
	require.NoError(t, err)
	require.Equal(t, "echo", script.Name)
	require.Equal(t, "Repeat the given text", script.Description)
	require.Equal(t, "echo <text>", script.Usage)
	require.Equal(t, []string{"say"}, script.Aliases)
	require.Equal(t, []string{"user"}, script.Permissions)
	require.Equal(t, 1500*time.Millisecond, script.Cooldown)
	require.Empty(t, script.Warnings)

	fake := transporttest.NewFake("bot@s.whatsapp.net")
	msg := transport.Message{ID: "m1", ChatID: "chat@g.us", SenderID: "1@s.whatsapp.net", IsGroup: true}
	c := NewContext(context.Background(), fake, Invocation{Message: msg, Command: "echo", Args: []string{"hi", "there"}}, nil)

	require.NoError(t, script.Handler()(context.Background(), c))
	require.Equal(t, "HI THERE", fake.LastText())

	empty := NewContext(context.Background(), fake, Invocation{Message: msg, Command: "echo"}, nil)
	err = script.Handler()(context.Background(), empty)
	usage, ok := AsUsage(err)
	require.True(t, ok)
	require.Equal(t, "Usage: .echo <text>", usage.Message)
}

func TestCompileRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "no execute", src: "package main\nconst Name = \"foo\"\nconst Description = \"d\"\n"},
		{name: "no name", src: "package main\nimport \"bot\"\nconst Description = \"d\"\nfunc Execute(c *bot.Context) error { return nil }\n"},
		{name: "empty description", src: "package main\nimport \"bot\"\nconst Name = \"foo\"\nconst Description = \"\"\nfunc Execute(c *bot.Context) error { return nil }\n"},
		{name: "wrong execute", src: "package main\nconst Name = \"foo\"\nconst Description = \"d\"\nfunc Execute() {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("foo.go", tt.src)
			require.Error(t, err)
			require.True(t, IsCode(err, CodeInvalid), "got %v", err)
		})
	}

	_, err := Compile("broken.go", "package main\nfunc {")
	require.True(t, IsCode(err, CodeLoadFailed))
}

func TestCompileRejectsUnknownPermissions(t *testing.T) {
	src := `package main

import "bot"

const Name = "mod"
const Description = "moderator tool"

var Permissions = []string{"moderator"}

func Execute(c *bot.Context) error { return nil }
`
	_, err := Compile("mod.go", src)
	require.True(t, IsCode(err, CodeInvalid), "got %v", err)
	require.Contains(t, err.Error(), "moderator")

	script, err := Compile("mod.go", strings.Replace(src, `"moderator"`, `" Admin "`, 1))
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, script.Permissions)
}

func TestCompileWarnsOnOptionalTypes(t *testing.T) {
	src := `package main

import "bot"

const Name = "odd"
const Description = "odd metadata"

var Aliases = "o"
var Permissions = 3

func Execute(c *bot.Context) error { return nil }
`
	script, err := Compile("odd.go", src)
	require.NoError(t, err)
	require.Len(t, script.Warnings, 2)
	require.Empty(t, script.Aliases)
	require.Empty(t, script.Permissions)
	require.Zero(t, script.Cooldown)
}

func TestCompileCannotImportHostPackages(t *testing.T) {
	src := `package main

import (
	"os"

	"bot"
)

const Name = "sneaky"
const Description = "reads env"

func Execute(c *bot.Context) error { return c.Reply(os.Getenv("HOME")) }
`
	_, err := Compile("sneaky.go", src)
	require.True(t, IsCode(err, CodeLoadFailed), "got %v", err)
}

func TestScriptHandlerRecoversPanics(t *testing.T) {
	src := `package main

import "bot"

const Name = "boom"
const Description = "panics"

func Execute(c *bot.Context) error {
	var m map[string]int
	m["x"] = 1
	return nil
}
`
	script, err := Compile("boom.go", src)
	require.NoError(t, err)

	err = script.Handler()(context.Background(), NewContext(context.Background(), nil, Invocation{}, nil))
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestCheckSourceBlacklist(t *testing.T) {
	require.NoError(t, CheckSource(echoScript))

	for _, src := range []string{
		"import \"os/exec\"",
		"import \"os\"",
		"import \"net/http\"",
		"import \"unsafe\"",
		"exec.Command(\"rm\")",
	} {
		err := CheckSource(src)
		require.True(t, IsCode(err, CodeRejected), "source %q", src)
		msg, ok := UserMessage(err)
		require.True(t, ok)
		require.Contains(t, msg, "rejected")
	}
}

func TestHashIsStable(t *testing.T) {
	require.Equal(t, Hash([]byte(echoScript)), Hash([]byte(echoScript)))
	require.Len(t, Hash(nil), 64)
}

func TestResolveUserArg(t *testing.T) {
	like := "111@s.whatsapp.net"
	require.Equal(t, "222@s.whatsapp.net", ResolveUserArg("@222", like))
	require.Equal(t, "222@s.whatsapp.net", ResolveUserArg("+222", like))
	require.Equal(t, "333@lid", ResolveUserArg("333@lid", like))
	require.Equal(t, "", ResolveUserArg("spam", like))
	require.Equal(t, "", ResolveUserArg("", like))
	require.Equal(t, "42", ResolveUserArg("42", "7"))
}

func TestContextTarget(t *testing.T) {
	base := transport.Message{SenderID: "1@s.whatsapp.net"}

	withMention := base
	withMention.Mentions = []string{"2@s.whatsapp.net"}
	c := NewContext(context.Background(), nil, Invocation{Message: withMention, Args: []string{"@2", "spam"}}, nil)
	require.Equal(t, "2@s.whatsapp.net", c.Target())
	require.Equal(t, []string{"spam"}, c.TargetArgs())

	quoted := base
	quoted.QuotedSenderID = "3@s.whatsapp.net"
	c = NewContext(context.Background(), nil, Invocation{Message: quoted, Args: []string{"flood"}}, nil)
	require.Equal(t, "3@s.whatsapp.net", c.Target())
	require.Equal(t, []string{"flood"}, c.TargetArgs())

	c = NewContext(context.Background(), nil, Invocation{Message: base, Args: []string{"4"}}, nil)
	require.Equal(t, "4@s.whatsapp.net", c.Target())
	require.Equal(t, "", c.Arg(3))
}
