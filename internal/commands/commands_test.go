package commands

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"wa_command_bot/internal/cooldown"
	"wa_command_bot/internal/dispatch"
	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/scheduler"
	"wa_command_bot/internal/store/gormstore"
	"wa_command_bot/internal/transport"
	"wa_command_bot/internal/transport/transporttest"
)

const (
	groupID   = "g1@g.us"
	botID     = "bot@s.whatsapp.net"
	realOwner = "999@s.whatsapp.net"
	admin     = "100@s.whatsapp.net"
	member    = "200@s.whatsapp.net"
	bystander = "300@s.whatsapp.net"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	set        *Set
	dispatcher *dispatch.Dispatcher
	manager    *plugin.Manager
	store      *gormstore.Store
	client     *transporttest.Fake
	clock      *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	dialector, err := gormstore.SQLiteDialector(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	entry := logger.WithField("test", t.Name())

	store, err := gormstore.Open(ctx, dialector, entry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	client := transporttest.NewFake(botID)
	client.Groups[groupID] = transport.GroupInfo{ID: groupID, Participants: []transport.Participant{
		{ID: botID, IsAdmin: true},
		{ID: admin, IsAdmin: true},
		{ID: member},
		{ID: bystander},
	}}

	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	cooldowns := cooldown.New(cooldown.WithClock(clk.Now))
	t.Cleanup(cooldowns.Stop)

	manager, err := plugin.NewManager(filepath.Join(t.TempDir(), "plugins"), plugin.NewRegistry(), store, 3*time.Second, entry)
	require.NoError(t, err)

	sched, err := scheduler.New(store, entry)
	require.NoError(t, err)
	t.Cleanup(sched.Stop)

	perms := permission.NewEvaluator("999", store, store, client, entry)
	d, err := dispatch.New(dispatch.Options{
		Prefix:    ".",
		Workers:   2,
		Registry:  manager.Registry(),
		Roles:     perms,
		Cooldowns: cooldowns,
		Store:     store,
		Client:    client,
		Logger:    entry,
		Now:       clk.Now,
	})
	require.NoError(t, err)

	set, err := New(Deps{
		Prefix:      ".",
		Manager:     manager,
		Permissions: perms,
		Store:       store,
		Scheduler:   sched,
		Client:      client,
		Stats:       d,
		Logger:      entry,
		Now:         clk.Now,
	})
	require.NoError(t, err)
	require.NoError(t, set.Register(ctx))

	return &harness{set: set, dispatcher: d, manager: manager, store: store, client: client, clock: clk}
}

// send dispatches a message and steps past every cooldown.
func (h *harness) send(t *testing.T, msg transport.Message) dispatch.Outcome {
	t.Helper()
	outcome := h.dispatcher.Handle(context.Background(), msg)
	h.clock.Advance(time.Minute)
	return outcome
}

func inGroup(sender, text string, mentions ...string) transport.Message {
	return transport.Message{
		ID:       "m-" + text,
		ChatID:   groupID,
		SenderID: sender,
		Text:     text,
		IsGroup:  true,
		Mentions: mentions,
	}
}

func direct(sender, text string) transport.Message {
	return transport.Message{ID: "d-" + text, ChatID: sender, SenderID: sender, Text: text}
}

func TestRegisterPublishesBuiltins(t *testing.T) {
	h := newHarness(t)
	registry := h.manager.Registry()

	for _, name := range []string{"help", "ping", "stats", "plugin", "addplugin", "removeplugin",
		"addowner", "removeowner", "warn", "unwarn", "kick", "ban", "unban", "mute", "unmute",
		"setwarnlimit", "setwarnaction", "setwelcome", "setgoodbye", "remindme"} {
		d, ok := registry.Get(name)
		require.True(t, ok, name)
		require.True(t, d.Builtin, name)
	}

	d, ok := registry.GetByAlias("menu")
	require.True(t, ok)
	require.Equal(t, "help", d.Name)

	records, err := h.store.ListPlugins(context.Background())
	require.NoError(t, err)
	require.Len(t, records, len(h.set.Descriptors()))
}

func TestHelpListsOnlyAllowedCommands(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".help")))
	text := h.client.LastText()
	require.Contains(t, text, ".ping")
	require.Contains(t, text, ".remindme")
	require.NotContains(t, text, ".kick")
	require.NotContains(t, text, ".addowner")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".help")))
	require.Contains(t, h.client.LastText(), ".addowner")

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(member, ".help warn")))
	require.Contains(t, h.client.LastText(), "Unknown command")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".help warn")))
	require.Contains(t, h.client.LastText(), "Issue a warning")
}

func TestWarnReachesLimitAndKicks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".warn @200 spam", member)))
		require.Contains(t, h.client.LastText(), "remaining before action")
	}
	require.Empty(t, h.client.Updates())

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".warn @200 spam", member)))
	require.Contains(t, h.client.LastText(), "📊 Warnings: 3/3")
	require.Contains(t, h.client.LastText(), "automatically kicked")
	require.Contains(t, h.client.LastText(), "Reason: spam")

	updates := h.client.Updates()
	require.Len(t, updates, 1)
	require.Equal(t, transport.ParticipantRemove, updates[0].Action)
	require.Equal(t, []string{member}, updates[0].UserIDs)

	user, err := h.store.GetUser(ctx, member)
	require.NoError(t, err)
	require.Equal(t, 3, user.Warnings)

	stats, err := h.store.UserStats(ctx, member)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.WarningsReceived)

	logs, err := h.store.RecentCommandLogs(ctx, admin, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "warn", logs[0].Command)
	require.True(t, logs[0].Success)
	require.Equal(t, "warnings=3/3", logs[0].Detail)
}

func TestWarnBanActionAndLimitSetting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(admin, ".setwarnlimit 11")))
	require.Contains(t, h.client.LastText(), "between 1 and 10")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".setwarnlimit 1")))
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".setwarnaction ban")))
	value, ok, err := h.store.GetSetting(ctx, groupID, domain.SettingWarnAction)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.WarnActionBan, value)

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".warn @200", member)))
	require.Contains(t, h.client.LastText(), "automatically banned")
	require.Empty(t, h.client.Updates())

	user, err := h.store.GetUser(ctx, member)
	require.NoError(t, err)
	require.True(t, user.Banned)

	// Banned users are silenced.
	require.Equal(t, dispatch.OutcomeRestricted, h.send(t, inGroup(member, ".ping")))

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".unban @200", member)))
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".ping")))
}

func TestModerationRequiresOutranking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.set.perms.AddOwner(ctx, realOwner, bystander))

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(admin, ".warn @300", bystander)))
	require.Contains(t, h.client.LastText(), "You cannot warn this user")

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(admin, ".kick @999", realOwner)))
	require.Contains(t, h.client.LastText(), "You cannot kick this user")

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(admin, ".warn")))
	require.Contains(t, h.client.LastText(), "Usage: .warn @user [reason]")
	require.Empty(t, h.client.Updates())
}

func TestKickNeedsBotAdmin(t *testing.T) {
	h := newHarness(t)
	info := h.client.Groups[groupID]
	info.Participants[0].IsAdmin = false
	h.client.Groups[groupID] = info

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(admin, ".kick @200", member)))
	require.Contains(t, h.client.LastText(), "I need to be an admin")
	require.Empty(t, h.client.Updates())

	info.Participants[0].IsAdmin = true
	h.client.Groups[groupID] = info
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".kick @200 flooding", member)))
	require.Contains(t, h.client.LastText(), "has been removed")
	require.Len(t, h.client.Updates(), 1)
}

func TestMuteSchedulesDurableUnmute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(admin, ".mute @200 forever", member)))
	require.Contains(t, h.client.LastText(), "Invalid duration")

	start := h.clock.Now()
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".mute @200 10m spamming", member)))
	require.Contains(t, h.client.LastText(), "Duration: 10 minutes")
	require.Contains(t, h.client.LastText(), "Reason: spamming")

	user, err := h.store.GetUser(ctx, member)
	require.NoError(t, err)
	require.WithinDuration(t, start.Add(10*time.Minute), user.MutedUntil, time.Second)

	tasks, err := h.store.PendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, scheduler.KindUnmute, tasks[0].Kind)
	require.Equal(t, member, tasks[0].UserID)

	require.Equal(t, dispatch.OutcomeRestricted, h.send(t, inGroup(member, ".ping")))

	// Not yet due: the mute stays.
	require.NoError(t, h.set.expireMute(ctx, tasks[0]))
	user, err = h.store.GetUser(ctx, member)
	require.NoError(t, err)
	require.False(t, user.MutedUntil.IsZero())

	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.set.expireMute(ctx, tasks[0]))
	user, err = h.store.GetUser(ctx, member)
	require.NoError(t, err)
	require.False(t, user.Muted(h.clock.Now()))
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".ping")))
}

func TestUnmuteAndUnwarn(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".unmute @200", member)))
	require.Contains(t, h.client.LastText(), "is not currently muted")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".mute @200 1h", member)))
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".unmute @200", member)))
	require.Contains(t, h.client.LastText(), "has been unmuted")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".unwarn @200", member)))
	require.Contains(t, h.client.LastText(), "has no warnings")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".warn @200", member)))
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".unwarn @200", member)))
	require.Contains(t, h.client.LastText(), "Warnings: 0/3")
}

func TestOwnerManagement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".addowner 300")))
	require.Contains(t, h.client.LastText(), "is now an owner")
	isOwner, err := h.store.IsOwner(ctx, bystander)
	require.NoError(t, err)
	require.True(t, isOwner)

	// Owners may not manage owners; the dispatcher denies before the handler runs.
	require.Equal(t, dispatch.OutcomeDenied, h.send(t, direct(bystander, ".removeowner 300")))

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".removeowner 999")))
	require.Contains(t, h.client.LastText(), "real owner's role cannot be changed")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".owners")))
	require.Contains(t, h.client.LastText(), "@300")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".removeowner 300")))
	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".removeowner 300")))
	require.Contains(t, h.client.LastText(), "not an owner")
}

const shoutScript = `package main

import (
	"strings"

	"bot"
)

const Name = "shout"
const Description = "Shout the given text"

func Execute(c *bot.Context) error {
	return c.Reply(strings.ToUpper(c.Text()) + "!")
}
`

func TestPluginLifecycleCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".addplugin utility\n"+shoutScript)))
	require.Contains(t, h.client.LastText(), "Plugin *shout* installed in utility")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".shout hello")))
	require.Equal(t, "HELLO!", h.client.LastText())

	record, err := h.store.GetPlugin(ctx, "shout")
	require.NoError(t, err)
	require.Equal(t, realOwner, record.InstalledBy)

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".addplugin\n"+shoutScript)))
	require.Contains(t, h.client.LastText(), "already exists")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".plugin disable shout")))
	require.Equal(t, dispatch.OutcomeDisabled, h.send(t, inGroup(member, ".shout hello")))

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".plugin info shout")))
	require.Contains(t, h.client.LastText(), "Enabled: false")

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".plugin disable help")))
	require.Contains(t, h.client.LastText(), "protected")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".plugin list")))
	require.Contains(t, h.client.LastText(), "⛔ shout")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".removeplugin shout")))
	_, ok := h.manager.Registry().Lookup("shout")
	require.False(t, ok)

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".removeplugin help")))
	require.Contains(t, h.client.LastText(), "protected")
}

func TestAddPluginFromDocument(t *testing.T) {
	h := newHarness(t)
	h.client.Media = []byte(shoutScript)

	msg := direct(realOwner, ".addplugin")
	msg.Media = transport.MediaDocument
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, msg))

	d, ok := h.manager.Registry().Get("shout")
	require.True(t, ok)
	require.Equal(t, plugin.CategoryUser, d.Category)

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".addplugin")))
	require.Contains(t, h.client.LastText(), "Please include the plugin source")
}

func TestRemindMeSchedulesAndDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(member, ".remindme 30s stretch")))
	require.Contains(t, h.client.LastText(), "Minimum reminder time")
	require.Equal(t, dispatch.OutcomeFailed, h.send(t, inGroup(member, ".remindme 5w stretch")))
	require.Contains(t, h.client.LastText(), "Maximum reminder time")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".remindme 2h stand up and stretch")))
	require.Contains(t, h.client.LastText(), "Reminder set")

	tasks, err := h.store.PendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, scheduler.KindReminder, tasks[0].Kind)

	var payload reminderPayload
	require.NoError(t, json.Unmarshal([]byte(tasks[0].Payload), &payload))
	require.Equal(t, "stand up and stretch", payload.Message)

	require.NoError(t, h.set.deliverReminder(ctx, tasks[0]))
	sent := h.client.Sent()
	last := sent[len(sent)-1]
	require.Equal(t, member, last.ChatID)
	require.Contains(t, last.Message.Text, "stand up and stretch")

	h.client.SendErr = errors.New("not reachable")
	err = h.set.deliverReminder(ctx, tasks[0])
	require.ErrorContains(t, err, "deliver reminder to chat")
}

func TestWelcomeSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, dispatch.OutcomeFailed, h.send(t, direct(realOwner, ".setwelcome hi")))
	require.Contains(t, h.client.LastText(), "only be used in groups")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".setwelcome Welcome {mention}!\nRead the rules.")))
	value, ok, err := h.store.GetSetting(ctx, groupID, domain.SettingWelcomeMessage)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Welcome {mention}!\nRead the rules.", value)

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".setwelcome off")))
	value, _, err = h.store.GetSetting(ctx, groupID, domain.SettingWelcomeEnabled)
	require.NoError(t, err)
	require.Equal(t, "off", value)

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(admin, ".goodbye Bye {mention}")))
	value, _, err = h.store.GetSetting(ctx, groupID, domain.SettingGoodbyeMessage)
	require.NoError(t, err)
	require.Equal(t, "Bye {mention}", value)
}

func TestStatsShowsBotUsageToOwners(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".ping")))
	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, inGroup(member, ".stats")))
	require.NotContains(t, h.client.LastText(), "Top commands")

	require.Equal(t, dispatch.OutcomeSucceeded, h.send(t, direct(realOwner, ".stats")))
	require.Contains(t, h.client.LastText(), "ping")
}

func TestSplitCommandBody(t *testing.T) {
	line, body := splitCommandBody(".addplugin media --force\npackage main\n\nfunc X() {}", ".", "addplugin")
	require.Equal(t, "media --force", line)
	require.Equal(t, "package main\n\nfunc X() {}", body)

	var req plugin.InstallRequest
	require.True(t, parseInstallFlags(line, &req))
	require.Equal(t, plugin.CategoryMedia, req.Category)
	require.True(t, req.Overwrite)

	require.False(t, parseInstallFlags("package main", &req))
	require.True(t, strings.HasPrefix(body, "package"))
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	require.ErrorContains(t, err, "plugin manager is not initialized")
}
