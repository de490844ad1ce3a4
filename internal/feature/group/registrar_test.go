package group

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/transport"
	"wa_command_bot/internal/transport/transporttest"
)

const (
	botID   = "bot@s.whatsapp.net"
	groupID = "g1@g.us"
)

type fakeGroups struct {
	groups   map[string]domain.Group
	settings map[string]string
	err      error
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{
		groups:   make(map[string]domain.Group),
		settings: make(map[string]string),
	}
}

func (f *fakeGroups) EnsureGroup(_ context.Context, group domain.Group) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	existing, ok := f.groups[group.ID]
	if !ok {
		f.groups[group.ID] = group
		return true, nil
	}
	if group.Name != "" {
		existing.Name = group.Name
	}
	if group.Description != "" {
		existing.Description = group.Description
	}
	f.groups[group.ID] = existing
	return false, nil
}

func (f *fakeGroups) GetSetting(_ context.Context, groupID, key string) (string, bool, error) {
	v, ok := f.settings[groupID+"/"+key]
	return v, ok, nil
}

func (f *fakeGroups) set(key, value string) {
	f.settings[groupID+"/"+key] = value
}

func newTestRegistrar(t *testing.T) (*Registrar, *fakeGroups, *transporttest.Fake, *logtest.Hook) {
	t.Helper()
	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)

	groups := newFakeGroups()
	client := transporttest.NewFake(botID)
	client.Groups[groupID] = transport.GroupInfo{ID: groupID, Subject: "Gophers", Description: "chat"}
	return NewRegistrar(groups, client, logrus.NewEntry(hookLogger)), groups, client, hook
}

func TestEnsureGroupCreatesAndNamesFromMetadata(t *testing.T) {
	registrar, groups, _, hook := newTestRegistrar(t)

	created, err := registrar.EnsureGroup(context.Background(), groupID, "")
	if err != nil {
		t.Fatalf("EnsureGroup returned error: %v", err)
	}
	if !created {
		t.Fatalf("expected created to be true for new group")
	}
	if got := groups.groups[groupID]; got.Name != "Gophers" || got.Description != "chat" {
		t.Fatalf("expected group named from metadata, got %+v", got)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "group_registered" {
		t.Fatalf("expected group_registered log entry, got %v", entry)
	}

	created, err = registrar.EnsureGroup(context.Background(), groupID, " Renamed ")
	if err != nil {
		t.Fatalf("EnsureGroup returned error on rerun: %v", err)
	}
	if created {
		t.Fatalf("expected created to be false for existing group")
	}
	if got := groups.groups[groupID].Name; got != "Renamed" {
		t.Fatalf("expected title refresh, got %q", got)
	}
	if entry := hook.LastEntry(); entry.Data["event"] != "group_seen" {
		t.Fatalf("expected group_seen log entry, got %v", entry.Data["event"])
	}
}

func TestEnsureGroupValidatesInput(t *testing.T) {
	registrar, groups, _, _ := newTestRegistrar(t)

	if _, err := registrar.EnsureGroup(nil, groupID, ""); err == nil {
		t.Fatalf("expected nil context to error")
	}
	if _, err := registrar.EnsureGroup(context.Background(), " ", ""); err == nil {
		t.Fatalf("expected empty chat id to error")
	}

	groups.err = errors.New("locked")
	if _, err := registrar.EnsureGroup(context.Background(), groupID, ""); !errors.Is(err, groups.err) {
		t.Fatalf("expected store error to be wrapped, got %v", err)
	}

	var nilRegistrar *Registrar
	if _, err := nilRegistrar.EnsureGroup(context.Background(), groupID, ""); err == nil {
		t.Fatalf("expected nil registrar to error")
	}
}

func TestHandleParticipantsSendsWelcome(t *testing.T) {
	registrar, groups, client, _ := newTestRegistrar(t)
	groups.set(domain.SettingWelcomeMessage, "Welcome {mention}! Read the rules, {mention}.")

	err := registrar.HandleParticipants(context.Background(), transport.ParticipantsEvent{
		ChatID:       groupID,
		Action:       transport.ParticipantAdd,
		Participants: []string{"100@s.whatsapp.net", "200@s.whatsapp.net", botID},
	})
	if err != nil {
		t.Fatalf("HandleParticipants returned error: %v", err)
	}

	sent := client.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one greeting, got %d", len(sent))
	}
	want := "Welcome @100 @200! Read the rules, @100 @200."
	if sent[0].ChatID != groupID || sent[0].Message.Text != want {
		t.Fatalf("expected %q in %s, got %q in %s", want, groupID, sent[0].Message.Text, sent[0].ChatID)
	}
	if len(sent[0].Message.Mentions) != 2 {
		t.Fatalf("expected the bot to be excluded from mentions, got %v", sent[0].Message.Mentions)
	}
}

func TestHandleParticipantsSendsGoodbye(t *testing.T) {
	registrar, groups, client, _ := newTestRegistrar(t)
	groups.set(domain.SettingGoodbyeMessage, "Bye {mention}")

	err := registrar.HandleParticipants(context.Background(), transport.ParticipantsEvent{
		ChatID:       groupID,
		Action:       transport.ParticipantRemove,
		Participants: []string{"300@s.whatsapp.net"},
	})
	if err != nil {
		t.Fatalf("HandleParticipants returned error: %v", err)
	}
	if got := client.LastText(); got != "Bye @300" {
		t.Fatalf("expected goodbye text, got %q", got)
	}
}

func TestHandleParticipantsSkipsWithoutGreeting(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeGroups)
		evt   transport.ParticipantsEvent
	}{
		{
			name:  "no message configured",
			setup: func(*fakeGroups) {},
			evt:   transport.ParticipantsEvent{ChatID: groupID, Action: transport.ParticipantAdd, Participants: []string{"1"}},
		},
		{
			name: "greetings off",
			setup: func(g *fakeGroups) {
				g.set(domain.SettingWelcomeMessage, "hi {mention}")
				g.set(domain.SettingWelcomeEnabled, "OFF")
			},
			evt: transport.ParticipantsEvent{ChatID: groupID, Action: transport.ParticipantAdd, Participants: []string{"1"}},
		},
		{
			name:  "promotion",
			setup: func(g *fakeGroups) { g.set(domain.SettingWelcomeMessage, "hi") },
			evt:   transport.ParticipantsEvent{ChatID: groupID, Action: transport.ParticipantPromote, Participants: []string{"1"}},
		},
		{
			name:  "only the bot joined",
			setup: func(g *fakeGroups) { g.set(domain.SettingWelcomeMessage, "hi") },
			evt:   transport.ParticipantsEvent{ChatID: groupID, Action: transport.ParticipantAdd, Participants: []string{botID}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			registrar, groups, client, _ := newTestRegistrar(t)
			tt.setup(groups)

			if err := registrar.HandleParticipants(context.Background(), tt.evt); err != nil {
				t.Fatalf("HandleParticipants returned error: %v", err)
			}
			if sent := client.Sent(); len(sent) != 0 {
				t.Fatalf("expected no greeting, got %v", sent)
			}
			if _, ok := groups.groups[groupID]; !ok {
				t.Fatalf("expected group to be tracked")
			}
		})
	}
}

func TestHandleParticipantsPropagatesSendError(t *testing.T) {
	registrar, groups, client, _ := newTestRegistrar(t)
	groups.set(domain.SettingWelcomeMessage, "hi")
	client.SendErr = errors.New("offline")

	err := registrar.HandleParticipants(context.Background(), transport.ParticipantsEvent{
		ChatID:       groupID,
		Action:       transport.ParticipantAdd,
		Participants: []string{"1"},
	})
	if !errors.Is(err, client.SendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
}
