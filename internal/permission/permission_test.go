package permission

import (
	"context"
	"errors"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/transport"
	"wa_command_bot/internal/transport/transporttest"
)

const (
	realOwner = "15550000001"
	groupID   = "g1@g.us"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *fakeOwners, *fakeUsers, *transporttest.Fake, *logtest.Hook) {
	t.Helper()

	owners := &fakeOwners{set: map[string]bool{}}
	users := &fakeUsers{roles: map[string]string{}}
	groups := transporttest.NewFake("bot")
	groups.Groups[groupID] = transport.GroupInfo{ID: groupID, Participants: []transport.Participant{
		{ID: "admin@s.whatsapp.net", IsAdmin: true},
		{ID: "member@s.whatsapp.net"},
		{ID: "owner@s.whatsapp.net"},
	}}

	logger, hook := logtest.NewNullLogger()
	return NewEvaluator(realOwner, owners, users, groups, logger.WithField("test", t.Name())), owners, users, groups, hook
}

func TestRoleResolutionOrder(t *testing.T) {
	eval, owners, _, _, _ := newTestEvaluator(t)
	owners.set["owner@s.whatsapp.net"] = true
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		isGroup bool
		want    string
	}{
		{name: "real owner jid", user: realOwner + "@s.whatsapp.net", isGroup: true, want: domain.RoleRealOwner},
		{name: "real owner device", user: realOwner + ":7@s.whatsapp.net", want: domain.RoleRealOwner},
		{name: "owner beats admin", user: "owner@s.whatsapp.net", isGroup: true, want: domain.RoleOwner},
		{name: "group admin", user: "admin@s.whatsapp.net", isGroup: true, want: domain.RoleAdmin},
		{name: "admin in dm", user: "admin@s.whatsapp.net", isGroup: false, want: domain.RoleUser},
		{name: "member", user: "member@s.whatsapp.net", isGroup: true, want: domain.RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval.Role(ctx, tt.user, groupID, tt.isGroup); got != tt.want {
				t.Fatalf("Role(%s) = %s, want %s", tt.user, got, tt.want)
			}
		})
	}
}

func TestAdminLookupFailureFailsClosed(t *testing.T) {
	eval, _, _, groups, hook := newTestEvaluator(t)
	groups.GroupErr = errors.New("timeout")

	if got := eval.Role(context.Background(), "admin@s.whatsapp.net", groupID, true); got != domain.RoleUser {
		t.Fatalf("expected fail-closed user role, got %s", got)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "admin_lookup_failed" {
		t.Fatalf("expected admin_lookup_failed log, got %+v", entry)
	}
}

func TestAllowsIsAnyOf(t *testing.T) {
	tests := []struct {
		role     string
		required []string
		want     bool
	}{
		{role: domain.RoleUser, required: nil, want: true},
		{role: domain.RoleUser, required: []string{domain.RoleAdmin}, want: false},
		{role: domain.RoleAdmin, required: []string{domain.RoleAdmin}, want: true},
		{role: domain.RoleAdmin, required: []string{domain.RoleOwner, domain.RoleAdmin}, want: true},
		{role: domain.RoleUser, required: []string{domain.RoleOwner, domain.RoleUser}, want: true},
		{role: domain.RoleOwner, required: []string{domain.RoleRealOwner}, want: false},
		{role: domain.RoleRealOwner, required: []string{domain.RoleOwner}, want: true},
		{role: domain.RoleAdmin, required: []string{"bogus"}, want: false},
		{role: "bogus", required: nil, want: false},
	}

	for _, tt := range tests {
		if got := Allows(tt.role, tt.required); got != tt.want {
			t.Fatalf("Allows(%s, %v) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
}

func TestCanActOnRequiresStrictlyHigherRole(t *testing.T) {
	eval, owners, _, groups, _ := newTestEvaluator(t)
	owners.set["owner@s.whatsapp.net"] = true
	info := groups.Groups[groupID]
	info.Participants = append(info.Participants, transport.Participant{ID: "admin2@s.whatsapp.net", IsAdmin: true})
	groups.Groups[groupID] = info
	ctx := context.Background()

	if !eval.CanActOn(ctx, "admin@s.whatsapp.net", "member@s.whatsapp.net", groupID) {
		t.Fatalf("expected admin to act on member")
	}
	if eval.CanActOn(ctx, "admin@s.whatsapp.net", "admin2@s.whatsapp.net", groupID) {
		t.Fatalf("expected admin not to act on peer admin")
	}
	if eval.CanActOn(ctx, "member@s.whatsapp.net", "admin@s.whatsapp.net", groupID) {
		t.Fatalf("expected member not to act on anyone")
	}
	if eval.CanActOn(ctx, "owner@s.whatsapp.net", realOwner, groupID) {
		t.Fatalf("expected nobody to act on the real owner")
	}
	if eval.CanActOn(ctx, "admin@s.whatsapp.net", "admin@s.whatsapp.net", groupID) {
		t.Fatalf("expected self-moderation to be rejected")
	}
	if !eval.CanPromote(ctx, "owner@s.whatsapp.net", groupID, true) || eval.CanPromote(ctx, "admin@s.whatsapp.net", groupID, true) {
		t.Fatalf("expected only owners and above to promote")
	}
	if !eval.CanManageGroup(ctx, "admin@s.whatsapp.net", groupID) || eval.CanManageGroup(ctx, "member@s.whatsapp.net", groupID) {
		t.Fatalf("expected only admins and above to manage the group")
	}
}

func TestOwnerChangesRestrictedToRealOwner(t *testing.T) {
	eval, owners, users, _, hook := newTestEvaluator(t)
	ctx := context.Background()

	if err := eval.AddOwner(ctx, "owner@s.whatsapp.net", "member@s.whatsapp.net"); !errors.Is(err, ErrNotRealOwner) {
		t.Fatalf("expected ErrNotRealOwner, got %v", err)
	}
	if err := eval.AddOwner(ctx, realOwner, realOwner+"@s.whatsapp.net"); !errors.Is(err, ErrRealOwnerImmutable) {
		t.Fatalf("expected ErrRealOwnerImmutable, got %v", err)
	}

	if err := eval.AddOwner(ctx, realOwner, "member@s.whatsapp.net"); err != nil {
		t.Fatalf("AddOwner returned error: %v", err)
	}
	if !owners.set["member@s.whatsapp.net"] || users.roles["member@s.whatsapp.net"] != domain.RoleOwner {
		t.Fatalf("expected owner to be stored with owner role, got owners=%v roles=%v", owners.set, users.roles)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["event"] != "owner_added" {
		t.Fatalf("expected owner_added log, got %+v", entry)
	}

	if err := eval.RemoveOwner(ctx, realOwner, "member@s.whatsapp.net"); err != nil {
		t.Fatalf("RemoveOwner returned error: %v", err)
	}
	if users.roles["member@s.whatsapp.net"] != domain.RoleUser {
		t.Fatalf("expected role reset to user, got %s", users.roles["member@s.whatsapp.net"])
	}
	if err := eval.RemoveOwner(ctx, realOwner, "member@s.whatsapp.net"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on second removal, got %v", err)
	}
}

func TestValidatePermissionList(t *testing.T) {
	got, err := ValidatePermissionList(nil)
	if err != nil || len(got) != 1 || got[0] != domain.RoleUser {
		t.Fatalf("expected default [user], got %v (%v)", got, err)
	}

	got, err = ValidatePermissionList([]string{"Admin", " owner"})
	if err != nil || got[0] != domain.RoleAdmin || got[1] != domain.RoleOwner {
		t.Fatalf("expected normalized roles, got %v (%v)", got, err)
	}

	if _, err := ValidatePermissionList([]string{"moderator"}); err == nil {
		t.Fatalf("expected unknown permission to be rejected")
	}

	if Highest([]string{domain.RoleAdmin, domain.RoleOwner}) != domain.RoleOwner || Highest(nil) != domain.RoleUser {
		t.Fatalf("unexpected Highest result")
	}
}

type fakeOwners struct {
	set map[string]bool
	err error
}

func (f *fakeOwners) IsOwner(_ context.Context, id string) (bool, error) {
	return f.set[id], f.err
}

func (f *fakeOwners) AddOwner(_ context.Context, owner domain.Owner) error {
	f.set[owner.ID] = true
	return nil
}

func (f *fakeOwners) RemoveOwner(_ context.Context, id string) (bool, error) {
	if !f.set[id] {
		return false, nil
	}
	delete(f.set, id)
	return true, nil
}

func (f *fakeOwners) ListOwners(context.Context) ([]domain.Owner, error) {
	out := make([]domain.Owner, 0, len(f.set))
	for id := range f.set {
		out = append(out, domain.Owner{ID: id})
	}
	return out, nil
}

type fakeUsers struct {
	roles map[string]string
}

func (f *fakeUsers) EnsureUser(_ context.Context, user domain.User) (domain.User, bool, error) {
	if _, ok := f.roles[user.ID]; ok {
		return user, false, nil
	}
	f.roles[user.ID] = domain.RoleUser
	return user, true, nil
}

func (f *fakeUsers) SetRole(_ context.Context, id, role string) error {
	f.roles[id] = role
	return nil
}
