package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// UserStore persists users and their moderation state.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	// EnsureUser creates the user on first sight and refreshes name/phone
	// otherwise. The bool reports whether a record was created.
	EnsureUser(ctx context.Context, user User) (User, bool, error)
	SetRole(ctx context.Context, id, role string) error
	ListByRole(ctx context.Context, role string) ([]User, error)
	AddWarning(ctx context.Context, id string) (int, error)
	RemoveWarning(ctx context.Context, id string) (int, error)
	ClearWarnings(ctx context.Context, id string) error
	SetBanned(ctx context.Context, id string, banned bool) error
	// SetMutedUntil mutes until the given time; the zero time unmutes.
	SetMutedUntil(ctx context.Context, id string, until time.Time) error
	SetRestrictedUntil(ctx context.Context, id string, until time.Time) error
	CountUsers(ctx context.Context) (int64, error)
}

// GroupStore persists groups and their key/value settings.
type GroupStore interface {
	EnsureGroup(ctx context.Context, group Group) (bool, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	GetSetting(ctx context.Context, groupID, key string) (string, bool, error)
	SetSetting(ctx context.Context, groupID, key, value string) error
	CountGroups(ctx context.Context) (int64, error)
}

// OwnerStore persists the owners set.
type OwnerStore interface {
	IsOwner(ctx context.Context, id string) (bool, error)
	AddOwner(ctx context.Context, owner Owner) error
	RemoveOwner(ctx context.Context, id string) (bool, error)
	ListOwners(ctx context.Context) ([]Owner, error)
}

// AuditStore appends and summarizes dispatch audit records.
type AuditStore interface {
	AppendCommandLog(ctx context.Context, entry CommandLog) error
	CommandStats(ctx context.Context, since time.Time) ([]CommandStat, error)
	RecentCommandLogs(ctx context.Context, userID string, limit int) ([]CommandLog, error)
}

// StatsStore maintains user activity counters.
type StatsStore interface {
	RecordMessage(ctx context.Context, userID, chatID string, at time.Time) error
	RecordCommand(ctx context.Context, userID, chatID string, at time.Time) error
	RecordWarning(ctx context.Context, userID, chatID string) error
	// UserStats aggregates counters for a user across all chats.
	UserStats(ctx context.Context, userID string) (UserStats, error)
}

// PluginCatalog persists installed plugin rows.
type PluginCatalog interface {
	UpsertPlugin(ctx context.Context, record PluginRecord) error
	GetPlugin(ctx context.Context, name string) (PluginRecord, error)
	SetPluginEnabled(ctx context.Context, name string, enabled bool) error
	DeletePlugin(ctx context.Context, name string) error
	ListPlugins(ctx context.Context) ([]PluginRecord, error)
}

// TaskStore persists deferred tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) (Task, error)
	PendingTasks(ctx context.Context) ([]Task, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id string, reason string) error
	CancelTask(ctx context.Context, id string) error
}

// Store is the full persistence collaborator.
type Store interface {
	UserStore
	GroupStore
	OwnerStore
	AuditStore
	StatsStore
	PluginCatalog
	TaskStore
}
