// Package commands holds the built-in chat commands registered alongside
// script plugins.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/dispatch"
	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/scheduler"
	"wa_command_bot/internal/transport"
)

// StatsSource exposes dispatcher counters.
type StatsSource interface {
	Stats() dispatch.Stats
}

// Deps are the collaborators built-in commands use.
type Deps struct {
	Prefix      string
	Manager     *plugin.Manager
	Permissions *permission.Evaluator
	Store       domain.Store
	Scheduler   *scheduler.Scheduler
	Client      transport.Client
	Stats       StatsSource
	StartedAt   time.Time
	Logger      *logrus.Entry
	Now         func() time.Time
}

// Set is the built-in command set.
type Set struct {
	prefix    string
	manager   *plugin.Manager
	registry  *plugin.Registry
	perms     *permission.Evaluator
	store     domain.Store
	scheduler *scheduler.Scheduler
	client    transport.Client
	stats     StatsSource
	startedAt time.Time
	logger    *logrus.Entry
	now       func() time.Time
}

// New validates deps and builds the command set.
func New(deps Deps) (*Set, error) {
	if deps.Manager == nil {
		return nil, errors.New("plugin manager is not initialized")
	}
	if deps.Permissions == nil {
		return nil, errors.New("permission evaluator is not initialized")
	}
	if deps.Store == nil {
		return nil, errors.New("store is not initialized")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler is not initialized")
	}
	if deps.Client == nil {
		return nil, errors.New("transport client is not initialized")
	}
	if deps.Prefix == "" {
		deps.Prefix = "."
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Now()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Logger()
	}

	return &Set{
		prefix:    deps.Prefix,
		manager:   deps.Manager,
		registry:  deps.Manager.Registry(),
		perms:     deps.Permissions,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		client:    deps.Client,
		stats:     deps.Stats,
		startedAt: deps.StartedAt,
		logger:    logging.Component(deps.Logger, "commands"),
		now:       deps.Now,
	}, nil
}

// Descriptors lists every built-in command.
func (s *Set) Descriptors() []plugin.Descriptor {
	var out []plugin.Descriptor
	out = append(out, s.generalCommands()...)
	out = append(out, s.pluginCommands()...)
	out = append(out, s.ownerCommands()...)
	out = append(out, s.moderationCommands()...)
	out = append(out, s.settingCommands()...)
	out = append(out, s.reminderCommands()...)
	return out
}

// Register registers the built-ins with the manager and the task handlers
// with the scheduler.
func (s *Set) Register(ctx context.Context) error {
	for _, d := range s.Descriptors() {
		if err := s.manager.RegisterBuiltin(ctx, d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	s.scheduler.Handle(scheduler.KindReminder, s.deliverReminder)
	s.scheduler.Handle(scheduler.KindUnmute, s.expireMute)
	return nil
}

// usage builds the standard usage error for a command.
func (s *Set) usage(problem, form string) error {
	if form == "" {
		return plugin.Usagef("❌ %s", problem)
	}
	return plugin.Usagef("❌ %s\n\nUsage: %s%s", problem, s.prefix, form)
}

func requireGroup(c *plugin.Context) error {
	if !c.IsGroup() {
		return plugin.Usagef("❌ This command can only be used in groups.")
	}
	return nil
}
