// Package dispatch turns inbound chat messages into command invocations:
// parse, resolve, check, execute and audit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/cooldown"
	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/durations"
	"wa_command_bot/internal/feature/user"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/permission"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/transport"
)

// User-facing replies.
const (
	ReplyPermissionDenied = "❌ You don't have permission to use this command."
	ReplyDisabled         = "❌ This command is currently disabled."
	ReplyFailed           = "❌ Command execution failed. Please try again."
)

// Outcome is the terminal state of one Handle call.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeRestricted
	OutcomeUnknown
	OutcomeDisabled
	OutcomeDenied
	OutcomeCooldown
	OutcomeFailed
	OutcomeSucceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRestricted:
		return "restricted"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeDenied:
		return "denied"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeFailed:
		return "failed"
	case OutcomeSucceeded:
		return "succeeded"
	default:
		return "invalid"
	}
}

// RoleResolver resolves the role a user holds in a chat.
type RoleResolver interface {
	Role(ctx context.Context, userID, chatID string, isGroup bool) string
}

// Store is the persistence the dispatcher touches.
type Store interface {
	domain.UserStore
	domain.StatsStore
	domain.AuditStore
}

// Options configures a Dispatcher.
type Options struct {
	Prefix    string
	Workers   int
	Registry  *plugin.Registry
	Roles     RoleResolver
	Cooldowns *cooldown.Tracker
	Store     Store
	Client    transport.Client
	Logger    *logrus.Entry
	Now       func() time.Time
}

// Stats counts dispatch outcomes since start.
type Stats struct {
	Commands  int64 `json:"commands"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Denied    int64 `json:"denied"`
	Throttled int64 `json:"throttled"`
}

// Dispatcher runs the command pipeline for inbound messages.
type Dispatcher struct {
	prefix    string
	registry  *plugin.Registry
	roles     RoleResolver
	cooldowns *cooldown.Tracker
	store     Store
	users     *user.Registrar
	client    transport.Client
	logger    *logrus.Entry
	now       func() time.Time

	// inflight holds user:command keys whose handler is still running.
	mu       sync.Mutex
	inflight map[string]struct{}
	swg      sizedwaitgroup.SizedWaitGroup

	commands  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	denied    atomic.Int64
	throttled atomic.Int64
}

// New validates opts and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if strings.TrimSpace(opts.Prefix) == "" {
		return nil, errors.New("command prefix is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("plugin registry is not initialized")
	}
	if opts.Roles == nil {
		return nil, errors.New("role resolver is not initialized")
	}
	if opts.Cooldowns == nil {
		return nil, errors.New("cooldown tracker is not initialized")
	}
	if opts.Store == nil {
		return nil, errors.New("store is not initialized")
	}
	if opts.Client == nil {
		return nil, errors.New("transport client is not initialized")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := logging.Component(opts.Logger, "dispatch")
	return &Dispatcher{
		prefix:    opts.Prefix,
		registry:  opts.Registry,
		roles:     opts.Roles,
		cooldowns: opts.Cooldowns,
		store:     opts.Store,
		users:     user.NewRegistrar(opts.Store, logger),
		client:    opts.Client,
		logger:    logger,
		now:       opts.Now,
		inflight:  make(map[string]struct{}),
		swg:       sizedwaitgroup.New(opts.Workers),
	}, nil
}

// Prefix returns the command prefix.
func (d *Dispatcher) Prefix() string { return d.prefix }

// Submit handles msg on a worker, blocking while all workers are busy.
func (d *Dispatcher) Submit(ctx context.Context, msg transport.Message) error {
	if err := d.swg.AddWithContext(ctx); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	go func() {
		defer d.swg.Done()
		d.Handle(ctx, msg)
	}()
	return nil
}

// Wait blocks until every submitted message has been handled.
func (d *Dispatcher) Wait() {
	d.swg.Wait()
}

// Stats returns a snapshot of the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Commands:  d.commands.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Denied:    d.denied.Load(),
		Throttled: d.throttled.Load(),
	}
}

// Handle runs the full pipeline for one message. A user cannot run the same
// command again while a previous run is in flight or cooling down.
func (d *Dispatcher) Handle(ctx context.Context, msg transport.Message) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg.IsStatus || msg.FromMe || msg.SenderID == "" {
		return OutcomeIgnored
	}

	now := d.now()
	sender, err := d.observe(ctx, msg, now)
	if err != nil {
		d.logger.WithError(err).WithFields(logging.Fields{
			"event":   "sender_lookup_failed",
			"user_id": msg.SenderID,
		}).Warn("dropping message from unverified sender")
		return OutcomeIgnored
	}
	if sender.Restricted(now) {
		return OutcomeRestricted
	}

	commandName, args, ok := Parse(d.prefix, msg.Text)
	if !ok {
		return OutcomeIgnored
	}

	desc, ok := d.registry.Resolve(commandName)
	if !ok {
		return OutcomeUnknown
	}
	d.commands.Add(1)

	logger := logging.WithContext(logging.Context{
		UserID:  msg.SenderID,
		ChatID:  msg.ChatID,
		Command: desc.Name,
	}).WithField("dispatch_id", uuid.NewString())
	started := time.Now()

	role := d.roles.Role(ctx, msg.SenderID, msg.ChatID, msg.IsGroup)
	if !permission.Allows(role, desc.Permissions) {
		d.denied.Add(1)
		d.reply(ctx, logger, msg, ReplyPermissionDenied)
		d.audit(ctx, logger, msg, desc.Name, started, "", fmt.Errorf("permission denied: role %s", role))
		return OutcomeDenied
	}

	if !desc.Enabled {
		d.failed.Add(1)
		d.reply(ctx, logger, msg, ReplyDisabled)
		d.audit(ctx, logger, msg, desc.Name, started, "", errors.New("command disabled"))
		return OutcomeDisabled
	}

	// Throttled attempts are answered but not audited.
	if remaining, ok := d.acquire(msg.SenderID, desc); !ok {
		d.throttled.Add(1)
		logger.WithField("event", "command_throttled").Debug("command on cooldown")
		d.reply(ctx, logger, msg, CooldownReply(remaining, d.prefix, desc.Name))
		return OutcomeCooldown
	}
	defer d.release(msg.SenderID, desc.Name)

	inv := plugin.Invocation{
		Message: msg,
		Command: desc.Name,
		Invoked: commandName,
		Args:    args,
		Prefix:  d.prefix,
		Role:    role,
	}
	pc := plugin.NewContext(ctx, d.client, inv, logger)
	err = d.execute(ctx, desc, pc)
	if err != nil {
		d.failed.Add(1)
		d.reply(ctx, logger, msg, failureReply(err))
		d.audit(ctx, logger, msg, desc.Name, started, pc.Detail(), err)
		return OutcomeFailed
	}

	d.succeeded.Add(1)
	d.cooldowns.Set(msg.SenderID, desc.Name, desc.Cooldown)
	if err := d.store.RecordCommand(ctx, msg.SenderID, msg.ChatID, d.now()); err != nil {
		logger.WithError(err).WithField("event", "stats_update_failed").Warn("failed to record command usage")
	}
	d.audit(ctx, logger, msg, desc.Name, started, pc.Detail(), nil)
	return OutcomeSucceeded
}

// Parse splits text into a lower-cased command name and its arguments.
func Parse(prefix, text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// CooldownReply renders the wait notice for a throttled command.
func CooldownReply(remaining time.Duration, prefix, command string) string {
	return fmt.Sprintf("⏳ Please wait %s before using %s%s again.", durations.Format(remaining), prefix, command)
}

// observe records the user and the message before any other check. The
// sender record is needed for the restriction check, so failing to load it
// is an error.
func (d *Dispatcher) observe(ctx context.Context, msg transport.Message, now time.Time) (domain.User, error) {
	sender, _, err := d.users.EnsureUser(ctx, msg.SenderID, msg.SenderName)
	if err != nil {
		return domain.User{}, err
	}
	if err := d.store.RecordMessage(ctx, msg.SenderID, msg.ChatID, now); err != nil {
		d.logger.WithError(err).WithFields(logging.Fields{
			"event":   "stats_update_failed",
			"user_id": msg.SenderID,
		}).Warn("failed to record message")
	}
	return sender, nil
}

// acquire claims the user's slot for desc. It fails with the time left when
// the command is cooling down or a previous run has not finished.
func (d *Dispatcher) acquire(userID string, desc plugin.Descriptor) (time.Duration, bool) {
	key := cooldown.Key(userID, desc.Name)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[key]; busy {
		return desc.Cooldown, false
	}
	if d.cooldowns.OnCooldown(userID, desc.Name) {
		return d.cooldowns.Remaining(userID, desc.Name), false
	}
	d.inflight[key] = struct{}{}
	return 0, true
}

func (d *Dispatcher) release(userID, command string) {
	d.mu.Lock()
	delete(d.inflight, cooldown.Key(userID, command))
	d.mu.Unlock()
}

func (d *Dispatcher) execute(ctx context.Context, desc plugin.Descriptor, c *plugin.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", desc.Name, r)
		}
	}()
	if desc.Handler == nil {
		return fmt.Errorf("command %s has no handler", desc.Name)
	}
	return desc.Handler(ctx, c)
}

func failureReply(err error) string {
	if usage, ok := plugin.AsUsage(err); ok {
		return usage.Message
	}
	if msg, ok := plugin.UserMessage(err); ok {
		return msg
	}
	if msg, ok := transport.DescribeError(err); ok {
		return msg
	}
	return ReplyFailed
}

func (d *Dispatcher) reply(ctx context.Context, logger *logrus.Entry, msg transport.Message, text string) {
	_, err := d.client.SendMessage(ctx, msg.ChatID, transport.OutgoingMessage{Text: text, QuoteID: msg.ID})
	if err != nil {
		logger.WithError(err).WithField("event", "reply_failed").Warn("failed to send reply")
	}
}

func (d *Dispatcher) audit(ctx context.Context, logger *logrus.Entry, msg transport.Message, command string, started time.Time, detail string, cause error) {
	elapsed := time.Since(started)
	entry := domain.CommandLog{
		UserID:     msg.SenderID,
		ChatID:     msg.ChatID,
		Command:    command,
		Success:    cause == nil,
		Detail:     detail,
		DurationMS: elapsed.Milliseconds(),
		ExecutedAt: d.now(),
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}

	fields := logging.Fields{
		"event":       "command_executed",
		"success":     entry.Success,
		"duration_ms": entry.DurationMS,
	}
	if cause != nil {
		logger.WithError(cause).WithFields(fields).Warn("command failed")
	} else {
		logger.WithFields(fields).Info("command executed")
	}

	if err := d.store.AppendCommandLog(ctx, entry); err != nil {
		logger.WithError(err).WithField("event", "audit_write_failed").Error("failed to write audit record")
	}
}
