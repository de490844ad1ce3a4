package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/durations"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/plugin"
	"wa_command_bot/internal/scheduler"
	"wa_command_bot/internal/transport"
)

// Reminder delay bounds.
const (
	MinReminder = time.Minute
	MaxReminder = 30 * 24 * time.Hour
)

const reminderTimeLayout = "2006-01-02 15:04 MST"

type reminderPayload struct {
	Message string    `json:"message"`
	SetAt   time.Time `json:"set_at"`
}

func (s *Set) reminderCommands() []plugin.Descriptor {
	return []plugin.Descriptor{
		{
			Name:        "remindme",
			Category:    plugin.CategoryUser,
			Description: "Set a personal reminder delivered by DM",
			Usage:       "remindme <time> <message>",
			Aliases:     []string{"remind"},
			Cooldown:    time.Second,
			Handler:     s.remindMe,
		},
	}
}

func (s *Set) remindMe(ctx context.Context, c *plugin.Context) error {
	form := "remindme <time> <message>"
	if len(c.Args) < 2 {
		return s.usage("Please specify time and message.", form+"\n\nExamples: 10m Take a break, 1h Check emails, 2d Birthday party")
	}

	delay, err := durations.Parse(c.Arg(0))
	if err != nil {
		return s.usage("Invalid time format. Use 10m, 1h, 2d and so on.", form)
	}
	if delay < MinReminder {
		return plugin.Usagef("❌ Minimum reminder time is 1 minute.")
	}
	if delay > MaxReminder {
		return plugin.Usagef("❌ Maximum reminder time is 30 days.")
	}

	now := s.now()
	message := strings.Join(c.Args[1:], " ")
	payload, err := json.Marshal(reminderPayload{Message: message, SetAt: now})
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}

	task, err := s.scheduler.Schedule(ctx, domain.Task{
		Kind:    scheduler.KindReminder,
		ChatID:  c.ChatID(),
		UserID:  c.SenderID(),
		Payload: string(payload),
		RunAt:   now.Add(delay),
	})
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}

	c.Logger().WithFields(logging.Fields{
		"event":   "reminder_created",
		"task_id": task.ID,
		"run_at":  task.RunAt,
	}).Info("reminder created")

	var b strings.Builder
	b.WriteString("⏰ *Reminder set*\n\n")
	fmt.Fprintf(&b, "📝 Message: %s\n", message)
	fmt.Fprintf(&b, "⏰ In: %s\n", durations.Format(delay))
	fmt.Fprintf(&b, "🕐 When: %s\n", task.RunAt.UTC().Format(reminderTimeLayout))
	fmt.Fprintf(&b, "👤 For: %s\n\n", transport.Mention(c.SenderID()))
	b.WriteString("✅ I'll remind you at the specified time!")
	return c.ReplyMentions(b.String(), []string{c.SenderID()})
}

// deliverReminder sends a due reminder by DM, falling back to the chat it was
// set in.
func (s *Set) deliverReminder(ctx context.Context, task domain.Task) error {
	var payload reminderPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return fmt.Errorf("decode reminder: %w", err)
	}

	var b strings.Builder
	b.WriteString("🔔 *Reminder!*\n\n")
	fmt.Fprintf(&b, "📝 Your reminder: %s\n", payload.Message)
	if !payload.SetAt.IsZero() {
		fmt.Fprintf(&b, "📅 Set on: %s\n", payload.SetAt.UTC().Format(reminderTimeLayout))
	}
	fmt.Fprintf(&b, "⏰ Due: %s", task.RunAt.UTC().Format(reminderTimeLayout))
	alert := b.String()

	_, err := s.client.SendMessage(ctx, task.UserID, transport.OutgoingMessage{Text: alert})
	if err == nil {
		return nil
	}
	if task.ChatID == "" || task.ChatID == task.UserID {
		return fmt.Errorf("deliver reminder: %w", err)
	}

	s.logger.WithError(err).WithFields(logging.Fields{
		"event":   "reminder_dm_failed",
		"task_id": task.ID,
		"user_id": task.UserID,
	}).Warn("reminder dm failed, falling back to chat")

	_, err = s.client.SendMessage(ctx, task.ChatID, transport.OutgoingMessage{
		Text:     transport.Mention(task.UserID) + " " + alert,
		Mentions: []string{task.UserID},
	})
	if err != nil {
		return fmt.Errorf("deliver reminder to chat: %w", err)
	}
	return nil
}
