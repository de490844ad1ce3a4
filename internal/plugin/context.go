package plugin

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/transport"
)

// Invocation carries the parsed parts of one command message.
type Invocation struct {
	Message transport.Message
	Command string
	Invoked string
	Args    []string
	Prefix  string
	Role    string
}

// Context is handed to a handler for one invocation. Reply-style helpers are
// bound to the originating chat.
type Context struct {
	Invocation

	ctx    context.Context
	client transport.Client
	logger *logrus.Entry
	detail string
}

// NewContext binds an invocation to a transport client.
func NewContext(ctx context.Context, client transport.Client, inv Invocation, logger *logrus.Entry) *Context {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Context{Invocation: inv, ctx: ctx, client: client, logger: logger}
}

// SetDetail attaches a short note to the invocation's audit record.
func (c *Context) SetDetail(detail string) { c.detail = strings.TrimSpace(detail) }

// Detail returns the note set by SetDetail.
func (c *Context) Detail() string { return c.detail }

// Ctx returns the dispatch context.
func (c *Context) Ctx() context.Context { return c.ctx }

// Client returns the transport client.
func (c *Context) Client() transport.Client { return c.client }

// Logger returns the invocation logger.
func (c *Context) Logger() *logrus.Entry { return c.logger }

// SenderID returns the sender identifier.
func (c *Context) SenderID() string { return c.Message.SenderID }

// ChatID returns the chat identifier.
func (c *Context) ChatID() string { return c.Message.ChatID }

// IsGroup reports whether the message came from a group.
func (c *Context) IsGroup() bool { return c.Message.IsGroup }

// Text returns the arguments joined by single spaces.
func (c *Context) Text() string { return strings.Join(c.Args, " ") }

// Arg returns the i-th argument or "".
func (c *Context) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Reply sends text to the originating chat, quoting the command message.
func (c *Context) Reply(text string) error {
	return c.SendMessage(c.Message.ChatID, transport.OutgoingMessage{Text: text, QuoteID: c.Message.ID})
}

// ReplyMentions sends text to the originating chat tagging mentions.
func (c *Context) ReplyMentions(text string, mentions []string) error {
	return c.SendMessage(c.Message.ChatID, transport.OutgoingMessage{Text: text, Mentions: mentions})
}

// Send sends text to an arbitrary chat.
func (c *Context) Send(chatID, text string) error {
	return c.SendMessage(chatID, transport.OutgoingMessage{Text: text})
}

// SendMessage sends a full outgoing message to chatID.
func (c *Context) SendMessage(chatID string, msg transport.OutgoingMessage) error {
	if c.client == nil {
		return errors.New("transport client is not initialized")
	}
	_, err := c.client.SendMessage(c.ctx, chatID, msg)
	return err
}

// React reacts to the command message.
func (c *Context) React(emoji string) error {
	if c.client == nil {
		return errors.New("transport client is not initialized")
	}
	return c.client.React(c.ctx, c.Message, emoji)
}

// Download fetches the media attached to the command message.
func (c *Context) Download() ([]byte, error) {
	if c.client == nil {
		return nil, errors.New("transport client is not initialized")
	}
	return c.client.DownloadMedia(c.ctx, c.Message)
}

// Mentions returns the users tagged in the command message.
func (c *Context) Mentions() []string {
	return append([]string(nil), c.Message.Mentions...)
}

// Target returns the user a moderation command aims at: the first mention,
// then the quoted author, then a phone number or id in the first argument.
func (c *Context) Target() string {
	if len(c.Message.Mentions) > 0 {
		return c.Message.Mentions[0]
	}
	if c.Message.QuotedSenderID != "" {
		return c.Message.QuotedSenderID
	}
	return ResolveUserArg(c.Arg(0), c.Message.SenderID)
}

// TargetArgs returns the arguments after the target token, if the target was
// given as the first argument.
func (c *Context) TargetArgs() []string {
	if len(c.Args) == 0 {
		return nil
	}
	first := c.Args[0]
	if strings.HasPrefix(first, "@") || ResolveUserArg(first, c.Message.SenderID) != "" {
		return c.Args[1:]
	}
	return c.Args
}

// ResolveUserArg turns "@123", "+123" or "123" into an id on the same server
// as like. It returns "" for tokens that are not numeric.
func ResolveUserArg(raw, like string) string {
	token := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	token = strings.TrimPrefix(token, "+")
	if at := strings.IndexByte(token, '@'); at >= 0 {
		return token
	}
	if token == "" {
		return ""
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if at := strings.IndexByte(like, '@'); at >= 0 {
		return token + like[at:]
	}
	return token
}
