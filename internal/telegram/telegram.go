// Package telegram is the go-telegram backed transport.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/config"
	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/transport"
)

// botAPI is the subset of *bot.Bot the transport drives.
type botAPI interface {
	Start(ctx context.Context)
	GetMe(ctx context.Context) (*models.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendSticker(ctx context.Context, params *bot.SendStickerParams) (*models.Message, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
	BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error)
	UnbanChatMember(ctx context.Context, params *bot.UnbanChatMemberParams) (bool, error)
	PromoteChatMember(ctx context.Context, params *bot.PromoteChatMemberParams) (bool, error)
	SetChatTitle(ctx context.Context, params *bot.SetChatTitleParams) (bool, error)
	SetChatDescription(ctx context.Context, params *bot.SetChatDescriptionParams) (bool, error)
	SetChatPermissions(ctx context.Context, params *bot.SetChatPermissionsParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"edited_message",
		"my_chat_member",
		"chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}

	httpClient = &http.Client{Timeout: 60 * time.Second}
)

// Client is a transport.Session over the Telegram Bot API using long polling.
type Client struct {
	bot    botAPI
	logger *logrus.Entry

	selfID    atomic.Value
	connected atomic.Bool

	mu       sync.RWMutex
	handlers transport.Handlers
}

var _ transport.Session = (*Client)(nil)

// NewClient initializes the Telegram bot with long polling and the update router.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	logger = logging.Component(logger, "telegram")

	client := &Client{logger: logger}
	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	client.bot = tgBot

	return client, nil
}

// SelfID returns the bot's user id once Run has resolved it.
func (c *Client) SelfID() string {
	id, _ := c.selfID.Load().(string)
	return id
}

// Connected reports whether long polling is active.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run resolves the bot identity and receives updates via long polling until
// the context is canceled.
func (c *Client) Run(ctx context.Context, handlers transport.Handlers) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if c.bot == nil {
		return errors.New("telegram bot is not initialized")
	}

	c.mu.Lock()
	c.handlers = handlers
	c.mu.Unlock()

	c.emitConnection(ctx, transport.ConnectionEvent{State: transport.StateConnecting})
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		c.emitConnection(ctx, transport.ConnectionEvent{State: transport.StateClosed, Err: err})
		return fmt.Errorf("get bot identity: %w", err)
	}
	c.selfID.Store(strconv.FormatInt(me.ID, 10))

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
		"bot_id":          me.ID,
		"bot_username":    me.Username,
	}).Info("starting telegram long polling")

	c.connected.Store(true)
	c.emitConnection(ctx, transport.ConnectionEvent{State: transport.StateOpen})

	c.bot.Start(ctx)

	c.connected.Store(false)
	c.emitConnection(context.Background(), transport.ConnectionEvent{State: transport.StateClosed})
	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
	return nil
}

func (c *Client) currentHandlers() transport.Handlers {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers
}

func (c *Client) emitConnection(ctx context.Context, evt transport.ConnectionEvent) {
	if h := c.currentHandlers().OnConnection; h != nil {
		h(ctx, evt)
	}
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)
	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}
	c.logger.WithFields(fields).Debug("telegram update received")

	handlers := c.currentHandlers()
	msg := update.Message
	if msg == nil {
		return
	}

	if evt, ok := participantsEvent(msg); ok {
		if handlers.OnParticipants != nil {
			handlers.OnParticipants(ctx, evt)
		}
		return
	}
	if handlers.OnMessage != nil {
		handlers.OnMessage(ctx, convertMessage(msg, c.SelfID()))
	}
}

type updateMeta struct {
	userID     int64
	chatID     int64
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     update.EditedMessage.Chat.ID,
			updateType: "edited_message",
		}
	case update.MyChatMember != nil:
		return updateMeta{
			userID:     update.MyChatMember.From.ID,
			chatID:     update.MyChatMember.Chat.ID,
			updateType: "my_chat_member",
		}
	case update.ChatMember != nil:
		return updateMeta{
			userID:     update.ChatMember.From.ID,
			chatID:     update.ChatMember.Chat.ID,
			updateType: "chat_member",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

// SendMessage sends text or media to chatID and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID string, msg transport.OutgoingMessage) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	chat, err := parseID(chatID)
	if err != nil {
		return "", err
	}

	entities := mentionEntities(msg.Text, msg.Mentions)
	var reply *models.ReplyParameters
	if msg.QuoteID != "" {
		if id, err := strconv.Atoi(msg.QuoteID); err == nil {
			reply = &models.ReplyParameters{MessageID: id}
		}
	}

	var sent *models.Message
	switch msg.Media {
	case transport.MediaNone:
		sent, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          chat,
			Text:            msg.Text,
			Entities:        entities,
			ReplyParameters: reply,
		})
	case transport.MediaImage:
		sent, err = c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:          chat,
			Photo:           upload(msg, "image.jpg"),
			Caption:         msg.Text,
			CaptionEntities: entities,
			ReplyParameters: reply,
		})
	case transport.MediaVideo:
		sent, err = c.bot.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:          chat,
			Video:           upload(msg, "video.mp4"),
			Caption:         msg.Text,
			CaptionEntities: entities,
			ReplyParameters: reply,
		})
	case transport.MediaAudio:
		sent, err = c.bot.SendAudio(ctx, &bot.SendAudioParams{
			ChatID:          chat,
			Audio:           upload(msg, "audio.mp3"),
			Caption:         msg.Text,
			CaptionEntities: entities,
			ReplyParameters: reply,
		})
	case transport.MediaDocument:
		sent, err = c.bot.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:          chat,
			Document:        upload(msg, "file"),
			Caption:         msg.Text,
			CaptionEntities: entities,
			ReplyParameters: reply,
		})
	case transport.MediaSticker:
		sent, err = c.bot.SendSticker(ctx, &bot.SendStickerParams{
			ChatID:          chat,
			Sticker:         upload(msg, "sticker.webp"),
			ReplyParameters: reply,
		})
	default:
		return "", fmt.Errorf("unknown media kind %q", msg.Media)
	}
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	if sent == nil {
		return "", nil
	}
	return strconv.Itoa(sent.ID), nil
}

// GroupMetadata returns the chat title and its administrators. The Bot API
// cannot enumerate ordinary members, so AdminsOnly is always set.
func (c *Client) GroupMetadata(ctx context.Context, chatID string) (transport.GroupInfo, error) {
	chat, err := parseID(chatID)
	if err != nil {
		return transport.GroupInfo{}, err
	}
	full, err := c.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chat})
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("get chat: %w", err)
	}
	admins, err := c.bot.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chat})
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("get chat administrators: %w", err)
	}

	info := transport.GroupInfo{
		ID:          chatID,
		Subject:     full.Title,
		Description: full.Description,
		AdminsOnly:  true,
	}
	for _, member := range admins {
		if p, ok := adminParticipant(member); ok {
			info.Participants = append(info.Participants, p)
		}
	}
	return info, nil
}

// UpdateParticipants applies action to each user. Removal bans and then
// lifts the ban so the user may rejoin by invite.
func (c *Client) UpdateParticipants(ctx context.Context, chatID string, userIDs []string, action transport.ParticipantAction) error {
	chat, err := parseID(chatID)
	if err != nil {
		return err
	}
	if action == transport.ParticipantAdd {
		return transport.ErrUnsupported
	}

	for _, raw := range userIDs {
		user, err := parseID(transport.UserPart(raw))
		if err != nil {
			return err
		}
		switch action {
		case transport.ParticipantRemove:
			if _, err := c.bot.BanChatMember(ctx, &bot.BanChatMemberParams{ChatID: chat, UserID: user}); err != nil {
				return fmt.Errorf("remove %d: %w", user, err)
			}
			if _, err := c.bot.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{ChatID: chat, UserID: user, OnlyIfBanned: true}); err != nil {
				return fmt.Errorf("lift removal ban %d: %w", user, err)
			}
		case transport.ParticipantPromote, transport.ParticipantDemote:
			grant := action == transport.ParticipantPromote
			if _, err := c.bot.PromoteChatMember(ctx, &bot.PromoteChatMemberParams{
				ChatID:             chat,
				UserID:             user,
				CanDeleteMessages:  grant,
				CanRestrictMembers: grant,
				CanInviteUsers:     grant,
				CanPinMessages:     grant,
			}); err != nil {
				return fmt.Errorf("%s %d: %w", action, user, err)
			}
		default:
			return fmt.Errorf("unknown participant action %q", action)
		}
	}
	return nil
}

func (c *Client) SetGroupSubject(ctx context.Context, chatID, subject string) error {
	chat, err := parseID(chatID)
	if err != nil {
		return err
	}
	if _, err := c.bot.SetChatTitle(ctx, &bot.SetChatTitleParams{ChatID: chat, Title: subject}); err != nil {
		return fmt.Errorf("set chat title: %w", err)
	}
	return nil
}

func (c *Client) SetGroupDescription(ctx context.Context, chatID, description string) error {
	chat, err := parseID(chatID)
	if err != nil {
		return err
	}
	if _, err := c.bot.SetChatDescription(ctx, &bot.SetChatDescriptionParams{ChatID: chat, Description: description}); err != nil {
		return fmt.Errorf("set chat description: %w", err)
	}
	return nil
}

// SetGroupAnnounce toggles whether non-admins may send messages.
func (c *Client) SetGroupAnnounce(ctx context.Context, chatID string, announce bool) error {
	chat, err := parseID(chatID)
	if err != nil {
		return err
	}
	if _, err := c.bot.SetChatPermissions(ctx, &bot.SetChatPermissionsParams{
		ChatID:      chat,
		Permissions: models.ChatPermissions{CanSendMessages: !announce},
	}); err != nil {
		return fmt.Errorf("set chat permissions: %w", err)
	}
	return nil
}

func (c *Client) ProfilePictureURL(context.Context, string) (string, error) {
	return "", transport.ErrUnsupported
}

func (c *Client) React(context.Context, transport.Message, string) error {
	return transport.ErrUnsupported
}

// RejectCall is a no-op: bots never receive calls.
func (c *Client) RejectCall(context.Context, string, string) error {
	return nil
}

// DownloadMedia fetches the file attached to msg through the Bot API file
// endpoint.
func (c *Client) DownloadMedia(ctx context.Context, msg transport.Message) ([]byte, error) {
	raw, ok := msg.Raw.(*models.Message)
	if !ok || raw == nil {
		return nil, errors.New("message carries no telegram payload")
	}
	fileID := mediaFileID(raw)
	if fileID == "" {
		return nil, errors.New("message has no media")
	}

	file, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func convertMessage(msg *models.Message, selfID string) transport.Message {
	out := transport.Message{
		ID:        strconv.Itoa(msg.ID),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:      msg.Text,
		IsGroup:   msg.Chat.Type == models.ChatTypeGroup || msg.Chat.Type == models.ChatTypeSupergroup,
		Media:     mediaKind(msg),
		Timestamp: time.Unix(int64(msg.Date), 0),
		Raw:       msg,
	}
	if out.Text == "" {
		out.Text = msg.Caption
	}
	if msg.From != nil {
		out.SenderID = strconv.FormatInt(msg.From.ID, 10)
		out.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		out.FromMe = selfID != "" && out.SenderID == selfID
	}

	entities := msg.Entities
	if len(entities) == 0 {
		entities = msg.CaptionEntities
	}
	for _, e := range entities {
		if e.Type == models.MessageEntityTypeTextMention && e.User != nil {
			out.Mentions = append(out.Mentions, strconv.FormatInt(e.User.ID, 10))
		}
	}

	if quoted := msg.ReplyToMessage; quoted != nil {
		out.QuotedID = strconv.Itoa(quoted.ID)
		if quoted.From != nil {
			out.QuotedSenderID = strconv.FormatInt(quoted.From.ID, 10)
		}
	}
	return out
}

func participantsEvent(msg *models.Message) (transport.ParticipantsEvent, bool) {
	evt := transport.ParticipantsEvent{
		ChatID:  strconv.FormatInt(msg.Chat.ID, 10),
		ActorID: strconv.FormatInt(userID(msg.From), 10),
	}
	switch {
	case len(msg.NewChatMembers) > 0:
		evt.Action = transport.ParticipantAdd
		for _, u := range msg.NewChatMembers {
			evt.Participants = append(evt.Participants, strconv.FormatInt(u.ID, 10))
		}
	case msg.LeftChatMember != nil:
		evt.Action = transport.ParticipantRemove
		evt.Participants = []string{strconv.FormatInt(msg.LeftChatMember.ID, 10)}
	default:
		return transport.ParticipantsEvent{}, false
	}
	return evt, true
}

func adminParticipant(member models.ChatMember) (transport.Participant, bool) {
	switch member.Type {
	case models.ChatMemberTypeOwner:
		if member.Owner == nil || member.Owner.User == nil {
			return transport.Participant{}, false
		}
		return transport.Participant{
			ID:           strconv.FormatInt(member.Owner.User.ID, 10),
			IsAdmin:      true,
			IsSuperAdmin: true,
		}, true
	case models.ChatMemberTypeAdministrator:
		if member.Administrator == nil {
			return transport.Participant{}, false
		}
		return transport.Participant{
			ID:      strconv.FormatInt(member.Administrator.User.ID, 10),
			IsAdmin: true,
		}, true
	default:
		return transport.Participant{}, false
	}
}

// mentionEntities links every "@<id>" occurrence of a mentioned user to that
// user. Offsets are in UTF-16 code units.
func mentionEntities(text string, mentions []string) []models.MessageEntity {
	var entities []models.MessageEntity
	for _, raw := range mentions {
		id, err := parseID(transport.UserPart(raw))
		if err != nil {
			continue
		}
		tag := transport.Mention(raw)
		search := 0
		for {
			idx := strings.Index(text[search:], tag)
			if idx < 0 {
				break
			}
			start := search + idx
			entities = append(entities, models.MessageEntity{
				Type:   models.MessageEntityTypeTextMention,
				Offset: utf16Len(text[:start]),
				Length: utf16Len(tag),
				User:   &models.User{ID: id},
			})
			search = start + len(tag)
		}
	}
	return entities
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func upload(msg transport.OutgoingMessage, fallback string) models.InputFile {
	name := msg.FileName
	if name == "" {
		name = fallback
	}
	return &models.InputFileUpload{Filename: name, Data: bytes.NewReader(msg.Data)}
}

func mediaKind(msg *models.Message) transport.MediaKind {
	switch {
	case len(msg.Photo) > 0:
		return transport.MediaImage
	case msg.Video != nil:
		return transport.MediaVideo
	case msg.Audio != nil, msg.Voice != nil:
		return transport.MediaAudio
	case msg.Sticker != nil:
		return transport.MediaSticker
	case msg.Document != nil:
		return transport.MediaDocument
	default:
		return transport.MediaNone
	}
}

func mediaFileID(msg *models.Message) string {
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ascending; take the largest.
		return msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	case msg.Voice != nil:
		return msg.Voice.FileID
	case msg.Sticker != nil:
		return msg.Sticker.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	default:
		return ""
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram id %q", raw)
	}
	return id, nil
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}
