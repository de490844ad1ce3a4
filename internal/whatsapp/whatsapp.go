// Package whatsapp is the whatsmeow-backed transport.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/mdp/qrterminal/v3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	waBinary "go.mau.fi/whatsmeow/binary"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/transport"
)

// Reconnect policy.
const (
	DefaultMaxReconnects  = 5
	DefaultReconnectDelay = 5 * time.Second
)

// Login modes.
const (
	AuthQR       = "qr"
	AuthPairCode = "paircode"
)

var (
	// ErrLoggedOut is returned by Run when the session was revoked.
	ErrLoggedOut = errors.New("whatsapp session logged out")
	// ErrReconnectExhausted is returned by Run when every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("whatsapp reconnect attempts exhausted")
)

// conn is the subset of *whatsmeow.Client the transport drives.
type conn interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	PairPhone(phone string, showPushNotification bool, clientType whatsmeow.PairClientType, clientDisplayName string) (string, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	GetGroupInfo(jid types.JID) (*types.GroupInfo, error)
	UpdateGroupParticipants(jid types.JID, participantChanges []types.JID, action whatsmeow.ParticipantChange) ([]types.GroupParticipant, error)
	SetGroupName(jid types.JID, name string) error
	SetGroupTopic(jid types.JID, previousID, newID, topic string) error
	SetGroupAnnounce(jid types.JID, announce bool) error
	GetProfilePictureInfo(jid types.JID, params *whatsmeow.GetProfilePictureParams) (*types.ProfilePictureInfo, error)
	Download(msg whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	BuildReaction(chat, sender types.JID, id types.MessageID, reaction string) *waE2E.Message
	GenerateMessageID() types.MessageID
	SendNode(node waBinary.Node) error
}

// meowConn exposes the raw node sender whatsmeow keeps behind DangerousInternals.
type meowConn struct {
	*whatsmeow.Client
}

func (m meowConn) SendNode(node waBinary.Node) error {
	return m.DangerousInternals().SendNode(node)
}

var _ conn = meowConn{}

var openDevice = func(sessionDir string, logger *logrus.Entry) (*store.Device, error) {
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	dsn := "file:" + filepath.Join(sessionDir, "session.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", NewLogger(logger, "store"))
	if err := container.Upgrade(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade session store: %w", err)
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

var newConn = func(device *store.Device, logger *logrus.Entry) conn {
	client := whatsmeow.NewClient(device, NewLogger(logger, "client"))
	// Reconnects follow our own bounded policy.
	client.EnableAutoReconnect = false
	return meowConn{Client: client}
}

// Options configure the WhatsApp transport.
type Options struct {
	SessionDir     string
	AuthMode       string
	PairPhone      string
	MaxReconnects  int
	ReconnectDelay time.Duration
	// QROutput receives the rendered login QR code; defaults to stdout.
	QROutput io.Writer
	Logger   *logrus.Entry
}

// Client is a transport.Session over a whatsmeow client.
type Client struct {
	conn   conn
	device *store.Device
	opts   Options
	logger *logrus.Entry

	connected atomic.Bool
	ready     chan struct{}
	lost      chan struct{}
	fatal     chan error

	mu       sync.RWMutex
	handlers transport.Handlers
	runCtx   context.Context
}

var _ transport.Session = (*Client)(nil)

// New opens the session store under opts.SessionDir and prepares a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SessionDir) == "" {
		return nil, errors.New("session dir is required")
	}
	if opts.AuthMode == "" {
		opts.AuthMode = AuthQR
	}
	if opts.AuthMode != AuthQR && opts.AuthMode != AuthPairCode {
		return nil, fmt.Errorf("unknown auth mode %q", opts.AuthMode)
	}
	if opts.AuthMode == AuthPairCode && strings.TrimSpace(opts.PairPhone) == "" {
		return nil, errors.New("pair phone is required for pair-code login")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}
	logger := logging.Component(opts.Logger, "whatsapp")

	device, err := openDevice(opts.SessionDir, logger)
	if err != nil {
		return nil, err
	}
	return newClient(newConn(device, logger), device, opts, logger), nil
}

func newClient(c conn, device *store.Device, opts Options, logger *logrus.Entry) *Client {
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.QROutput == nil {
		opts.QROutput = os.Stdout
	}
	client := &Client{
		conn:   c,
		device: device,
		opts:   opts,
		logger: logger,
		ready:  make(chan struct{}, 1),
		lost:   make(chan struct{}, 1),
		fatal:  make(chan error, 1),
		runCtx: context.Background(),
	}
	c.AddEventHandler(client.handleEvent)
	return client
}

// SelfID returns the bot's own JID without device suffix.
func (c *Client) SelfID() string {
	if c.device == nil || c.device.ID == nil {
		return ""
	}
	return c.device.ID.ToNonAD().String()
}

// Connected reports whether the websocket is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run logs in if needed, connects and keeps the session alive until ctx is
// done. It returns ErrLoggedOut or ErrReconnectExhausted when the session is
// lost for good.
func (c *Client) Run(ctx context.Context, handlers transport.Handlers) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	c.mu.Lock()
	c.handlers = handlers
	c.runCtx = ctx
	c.mu.Unlock()

	c.emitConnection(transport.ConnectionEvent{State: transport.StateConnecting})
	if err := c.login(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.conn.Disconnect()
			c.connected.Store(false)
			c.logger.WithField("event", "whatsapp_stopped").Info("whatsapp session closed")
			return nil
		case err := <-c.fatal:
			c.conn.Disconnect()
			return err
		case <-c.lost:
			if err := c.reconnect(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Client) login(ctx context.Context) error {
	if c.device != nil && c.device.ID != nil {
		if err := c.conn.Connect(); err != nil {
			return fmt.Errorf("connect whatsapp: %w", err)
		}
		return c.awaitReady(ctx)
	}

	if c.opts.AuthMode == AuthPairCode {
		return c.loginWithPairCode(ctx)
	}
	return c.loginWithQR(ctx)
}

func (c *Client) loginWithQR(ctx context.Context) error {
	qrChan, err := c.conn.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("open qr channel: %w", err)
	}
	if err := c.conn.Connect(); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			c.logger.WithField("event", "whatsapp_qr").Info("scan the QR code with WhatsApp to log in")
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, c.opts.QROutput)
		case "success":
			c.logger.WithField("event", "whatsapp_paired").Info("whatsapp login succeeded")
			return c.awaitReady(ctx)
		case "timeout":
			return errors.New("whatsapp qr login timed out")
		default:
			if item.Error != nil {
				return fmt.Errorf("whatsapp qr login: %w", item.Error)
			}
			return fmt.Errorf("whatsapp qr login failed: %s", item.Event)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("whatsapp qr channel closed before login")
}

func (c *Client) loginWithPairCode(ctx context.Context) error {
	if err := c.conn.Connect(); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}
	code, err := c.conn.PairPhone(transport.UserPart(c.opts.PairPhone), true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return fmt.Errorf("request pair code: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":     "whatsapp_pair_code",
		"pair_code": code,
	}).Info("enter the pair code in WhatsApp > Linked devices")
	fmt.Fprintf(c.opts.QROutput, "Pair code: %s\n", code)
	return c.awaitReady(ctx)
}

// awaitReady blocks until the connection opens, fails for good, or ctx ends.
func (c *Client) awaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.ready:
		return nil
	case err := <-c.fatal:
		return err
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		logger := c.logger.WithFields(logging.Fields{
			"event":   "whatsapp_reconnect",
			"attempt": attempt,
			"max":     c.opts.MaxReconnects,
		})
		logger.Warn("connection lost, reconnecting")
		c.emitConnection(transport.ConnectionEvent{State: transport.StateConnecting})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}

		err := c.conn.Connect()
		if err == nil || errors.Is(err, whatsmeow.ErrAlreadyConnected) {
			c.logger.WithFields(logging.Fields{
				"event":   "whatsapp_reconnected",
				"attempt": attempt,
			}).Info("reconnected")
			return nil
		}
		logger.WithError(err).Warn("reconnect attempt failed")
	}

	c.logger.WithField("event", "whatsapp_reconnect_exhausted").Error("giving up on reconnecting")
	return ErrReconnectExhausted
}

func (c *Client) handleEvent(evt interface{}) {
	c.mu.RLock()
	handlers, ctx := c.handlers, c.runCtx
	c.mu.RUnlock()

	switch e := evt.(type) {
	case *events.Message:
		if handlers.OnMessage != nil {
			handlers.OnMessage(ctx, convertMessage(e))
		}
	case *events.GroupInfo:
		if handlers.OnParticipants == nil {
			return
		}
		for _, change := range participantEvents(e) {
			handlers.OnParticipants(ctx, change)
		}
	case *events.CallOffer:
		from := e.From.ToNonAD().String()
		if err := c.rejectCall(e.From, e.CallID); err != nil {
			c.logger.WithError(err).WithFields(logging.Fields{
				"event":   "call_reject_failed",
				"user_id": from,
			}).Warn("failed to reject call")
		}
		if handlers.OnCall != nil {
			handlers.OnCall(ctx, transport.CallEvent{CallID: e.CallID, From: from})
		}
	case *events.Connected:
		c.connected.Store(true)
		signal(c.ready)
		c.logger.WithField("event", "whatsapp_connected").Info("whatsapp connected")
		c.emitConnection(transport.ConnectionEvent{State: transport.StateOpen})
	case *events.Disconnected:
		c.connected.Store(false)
		signal(c.lost)
		c.emitConnection(transport.ConnectionEvent{State: transport.StateClosed})
	case *events.StreamReplaced:
		c.connected.Store(false)
		c.fail(errors.New("whatsapp session replaced by another client"))
		c.emitConnection(transport.ConnectionEvent{State: transport.StateClosed})
	case *events.LoggedOut:
		c.connected.Store(false)
		c.fail(ErrLoggedOut)
		c.emitConnection(transport.ConnectionEvent{State: transport.StateLoggedOut, Err: ErrLoggedOut})
	}
}

func (c *Client) emitConnection(evt transport.ConnectionEvent) {
	c.mu.RLock()
	handlers, ctx := c.handlers, c.runCtx
	c.mu.RUnlock()
	if handlers.OnConnection != nil {
		handlers.OnConnection(ctx, evt)
	}
}

func (c *Client) fail(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// SendMessage sends text or media to chatID and returns the message id.
func (c *Client) SendMessage(ctx context.Context, chatID string, msg transport.OutgoingMessage) (string, error) {
	to, err := parseJID(chatID)
	if err != nil {
		return "", err
	}
	payload, err := c.buildMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	resp, err := c.conn.SendMessage(ctx, to, payload)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) buildMessage(ctx context.Context, msg transport.OutgoingMessage) (*waE2E.Message, error) {
	var ctxInfo *waE2E.ContextInfo
	if len(msg.Mentions) > 0 || msg.QuoteID != "" {
		ctxInfo = &waE2E.ContextInfo{}
		if len(msg.Mentions) > 0 {
			jids, err := parseJIDs(msg.Mentions)
			if err != nil {
				return nil, err
			}
			ctxInfo.MentionedJID = jidStrings(jids)
		}
		if msg.QuoteID != "" {
			ctxInfo.StanzaID = proto.String(msg.QuoteID)
		}
	}

	if msg.Media == transport.MediaNone {
		if ctxInfo == nil {
			return &waE2E.Message{Conversation: proto.String(msg.Text)}, nil
		}
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(msg.Text),
			ContextInfo: ctxInfo,
		}}, nil
	}

	kind, err := mediaType(msg.Media)
	if err != nil {
		return nil, err
	}
	up, err := c.conn.Upload(ctx, msg.Data, kind)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	mime := msg.MimeType
	switch msg.Media {
	case transport.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption: proto.String(msg.Text), Mimetype: proto.String(orDefault(mime, "image/jpeg")),
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath), MediaKey: up.MediaKey,
			FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: proto.Uint64(up.FileLength),
			ContextInfo: ctxInfo,
		}}, nil
	case transport.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption: proto.String(msg.Text), Mimetype: proto.String(orDefault(mime, "video/mp4")),
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath), MediaKey: up.MediaKey,
			FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: proto.Uint64(up.FileLength),
			ContextInfo: ctxInfo,
		}}, nil
	case transport.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype: proto.String(orDefault(mime, "audio/ogg; codecs=opus")),
			URL:      proto.String(up.URL), DirectPath: proto.String(up.DirectPath), MediaKey: up.MediaKey,
			FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: proto.Uint64(up.FileLength),
			ContextInfo: ctxInfo,
		}}, nil
	case transport.MediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype: proto.String(orDefault(mime, "image/webp")),
			URL:      proto.String(up.URL), DirectPath: proto.String(up.DirectPath), MediaKey: up.MediaKey,
			FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: proto.Uint64(up.FileLength),
			ContextInfo: ctxInfo,
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption: proto.String(msg.Text), Mimetype: proto.String(orDefault(mime, "application/octet-stream")),
			FileName: proto.String(orDefault(msg.FileName, "file")), Title: proto.String(orDefault(msg.FileName, "file")),
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath), MediaKey: up.MediaKey,
			FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: proto.Uint64(up.FileLength),
			ContextInfo: ctxInfo,
		}}, nil
	}
}

// GroupMetadata fetches group info with participant admin flags.
func (c *Client) GroupMetadata(_ context.Context, chatID string) (transport.GroupInfo, error) {
	jid, err := parseJID(chatID)
	if err != nil {
		return transport.GroupInfo{}, err
	}
	info, err := c.conn.GetGroupInfo(jid)
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("get group info: %w", err)
	}
	return convertGroupInfo(info), nil
}

// UpdateParticipants adds, removes, promotes or demotes members.
func (c *Client) UpdateParticipants(_ context.Context, chatID string, userIDs []string, action transport.ParticipantAction) error {
	group, err := parseJID(chatID)
	if err != nil {
		return err
	}
	users, err := parseJIDs(userIDs)
	if err != nil {
		return err
	}
	change, err := participantChange(action)
	if err != nil {
		return err
	}

	results, err := c.conn.UpdateGroupParticipants(group, users, change)
	if err != nil {
		return fmt.Errorf("update participants: %w", err)
	}
	for _, p := range results {
		if err := participantError(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SetGroupSubject(_ context.Context, chatID, subject string) error {
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	if err := c.conn.SetGroupName(jid, subject); err != nil {
		return fmt.Errorf("set group subject: %w", err)
	}
	return nil
}

func (c *Client) SetGroupDescription(_ context.Context, chatID, description string) error {
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	info, err := c.conn.GetGroupInfo(jid)
	if err != nil {
		return fmt.Errorf("get group info: %w", err)
	}
	if err := c.conn.SetGroupTopic(jid, info.TopicID, "", description); err != nil {
		return fmt.Errorf("set group description: %w", err)
	}
	return nil
}

func (c *Client) SetGroupAnnounce(_ context.Context, chatID string, announce bool) error {
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	if err := c.conn.SetGroupAnnounce(jid, announce); err != nil {
		return fmt.Errorf("set group announce: %w", err)
	}
	return nil
}

func (c *Client) ProfilePictureURL(_ context.Context, userID string) (string, error) {
	jid, err := parseJID(userID)
	if err != nil {
		return "", err
	}
	info, err := c.conn.GetProfilePictureInfo(jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", fmt.Errorf("get profile picture: %w", err)
	}
	if info == nil {
		return "", fmt.Errorf("profile picture of %s: not-found", jid.User)
	}
	return info.URL, nil
}

// DownloadMedia decrypts the media attached to msg.
func (c *Client) DownloadMedia(_ context.Context, msg transport.Message) ([]byte, error) {
	evt, ok := msg.Raw.(*events.Message)
	if !ok || evt == nil {
		return nil, fmt.Errorf("message %s carries no whatsapp payload", msg.ID)
	}
	media := downloadable(evt.Message)
	if media == nil {
		return nil, fmt.Errorf("message %s has no media", msg.ID)
	}
	data, err := c.conn.Download(media)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

func (c *Client) React(ctx context.Context, msg transport.Message, emoji string) error {
	chat, err := parseJID(msg.ChatID)
	if err != nil {
		return err
	}
	sender, err := parseJID(msg.SenderID)
	if err != nil {
		return err
	}
	if _, err := c.conn.SendMessage(ctx, chat, c.conn.BuildReaction(chat, sender, msg.ID, emoji)); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

func (c *Client) RejectCall(_ context.Context, from, callID string) error {
	jid, err := parseJID(from)
	if err != nil {
		return err
	}
	if err := c.rejectCall(jid, callID); err != nil {
		return fmt.Errorf("reject call: %w", err)
	}
	return nil
}

func (c *Client) rejectCall(from types.JID, callID string) error {
	if c.device == nil || c.device.ID == nil {
		return whatsmeow.ErrNotLoggedIn
	}
	own, caller := c.device.ID.ToNonAD(), from.ToNonAD()
	return c.conn.SendNode(waBinary.Node{
		Tag: "call",
		Attrs: waBinary.Attrs{
			"id":   c.conn.GenerateMessageID(),
			"from": own,
			"to":   caller,
		},
		Content: []waBinary.Node{{
			Tag: "reject",
			Attrs: waBinary.Attrs{
				"call-id":      callID,
				"call-creator": caller,
				"count":        "0",
			},
		}},
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
