// Package transport defines the chat transport contract shared by the
// WhatsApp and Telegram adapters.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnsupported is returned by adapters for operations the network lacks.
var ErrUnsupported = errors.New("operation not supported by transport")

// MediaKind names the payload type of an outgoing or incoming message.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// Message is an inbound chat message normalized across transports.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	Text       string
	IsGroup    bool
	FromMe     bool
	IsStatus   bool
	Mentions   []string
	// QuotedSenderID is the author of the message this one replies to.
	QuotedSenderID string
	QuotedID       string
	Media          MediaKind
	Timestamp      time.Time
	// Raw carries the transport-native event for DownloadMedia.
	Raw interface{}
}

// OutgoingMessage is a message to send; Text doubles as caption for media.
type OutgoingMessage struct {
	Text     string
	Mentions []string
	Media    MediaKind
	Data     []byte
	MimeType string
	FileName string
	QuoteID  string
}

// Participant is a group member with its admin flags.
type Participant struct {
	ID           string
	IsAdmin      bool
	IsSuperAdmin bool
}

// GroupInfo is group metadata as reported by the transport.
type GroupInfo struct {
	ID           string
	Subject      string
	Description  string
	CreatedAt    time.Time
	Announce     bool
	Participants []Participant
	// AdminsOnly is set when the network lists admins but not members.
	AdminsOnly bool
}

// IsAdmin reports whether userID is an admin or super admin of the group.
func (g GroupInfo) IsAdmin(userID string) bool {
	for _, p := range g.Participants {
		if SameUser(p.ID, userID) {
			return p.IsAdmin || p.IsSuperAdmin
		}
	}
	return false
}

// ParticipantAction is a membership change applied to or observed in a group.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// ParticipantsEvent reports a membership change in a group.
type ParticipantsEvent struct {
	ChatID       string
	Action       ParticipantAction
	Participants []string
	ActorID      string
}

// ConnectionState is the transport session state.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
	StateLoggedOut  ConnectionState = "logged_out"
)

// ConnectionEvent reports a session state change.
type ConnectionEvent struct {
	State ConnectionState
	Err   error
}

// CallEvent reports an incoming voice or video call.
type CallEvent struct {
	CallID  string
	From    string
	IsVideo bool
}

// Handlers receives transport events. Nil fields are skipped.
type Handlers struct {
	OnMessage      func(ctx context.Context, msg Message)
	OnParticipants func(ctx context.Context, evt ParticipantsEvent)
	OnConnection   func(ctx context.Context, evt ConnectionEvent)
	OnCall         func(ctx context.Context, evt CallEvent)
}

// Client is the set of transport operations the bot consumes.
type Client interface {
	SelfID() string
	SendMessage(ctx context.Context, chatID string, msg OutgoingMessage) (string, error)
	GroupMetadata(ctx context.Context, chatID string) (GroupInfo, error)
	UpdateParticipants(ctx context.Context, chatID string, userIDs []string, action ParticipantAction) error
	SetGroupSubject(ctx context.Context, chatID, subject string) error
	SetGroupDescription(ctx context.Context, chatID, description string) error
	SetGroupAnnounce(ctx context.Context, chatID string, announce bool) error
	ProfilePictureURL(ctx context.Context, userID string) (string, error)
	DownloadMedia(ctx context.Context, msg Message) ([]byte, error)
	React(ctx context.Context, msg Message, emoji string) error
	RejectCall(ctx context.Context, from, callID string) error
}

// Session is a Client with a blocking event loop.
type Session interface {
	Client
	// Run connects and delivers events to handlers until ctx is done or the
	// session is lost for good.
	Run(ctx context.Context, handlers Handlers) error
	Connected() bool
}

// UserPart strips the server and device suffix from a user identifier:
// "123:4@s.whatsapp.net" becomes "123".
func UserPart(id string) string {
	id = strings.TrimSpace(id)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return strings.TrimPrefix(id, "+")
}

// SameUser compares two identifiers ignoring server and device suffixes.
func SameUser(a, b string) bool {
	ua, ub := UserPart(a), UserPart(b)
	return ua != "" && ua == ub
}

// Mention renders the in-text tag for id.
func Mention(id string) string {
	return "@" + UserPart(id)
}
