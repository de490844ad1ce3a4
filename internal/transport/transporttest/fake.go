// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"wa_command_bot/internal/transport"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID  string
	Message transport.OutgoingMessage
}

// ParticipantUpdate is one recorded membership change request.
type ParticipantUpdate struct {
	ChatID  string
	UserIDs []string
	Action  transport.ParticipantAction
}

// Fake records outbound calls and serves canned group metadata.
type Fake struct {
	mu sync.Mutex

	Self         string
	Groups       map[string]transport.GroupInfo
	GroupErr     error
	SendErr      error
	UpdateErr    error
	Media        []byte
	sent         []Sent
	updates      []ParticipantUpdate
	reactions    []string
	rejected     []string
	subjects     map[string]string
	descriptions map[string]string
	announce     map[string]bool
}

var _ transport.Client = (*Fake)(nil)

// NewFake returns an empty fake whose own id is self.
func NewFake(self string) *Fake {
	return &Fake{
		Self:         self,
		Groups:       map[string]transport.GroupInfo{},
		subjects:     map[string]string{},
		descriptions: map[string]string{},
		announce:     map[string]bool{},
	}
}

func (f *Fake) SelfID() string { return f.Self }

func (f *Fake) SendMessage(_ context.Context, chatID string, msg transport.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.sent = append(f.sent, Sent{ChatID: chatID, Message: msg})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *Fake) GroupMetadata(_ context.Context, chatID string) (transport.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GroupErr != nil {
		return transport.GroupInfo{}, f.GroupErr
	}
	info, ok := f.Groups[chatID]
	if !ok {
		return transport.GroupInfo{}, fmt.Errorf("group %s: item-not-found", chatID)
	}
	return info, nil
}

func (f *Fake) UpdateParticipants(_ context.Context, chatID string, userIDs []string, action transport.ParticipantAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.updates = append(f.updates, ParticipantUpdate{ChatID: chatID, UserIDs: append([]string(nil), userIDs...), Action: action})
	return nil
}

func (f *Fake) SetGroupSubject(_ context.Context, chatID, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects[chatID] = subject
	return nil
}

func (f *Fake) SetGroupDescription(_ context.Context, chatID, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptions[chatID] = description
	return nil
}

func (f *Fake) SetGroupAnnounce(_ context.Context, chatID string, announce bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announce[chatID] = announce
	return nil
}

func (f *Fake) ProfilePictureURL(_ context.Context, userID string) (string, error) {
	return "https://example.invalid/" + transport.UserPart(userID) + ".jpg", nil
}

func (f *Fake) DownloadMedia(_ context.Context, msg transport.Message) ([]byte, error) {
	if msg.Media == transport.MediaNone {
		return nil, fmt.Errorf("message %s has no media", msg.ID)
	}
	return f.Media, nil
}

func (f *Fake) React(_ context.Context, msg transport.Message, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, msg.ID+":"+emoji)
	return nil
}

func (f *Fake) RejectCall(_ context.Context, from, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, from+":"+callID)
	return nil
}

// Sent returns a copy of recorded outbound messages.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Texts returns the text of every recorded message.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Message.Text)
	}
	return out
}

// LastText returns the text of the most recent message, or "".
func (f *Fake) LastText() string {
	texts := f.Texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// Updates returns a copy of recorded participant updates.
func (f *Fake) Updates() []ParticipantUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ParticipantUpdate(nil), f.updates...)
}

// Reactions returns recorded "messageID:emoji" reactions.
func (f *Fake) Reactions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions...)
}

// Rejected returns recorded "from:callID" call rejections.
func (f *Fake) Rejected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rejected...)
}

// Subject returns the last subject set for chatID.
func (f *Fake) Subject(chatID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subjects[chatID]
}

// Announce returns the last announce flag set for chatID.
func (f *Fake) Announce(chatID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.announce[chatID]
}
