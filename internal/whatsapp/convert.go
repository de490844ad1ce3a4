package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wa_command_bot/internal/transport"
)

// parseJID accepts a full JID or a bare phone number.
func parseJID(id string) (types.JID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.JID{}, fmt.Errorf("empty jid")
	}
	if !strings.Contains(id, "@") {
		user := transport.UserPart(id)
		for _, r := range user {
			if r < '0' || r > '9' {
				return types.JID{}, fmt.Errorf("invalid phone number %q", id)
			}
		}
		return types.NewJID(user, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse jid %q: %w", id, err)
	}
	return jid, nil
}

// UserID converts a phone number or JID into the bot's user id form.
func UserID(raw string) (string, error) {
	jid, err := parseJID(raw)
	if err != nil {
		return "", err
	}
	return jid.ToNonAD().String(), nil
}

func parseJIDs(ids []string) ([]types.JID, error) {
	out := make([]types.JID, 0, len(ids))
	for _, id := range ids {
		jid, err := parseJID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, jid)
	}
	return out, nil
}

func jidStrings(jids []types.JID) []string {
	out := make([]string, 0, len(jids))
	for _, jid := range jids {
		out = append(out, jid.ToNonAD().String())
	}
	return out
}

// convertMessage normalizes a whatsmeow message event.
func convertMessage(evt *events.Message) transport.Message {
	info := evt.Info
	out := transport.Message{
		ID:         info.ID,
		ChatID:     info.Chat.String(),
		SenderID:   info.Sender.ToNonAD().String(),
		SenderName: info.PushName,
		IsGroup:    info.IsGroup,
		FromMe:     info.IsFromMe,
		IsStatus:   info.Chat == types.StatusBroadcastJID,
		Timestamp:  info.Timestamp,
		Raw:        evt,
	}

	text, ctxInfo, media := messageContent(evt.Message)
	out.Text = text
	out.Media = media
	if ctxInfo != nil {
		out.Mentions = append(out.Mentions, ctxInfo.GetMentionedJID()...)
		out.QuotedID = ctxInfo.GetStanzaID()
		if participant := ctxInfo.GetParticipant(); participant != "" {
			if jid, err := types.ParseJID(participant); err == nil {
				out.QuotedSenderID = jid.ToNonAD().String()
			}
		}
	}
	return out
}

func messageContent(m *waE2E.Message) (string, *waE2E.ContextInfo, transport.MediaKind) {
	if m == nil {
		return "", nil, transport.MediaNone
	}
	switch {
	case m.GetConversation() != "":
		return m.GetConversation(), nil, transport.MediaNone
	case m.GetExtendedTextMessage() != nil:
		ext := m.GetExtendedTextMessage()
		return ext.GetText(), ext.GetContextInfo(), transport.MediaNone
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		return img.GetCaption(), img.GetContextInfo(), transport.MediaImage
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		return vid.GetCaption(), vid.GetContextInfo(), transport.MediaVideo
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		return doc.GetCaption(), doc.GetContextInfo(), transport.MediaDocument
	case m.GetAudioMessage() != nil:
		return "", m.GetAudioMessage().GetContextInfo(), transport.MediaAudio
	case m.GetStickerMessage() != nil:
		return "", m.GetStickerMessage().GetContextInfo(), transport.MediaSticker
	default:
		return "", nil, transport.MediaNone
	}
}

// downloadable picks the media payload of a message.
func downloadable(m *waE2E.Message) whatsmeow.DownloadableMessage {
	if m == nil {
		return nil
	}
	switch {
	case m.GetImageMessage() != nil:
		return m.GetImageMessage()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage()
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage()
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage()
	default:
		return nil
	}
}

// convertGroupInfo maps whatsmeow group metadata.
func convertGroupInfo(info *types.GroupInfo) transport.GroupInfo {
	out := transport.GroupInfo{
		ID:          info.JID.String(),
		Subject:     info.Name,
		Description: info.Topic,
		CreatedAt:   info.GroupCreated,
		Announce:    info.IsAnnounce,
	}
	for _, p := range info.Participants {
		out.Participants = append(out.Participants, transport.Participant{
			ID:           p.JID.ToNonAD().String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return out
}

// participantEvents splits a group info event into membership changes.
func participantEvents(evt *events.GroupInfo) []transport.ParticipantsEvent {
	actor := ""
	if evt.Sender != nil {
		actor = evt.Sender.ToNonAD().String()
	}
	chatID := evt.JID.String()

	var out []transport.ParticipantsEvent
	add := func(action transport.ParticipantAction, jids []types.JID) {
		if len(jids) == 0 {
			return
		}
		out = append(out, transport.ParticipantsEvent{
			ChatID:       chatID,
			Action:       action,
			Participants: jidStrings(jids),
			ActorID:      actor,
		})
	}
	add(transport.ParticipantAdd, evt.Join)
	add(transport.ParticipantRemove, evt.Leave)
	add(transport.ParticipantPromote, evt.Promote)
	add(transport.ParticipantDemote, evt.Demote)
	return out
}

func participantChange(action transport.ParticipantAction) (whatsmeow.ParticipantChange, error) {
	switch action {
	case transport.ParticipantAdd:
		return whatsmeow.ParticipantChangeAdd, nil
	case transport.ParticipantRemove:
		return whatsmeow.ParticipantChangeRemove, nil
	case transport.ParticipantPromote:
		return whatsmeow.ParticipantChangePromote, nil
	case transport.ParticipantDemote:
		return whatsmeow.ParticipantChangeDemote, nil
	default:
		return "", fmt.Errorf("unknown participant action %q", action)
	}
}

// participantError turns a per-participant status code into an error whose
// text matches transport.DescribeError.
func participantError(p types.GroupParticipant) error {
	switch p.Error {
	case 0:
		return nil
	case 401:
		return fmt.Errorf("update participant %s: not-authorized", p.JID.User)
	case 403:
		return fmt.Errorf("update participant %s: forbidden", p.JID.User)
	case 404:
		return fmt.Errorf("update participant %s: item-not-found", p.JID.User)
	default:
		return fmt.Errorf("update participant %s: error %d", p.JID.User, p.Error)
	}
}

func mediaType(kind transport.MediaKind) (whatsmeow.MediaType, error) {
	switch kind {
	case transport.MediaImage, transport.MediaSticker:
		return whatsmeow.MediaImage, nil
	case transport.MediaVideo:
		return whatsmeow.MediaVideo, nil
	case transport.MediaAudio:
		return whatsmeow.MediaAudio, nil
	case transport.MediaDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", kind)
	}
}
