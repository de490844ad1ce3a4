package transport

import (
	"errors"
	"strings"
)

// Replies shown for collaborator errors with a recognised cause.
const (
	ReplyBotNotAdmin = "❌ I need to be an admin to do that."
	ReplyForbidden   = "❌ That action is not allowed here."
	ReplyNotFound    = "❌ That user or chat could not be found."
	ReplyUnsupported = "❌ This action is not supported on this network."
)

// DescribeError maps a transport error to a user-facing reply. The bool is
// false when the error is not recognised.
func DescribeError(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, ErrUnsupported) {
		return ReplyUnsupported, true
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "not-admin"), strings.Contains(text, "not-authorized"), strings.Contains(text, "not enough rights"):
		return ReplyBotNotAdmin, true
	case strings.Contains(text, "forbidden"):
		return ReplyForbidden, true
	case strings.Contains(text, "not-found"), strings.Contains(text, "item-not-found"), strings.Contains(text, "not found"):
		return ReplyNotFound, true
	default:
		return "", false
	}
}
