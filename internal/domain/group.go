package domain

import (
	"strconv"
	"time"
)

// Group is a chat group the bot participates in.
type Group struct {
	ID          string    `gorm:"primaryKey;size:128" bson:"group_id" json:"id"`
	Name        string    `gorm:"size:255" bson:"name" json:"name"`
	Description string    `gorm:"type:text" bson:"description" json:"description"`
	Locked      bool      `gorm:"not null;default:false" bson:"locked" json:"locked"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// GroupSetting is a per-(group, key) string value.
type GroupSetting struct {
	GroupID   string    `gorm:"primaryKey;size:128" bson:"group_id" json:"group_id"`
	Key       string    `gorm:"primaryKey;size:64" bson:"key" json:"key"`
	Value     string    `gorm:"type:text" bson:"value" json:"value"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Well-known group setting keys.
const (
	SettingWelcomeMessage = "welcome_message"
	SettingGoodbyeMessage = "goodbye_message"
	SettingWarnLimit      = "warn_limit"
	SettingWarnAction     = "warn_action"
)

// Warning policy bounds and defaults.
const (
	DefaultWarnLimit  = 3
	MinWarnLimit      = 1
	MaxWarnLimit      = 10
	WarnActionKick    = "kick"
	WarnActionBan     = "ban"
	DefaultWarnAction = WarnActionKick
)

// WarnLimitFromSetting parses a stored warn_limit, falling back to the default
// for missing or out-of-range values.
func WarnLimitFromSetting(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < MinWarnLimit || limit > MaxWarnLimit {
		return DefaultWarnLimit
	}
	return limit
}

// WarnActionFromSetting returns the stored warn_action or the default.
func WarnActionFromSetting(raw string) string {
	if raw == WarnActionBan {
		return WarnActionBan
	}
	return DefaultWarnAction
}

// SettingWelcomeEnabled toggles welcome/goodbye messages; anything but "off"
// counts as enabled.
const SettingWelcomeEnabled = "welcome_enabled"
