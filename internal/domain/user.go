package domain

import "time"

// User is a chat participant observed by the bot. Users are created lazily on
// their first message and never hard-deleted.
type User struct {
	ID              string    `gorm:"primaryKey;size:128" bson:"user_id" json:"id"`
	Phone           string    `gorm:"size:32" bson:"phone" json:"phone"`
	Name            string    `gorm:"size:255" bson:"name" json:"name"`
	Role            string    `gorm:"size:16;not null;default:user;index" bson:"role" json:"role"`
	Warnings        int       `gorm:"not null;default:0" bson:"warnings" json:"warnings"`
	Banned          bool      `gorm:"not null;default:false" bson:"banned" json:"banned"`
	MutedUntil      time.Time `bson:"muted_until" json:"muted_until"`
	RestrictedUntil time.Time `bson:"restricted_until" json:"restricted_until"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// Restricted reports whether the user is banned, muted or restricted at now.
func (u User) Restricted(now time.Time) bool {
	return u.Banned || u.MutedUntil.After(now) || u.RestrictedUntil.After(now)
}

// Muted reports whether a mute is active at now.
func (u User) Muted(now time.Time) bool {
	return u.MutedUntil.After(now)
}

// UserStats holds per-(user, chat) activity counters. Aggregates across chats
// use an empty ChatID.
type UserStats struct {
	UserID           string    `gorm:"primaryKey;size:128" bson:"user_id" json:"user_id"`
	ChatID           string    `gorm:"primaryKey;size:128" bson:"chat_id" json:"chat_id"`
	CommandsUsed     int64     `gorm:"not null;default:0" bson:"commands_used" json:"commands_used"`
	MessagesSent     int64     `gorm:"not null;default:0" bson:"messages_sent" json:"messages_sent"`
	WarningsReceived int64     `gorm:"not null;default:0" bson:"warnings_received" json:"warnings_received"`
	LastActive       time.Time `bson:"last_active" json:"last_active"`
}

// Owner is a member of the persisted owners set.
type Owner struct {
	ID      string    `gorm:"primaryKey;size:128" bson:"owner_id" json:"id"`
	AddedBy string    `gorm:"size:128" bson:"added_by" json:"added_by"`
	AddedAt time.Time `bson:"added_at" json:"added_at"`
}
