package domain

import "time"

// CommandLog is one append-only dispatch audit record.
type CommandLog struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" bson:"log_id" json:"id"`
	UserID       string    `gorm:"size:128;index" bson:"user_id" json:"user_id"`
	ChatID       string    `gorm:"size:128;index" bson:"chat_id" json:"chat_id"`
	Command      string    `gorm:"size:64;index" bson:"command" json:"command"`
	Success      bool      `gorm:"not null" bson:"success" json:"success"`
	ErrorMessage string    `gorm:"type:text" bson:"error_message,omitempty" json:"error_message,omitempty"`
	Detail       string    `gorm:"type:text" bson:"detail,omitempty" json:"detail,omitempty"`
	DurationMS   int64     `bson:"duration_ms" json:"duration_ms"`
	ExecutedAt   time.Time `gorm:"index" bson:"executed_at" json:"executed_at"`
}

// CommandStat aggregates audit records for one command.
type CommandStat struct {
	Command    string `bson:"_id" json:"command"`
	Total      int64  `bson:"total" json:"total"`
	Successful int64  `bson:"successful" json:"successful"`
	Failed     int64  `bson:"failed" json:"failed"`
}

// PluginRecord is the persisted catalog row for an installed plugin.
type PluginRecord struct {
	Name        string    `gorm:"primaryKey;size:64" bson:"name" json:"name"`
	Category    string    `gorm:"size:32;index" bson:"category" json:"category"`
	Enabled     bool      `gorm:"not null" bson:"enabled" json:"enabled"`
	FilePath    string    `gorm:"size:512" bson:"file_path" json:"file_path"`
	Hash        string    `gorm:"size:64" bson:"hash" json:"hash"`
	Metadata    string    `gorm:"type:text" bson:"metadata" json:"metadata"`
	InstalledBy string    `gorm:"size:128" bson:"installed_by" json:"installed_by"`
	InstalledAt time.Time `bson:"installed_at" json:"installed_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Task states.
const (
	TaskPending   = "pending"
	TaskDone      = "done"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Task is a durable deferred action (reminder, mute expiry) re-armed on startup.
type Task struct {
	ID        string    `gorm:"primaryKey;size:36" bson:"task_id" json:"id"`
	Kind      string    `gorm:"size:32;index" bson:"kind" json:"kind"`
	ChatID    string    `gorm:"size:128" bson:"chat_id" json:"chat_id"`
	UserID    string    `gorm:"size:128" bson:"user_id" json:"user_id"`
	Payload   string    `gorm:"type:text" bson:"payload" json:"payload"`
	RunAt     time.Time `gorm:"index" bson:"run_at" json:"run_at"`
	Status    string    `gorm:"size:16;index;not null;default:pending" bson:"status" json:"status"`
	Attempts  int       `gorm:"not null;default:0" bson:"attempts" json:"attempts"`
	LastError string    `gorm:"type:text" bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// TableName keeps the catalog table named after what it holds.
func (PluginRecord) TableName() string { return "plugins" }
