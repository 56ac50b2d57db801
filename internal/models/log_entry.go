package models

import "time"

// Log levels stored on LogEntry.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is a persisted operator-facing event.
type LogEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Level     string    `gorm:"size:8;not null;index"`
	Message   string    `gorm:"type:text;not null"`
	Context   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}
