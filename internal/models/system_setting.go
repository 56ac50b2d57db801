package models

import "time"

// SystemSetting is a key/value row. Keys are "<category>.<name>" or
// "gear.<gearKey>" for admin gear defaults.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}
