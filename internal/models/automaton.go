package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Automaton status values. Status is written only by the supervisor.
const (
	StatusStopped = "stopped"
	StatusRunning = "running"
	StatusError   = "error"
)

// Automaton is one Discord bot identity owned by a user. The bot token is
// stored sealed as hex cipher, iv and tag.
type Automaton struct {
	ID             string `gorm:"primaryKey;size:36"`
	OwnerID        string `gorm:"size:36;not null;index"`
	Name           string `gorm:"size:100;not null"`
	TokenCipher    string `gorm:"type:text;not null"`
	TokenIV        string `gorm:"size:24;not null"`
	TokenTag       string `gorm:"size:32;not null"`
	GuildID        string `gorm:"size:32"`
	ChannelID      string `gorm:"size:32"`
	Status         string `gorm:"size:16;default:stopped;index"`
	DesiredRunning bool   `gorm:"default:false;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Owner       User             `gorm:"foreignKey:OwnerID"`
	Assignments []GearAssignment `gorm:"foreignKey:AutomatonID"`
}

// BeforeCreate assigns a UUID when none is set.
func (a *Automaton) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
