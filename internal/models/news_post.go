package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// News post sources.
const (
	NewsSourcePanel   = "panel"
	NewsSourceWebhook = "webhook"
)

// NewsPost records an announcement published to a Discord channel.
type NewsPost struct {
	ID               string    `gorm:"primaryKey;size:36"`
	AutomatonID      string    `gorm:"size:36;not null;index"`
	AuthorUserID     *string   `gorm:"size:36"`
	ChannelID        string    `gorm:"size:32;not null"`
	Title            string    `gorm:"size:256;not null"`
	Body             string    `gorm:"type:text"`
	ImageURL         string    `gorm:"size:512"`
	EmbedColor       string    `gorm:"size:16"`
	Source           string    `gorm:"size:16;default:panel"`
	DiscordMessageID string    `gorm:"size:32"`
	CreatedAt        time.Time `gorm:"index"`
}

// BeforeCreate assigns a UUID when none is set.
func (n *NewsPost) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
