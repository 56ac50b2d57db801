package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ticket status values.
const (
	TicketOpen       = "open"
	TicketInProgress = "in_progress"
	TicketResolved   = "resolved"
	TicketClosed     = "closed"
)

// Ticket priority values.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Ticket is a support request filed by a user and answered by an admin.
type Ticket struct {
	ID          string `gorm:"primaryKey;size:36"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:16;default:open;index"`
	Priority    string `gorm:"size:16;default:normal"`
	Category    string `gorm:"size:64"`
	AdminReply  string `gorm:"type:text"`
	CreatedByID string `gorm:"size:36;not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	CreatedBy User `gorm:"foreignKey:CreatedByID"`
}

// BeforeCreate assigns a UUID when none is set.
func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// ValidTicketStatus reports whether s is a known ticket status.
func ValidTicketStatus(s string) bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

// ValidTicketPriority reports whether p is a known ticket priority.
func ValidTicketPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
