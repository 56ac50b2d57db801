package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gear is a catalog row synced from the in-process gear registry. Enabled
// is controlled by admins and never overwritten by the sync.
type Gear struct {
	ID          string `gorm:"primaryKey;size:36"`
	Key         string `gorm:"size:64;not null;uniqueIndex"`
	Name        string `gorm:"size:100;not null"`
	Category    string `gorm:"size:32;index"`
	Description string `gorm:"type:text"`
	Version     string `gorm:"size:32"`
	Enabled     bool   `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BeforeCreate assigns a UUID when none is set.
func (g *Gear) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// GearAssignment attaches a gear to an automaton with its own opaque JSON
// config. The (AutomatonID, GearID) pair is unique.
type GearAssignment struct {
	ID          string `gorm:"primaryKey;size:36"`
	AutomatonID string `gorm:"size:36;not null;uniqueIndex:idx_assignment_pair"`
	GearID      string `gorm:"size:36;not null;uniqueIndex:idx_assignment_pair"`
	Enabled     bool   `gorm:"default:true"`
	ConfigJSON  string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Gear Gear `gorm:"foreignKey:GearID"`
}

// BeforeCreate assigns a UUID when none is set.
func (a *GearAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
