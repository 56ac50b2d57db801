package db

import (
	"fmt"

	"github.com/zulandar/frameforge/internal/gear"
	"github.com/zulandar/frameforge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Session{},
		&models.Automaton{},
		&models.Gear{},
		&models.GearAssignment{},
		&models.LogEntry{},
		&models.SystemSetting{},
		&models.Ticket{},
		&models.NewsPost{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SyncGears upserts the catalog rows for manifests. Name, category,
// description and version follow the code; the admin-controlled enabled
// flag is left alone on existing rows.
func SyncGears(db *gorm.DB, manifests []gear.Manifest) error {
	for _, m := range manifests {
		row := models.Gear{
			Key:         m.Key,
			Name:        m.Name,
			Category:    m.Category,
			Description: m.Description,
			Version:     m.Version,
			Enabled:     true,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "category", "description", "version", "updated_at"}),
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("db: sync gear %q: %w", m.Key, result.Error)
		}
	}
	return nil
}

// SeedSettings inserts default system settings that do not exist yet.
func SeedSettings(db *gorm.DB, defaults map[string]string) error {
	for k, v := range defaults {
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SystemSetting{Key: k, Value: v})
		if result.Error != nil {
			return fmt.Errorf("db: seed setting %q: %w", k, result.Error)
		}
	}
	return nil
}
