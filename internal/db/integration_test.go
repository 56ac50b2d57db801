//go:build integration

package db

import (
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/zulandar/frameforge/internal/config"
	"github.com/zulandar/frameforge/internal/gear"
	"github.com/zulandar/frameforge/internal/models"
)

// mysqlConfig reads a MySQL server from FRAMEFORGE_TEST_MYSQL_HOST/PORT/USER/
// PASSWORD and skips when none is configured.
func mysqlConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	host := os.Getenv("FRAMEFORGE_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("FRAMEFORGE_TEST_MYSQL_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("FRAMEFORGE_TEST_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}
	user := os.Getenv("FRAMEFORGE_TEST_MYSQL_USER")
	if user == "" {
		user = "root"
	}
	return config.DatabaseConfig{
		Driver:   "mysql",
		Host:     host,
		Port:     port,
		User:     user,
		Password: os.Getenv("FRAMEFORGE_TEST_MYSQL_PASSWORD"),
		Name:     fmt.Sprintf("frameforge_test_%d", time.Now().UnixNano()),
	}
}

func TestIntegration_CreateMigrateSync(t *testing.T) {
	cfg := mysqlConfig(t)

	admin, err := ConnectAdmin(cfg)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	if err := CreateDatabase(admin, cfg.Name); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	t.Cleanup(func() {
		admin.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", cfg.Name))
	})
	// Idempotent.
	if err := CreateDatabase(admin, cfg.Name); err != nil {
		t.Fatalf("CreateDatabase again: %v", err)
	}

	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate again: %v", err)
	}

	ms := []gear.Manifest{{Key: "utility.ping", Name: "Ping", Category: "utility", Version: "1.0.0"}}
	if err := SyncGears(db, ms); err != nil {
		t.Fatalf("SyncGears: %v", err)
	}
	if err := SyncGears(db, ms); err != nil {
		t.Fatalf("SyncGears again: %v", err)
	}
	var count int64
	db.Model(&models.Gear{}).Count(&count)
	if count != 1 {
		t.Errorf("gears = %d, want 1", count)
	}
}
