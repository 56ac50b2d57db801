package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/frameforge/internal/config"
	"github.com/zulandar/frameforge/internal/db"
	"github.com/zulandar/frameforge/internal/gear"
	"github.com/zulandar/frameforge/internal/gears"
	"github.com/zulandar/frameforge/internal/secret"
	"github.com/zulandar/frameforge/internal/store"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// defaultSettings are seeded once and then owned by admins.
var defaultSettings = map[string]string{
	"branding.siteName":       "Frameforge",
	"branding.accentColor":    "#b08a4b",
	"limits.defaultBotLimit":  "0",
	"policies.supportTickets": "enabled",
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registry returns the process gear registry with the built-in gears.
func registry() (*gear.Registry, error) {
	registerOnce.Do(func() { registerErr = gears.Register(gear.Default) })
	return gear.Default, registerErr
}

// connectFromConfig loads config and returns a GORM DB connection.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// openStore wraps gormDB with the token sealing box from cfg.
func openStore(cfg *config.Config, gormDB *gorm.DB) (*store.Store, error) {
	box, err := secret.NewBox(cfg.Security.TokenSecret)
	if err != nil {
		return nil, err
	}
	return store.New(gormDB, box), nil
}

// prepare migrates the schema, syncs the gear catalog and seeds default
// settings. It is idempotent.
func prepare(gormDB *gorm.DB) (int, error) {
	if err := db.AutoMigrate(gormDB); err != nil {
		return 0, err
	}
	reg, err := registry()
	if err != nil {
		return 0, err
	}
	manifests := reg.Manifests()
	if err := db.SyncGears(gormDB, manifests); err != nil {
		return 0, err
	}
	if err := db.SeedSettings(gormDB, defaultSettings); err != nil {
		return 0, err
	}
	return len(manifests), nil
}

// readSecret prompts for a hidden value on a terminal, or reads one line
// from the command's input otherwise.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
