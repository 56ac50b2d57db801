// Package gear defines the contract between automaton workers and the
// behavior modules they load.
package gear

import (
	"context"

	"github.com/zulandar/frameforge/internal/discord"
	"go.uber.org/zap"
)

// Manifest describes a gear in the catalog.
type Manifest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Gear is a behavior module loaded into one worker. Init is called exactly
// once per worker lifetime.
type Gear interface {
	Manifest() Manifest
	Init(ctx context.Context, gctx Context) error
}

// Shutdowner is implemented by gears that hold resources. Shutdown is
// called exactly once during worker teardown, in load order.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Context is what a worker hands a gear at Init.
type Context struct {
	AutomatonID string
	GuildID     string
	Session     discord.Session
	Config      ConfigSource
	Logger      *zap.Logger
}

// LoadConfig fetches the current config for gear key from gctx.Config.
func (c Context) LoadConfig(ctx context.Context, key string) (Config, error) {
	if c.Config == nil {
		return Config{Enabled: true, Values: map[string]any{}}, nil
	}
	return c.Config.Load(ctx, c.AutomatonID, key)
}

// Log returns the gear logger, never nil.
func (c Context) Log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
