package gears

import (
	"context"
	"sync"
	"time"

	"github.com/zulandar/frameforge/internal/gear"
	"go.uber.org/zap"
)

// PresenceKey is the registry key of the presence gear.
const PresenceKey = "utility.presence"

// DefaultPresenceInterval is how often the presence gear rereads its config.
const DefaultPresenceInterval = time.Minute

// Presence keeps the bot's game status in line with its statusText config.
// Changes are picked up on the next poll.
type Presence struct {
	interval time.Duration

	mu     sync.Mutex
	last   string
	poller *gear.Poller
}

// NewPresence creates a Presence gear polling every interval.
func NewPresence(interval time.Duration) *Presence {
	if interval <= 0 {
		interval = DefaultPresenceInterval
	}
	return &Presence{interval: interval}
}

func (p *Presence) Manifest() gear.Manifest {
	return gear.Manifest{
		Key:         PresenceKey,
		Name:        "Presence",
		Category:    "utility",
		Description: "Sets the bot status text from config.",
		Version:     "1.0.0",
	}
}

func (p *Presence) Init(ctx context.Context, gctx gear.Context) error {
	log := gctx.Log().With(zap.String("gear", PresenceKey))
	p.poller = gear.NewPoller(p.interval, func(ctx context.Context) {
		cfg, err := gctx.LoadConfig(ctx, PresenceKey)
		if err != nil {
			log.Warn("load config failed", zap.Error(err))
			return
		}
		text := cfg.String("statusText")
		p.mu.Lock()
		changed := text != p.last
		p.mu.Unlock()
		if !changed || gctx.Session == nil {
			return
		}
		if err := gctx.Session.UpdateGameStatus(0, text); err != nil {
			log.Warn("update status failed", zap.Error(err))
			return
		}
		p.mu.Lock()
		p.last = text
		p.mu.Unlock()
	})
	p.poller.Start(context.WithoutCancel(ctx))
	return nil
}

func (p *Presence) Shutdown(ctx context.Context) error {
	if p.poller == nil {
		return nil
	}
	return p.poller.Stop(ctx)
}
