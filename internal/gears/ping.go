package gears

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/gear"
	"go.uber.org/zap"
)

// PingKey is the registry key of the ping gear.
const PingKey = "utility.ping"

var pingCommand = &discordgo.ApplicationCommand{
	Name:        "ping",
	Description: "Check that the automaton responds.",
}

// Ping answers /ping with "Pong!".
type Ping struct {
	mu     sync.Mutex
	remove func()
}

// NewPing creates a Ping gear.
func NewPing() *Ping { return &Ping{} }

func (p *Ping) Manifest() gear.Manifest {
	return gear.Manifest{
		Key:         PingKey,
		Name:        "Ping",
		Category:    "utility",
		Description: "Replies to /ping.",
		Version:     "1.0.0",
	}
}

func (p *Ping) Init(ctx context.Context, gctx gear.Context) error {
	if gctx.Session == nil {
		return fmt.Errorf("ping: session is required")
	}
	if _, err := discord.EnsureCommand(gctx.Session, gctx.GuildID, pingCommand); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	sess := gctx.Session
	log := gctx.Log()
	remove := sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if discord.CommandName(i) != pingCommand.Name {
			return
		}
		if err := discord.Reply(sess, i.Interaction, "Pong!"); err != nil {
			log.Warn("ping reply failed", zap.Error(err))
		}
	})
	p.mu.Lock()
	p.remove = remove
	p.mu.Unlock()
	return nil
}

func (p *Ping) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remove != nil {
		p.remove()
		p.remove = nil
	}
	return nil
}
