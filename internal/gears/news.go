package gears

import (
	"context"
	"fmt"

	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/gear"
)

// NewsKey is the registry key of the news gear.
const NewsKey = "news.news"

// NewsSettings is the news gear config used when publishing posts.
type NewsSettings struct {
	ChannelID    string
	Color        string
	AuthorName   string
	FooterText   string
	WebhookToken string
}

// ParseNewsSettings reads news settings from merged gear config values.
func ParseNewsSettings(cfg gear.Config) NewsSettings {
	color := cfg.String("embedColor")
	if color == "" {
		color = discord.DefaultNewsColor
	}
	return NewsSettings{
		ChannelID:    cfg.String("newsChannelId"),
		Color:        discord.NormalizeColor(color),
		AuthorName:   cfg.String("authorName"),
		FooterText:   cfg.String("footerText"),
		WebhookToken: cfg.String("webhookToken"),
	}
}

// News enables publishing embeds to a configured channel from the panel
// and the news webhook. It holds no gateway state.
type News struct{}

// NewNews creates a News gear.
func NewNews() *News { return &News{} }

func (n *News) Manifest() gear.Manifest {
	return gear.Manifest{
		Key:         NewsKey,
		Name:        "News",
		Category:    "news",
		Description: "Publishes announcements as embeds.",
		Version:     "1.0.0",
	}
}

func (n *News) Init(ctx context.Context, gctx gear.Context) error {
	cfg, err := gctx.LoadConfig(ctx, NewsKey)
	if err != nil {
		return fmt.Errorf("news: %w", err)
	}
	if ParseNewsSettings(cfg).ChannelID == "" {
		return fmt.Errorf("news: newsChannelId is required")
	}
	return nil
}
