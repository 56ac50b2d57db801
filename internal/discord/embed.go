package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DefaultNewsColor is the embed color used when none is configured.
const DefaultNewsColor = "#b08a4b"

// News is an announcement rendered as a single embed.
type News struct {
	Title      string
	Body       string
	ImageURL   string
	Color      string
	AuthorName string
	FooterText string
}

// NewsMessage renders n as a Discord message with one embed.
func NewsMessage(n News) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       ParseHexColor(n.Color),
	}
	if n.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: n.ImageURL}
	}
	if name := strings.TrimSpace(n.AuthorName); name != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: name}
	}
	if footer := strings.TrimSpace(n.FooterText); footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	}
	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
}

// ParseHexColor converts "#36a64f" or "36a64f" to an int. Invalid or empty
// input yields DefaultNewsColor.
func ParseHexColor(hex string) int {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if v, err := strconv.ParseUint(hex, 16, 32); err == nil && hex != "" && len(hex) <= 6 {
		return int(v)
	}
	v, _ := strconv.ParseUint(strings.TrimPrefix(DefaultNewsColor, "#"), 16, 32)
	return int(v)
}

// NormalizeColor returns the "#rrggbb" form of a configured color, falling
// back to DefaultNewsColor.
func NormalizeColor(hex string) string {
	return fmt.Sprintf("#%06x", ParseHexColor(hex))
}
