package panel

import (
	"time"

	"github.com/zulandar/frameforge/internal/models"
)

// JSON shapes returned by the panel API.

type userView struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	BotLimit       int       `json:"botLimit"`
	AutomatonCount *int64    `json:"automatonCount,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newUserView(u *models.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		BotLimit:  u.BotLimit,
		CreatedAt: u.CreatedAt,
	}
}

type identityView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func newIdentity(u *models.User) identityView {
	return identityView{ID: u.ID, Username: u.Username, Role: u.Role}
}

type ownerView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type automatonView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	DesiredRunning bool       `json:"desiredRunning"`
	Running        bool       `json:"running"`
	GuildID        string     `json:"guildId,omitempty"`
	ChannelID      string     `json:"channelId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Owner          *ownerView `json:"owner,omitempty"`
}

func (s *Server) newAutomatonView(a *models.Automaton, withOwner bool) automatonView {
	v := automatonView{
		ID:             a.ID,
		Name:           a.Name,
		Status:         a.Status,
		DesiredRunning: a.DesiredRunning,
		Running:        s.sup.IsRunning(a.ID),
		GuildID:        a.GuildID,
		ChannelID:      a.ChannelID,
		CreatedAt:      a.CreatedAt,
	}
	if withOwner {
		v.Owner = &ownerView{ID: a.Owner.ID, Username: a.Owner.Username}
	}
	return v
}

type gearView struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Enabled     bool   `json:"enabled"`
}

func newGearView(g *models.Gear) gearView {
	return gearView{
		ID:          g.ID,
		Key:         g.Key,
		Name:        g.Name,
		Category:    g.Category,
		Description: g.Description,
		Version:     g.Version,
		Enabled:     g.Enabled,
	}
}

type assignmentView struct {
	GearID  string `json:"gearId"`
	GearKey string `json:"gearKey"`
	Enabled bool   `json:"enabled"`
}

type ticketView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Category    string     `json:"category,omitempty"`
	AdminReply  string     `json:"adminReply,omitempty"`
	CreatedByID string     `json:"createdById"`
	CreatedBy   *ownerView `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newTicketView(t *models.Ticket) ticketView {
	v := ticketView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Category:    t.Category,
		AdminReply:  t.AdminReply,
		CreatedByID: t.CreatedByID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.CreatedBy.ID != "" {
		v.CreatedBy = &ownerView{ID: t.CreatedBy.ID, Username: t.CreatedBy.Username}
	}
	return v
}

type newsPostView struct {
	ID               string    `json:"id"`
	AutomatonID      string    `json:"automatonId"`
	AuthorUserID     *string   `json:"authorUserId"`
	ChannelID        string    `json:"channelId"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	ImageURL         string    `json:"imageUrl,omitempty"`
	EmbedColor       string    `json:"embedColor"`
	Source           string    `json:"source"`
	DiscordMessageID string    `json:"discordMessageId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func newNewsPostView(p *models.NewsPost) newsPostView {
	return newsPostView{
		ID:               p.ID,
		AutomatonID:      p.AutomatonID,
		AuthorUserID:     p.AuthorUserID,
		ChannelID:        p.ChannelID,
		Title:            p.Title,
		Body:             p.Body,
		ImageURL:         p.ImageURL,
		EmbedColor:       p.EmbedColor,
		Source:           p.Source,
		DiscordMessageID: p.DiscordMessageID,
		CreatedAt:        p.CreatedAt,
	}
}
