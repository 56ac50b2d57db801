package panel

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/models"
)

const maxProfileBody = 5 << 20

func (s *Server) handleWorkshop(c *gin.Context) {
	var rows []models.Gear
	if err := s.db.WithContext(c.Request.Context()).
		Order("category ASC, name ASC").Find(&rows).Error; err != nil {
		s.internalError(c, "workshop", err)
		return
	}
	out := make([]gearView, len(rows))
	for i := range rows {
		out[i] = newGearView(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{"gears": out})
}

func (s *Server) handleUserListAutomatons(c *gin.Context) {
	var rows []models.Automaton
	if err := s.db.WithContext(c.Request.Context()).
		Where("owner_id = ?", currentUser(c).ID).
		Order("created_at DESC").Find(&rows).Error; err != nil {
		s.internalError(c, "list automatons", err)
		return
	}
	out := make([]automatonView, len(rows))
	for i := range rows {
		out[i] = s.newAutomatonView(&rows[i], false)
	}
	c.JSON(http.StatusOK, gin.H{"automatons": out})
}

func (s *Server) handleUserCreateAutomaton(c *gin.Context) {
	var body createAutomatonBody
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	u := currentUser(c)
	name := strings.TrimSpace(body.Name)
	token := strings.TrimSpace(body.DiscordToken)
	if name == "" || token == "" {
		fail(c, http.StatusBadRequest, "Name and token are required.")
		return
	}
	if u.BotLimit > 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Automaton{}).
			Where("owner_id = ?", u.ID).Count(&n).Error; err != nil {
			s.internalError(c, "create automaton", err)
			return
		}
		if n >= int64(u.BotLimit) {
			fail(c, http.StatusForbidden, "Bot limit reached.")
			return
		}
	}
	a := &models.Automaton{
		OwnerID:   u.ID,
		Name:      name,
		GuildID:   strings.TrimSpace(body.GuildID),
		ChannelID: strings.TrimSpace(body.ChannelID),
		Status:    models.StatusStopped,
	}
	if err := s.store.CreateAutomaton(ctx, a, token); err != nil {
		s.internalError(c, "create automaton", err)
		return
	}
	s.events.Info(ctx, "Automaton created by user", map[string]any{"userId": u.ID, "automatonId": a.ID})
	c.JSON(http.StatusOK, gin.H{"automaton": s.newAutomatonView(a, false)})
}

func (s *Server) handleUserStart(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	res, err := s.sup.Start(c.Request.Context(), a.ID)
	if err != nil {
		s.internalError(c, "start automaton", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleUserStop(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	res, err := s.sup.Stop(c.Request.Context(), a.ID)
	if err != nil {
		s.internalError(c, "stop automaton", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleUserDeleteAutomaton(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	if err := s.removeAutomaton(c, a.ID); err != nil {
		s.internalError(c, "delete automaton", err)
		return
	}
	s.events.Warn(c.Request.Context(), "Automaton deleted by user", map[string]any{
		"userId":      currentUser(c).ID,
		"automatonId": a.ID,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleUserUpdateAutomaton sets the guild and channel. Omitted fields are
// cleared.
func (s *Server) handleUserUpdateAutomaton(c *gin.Context) {
	var body struct {
		GuildID   string `json:"guildId"`
		ChannelID string `json:"channelId"`
	}
	if !bind(c, &body) {
		return
	}
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	guildID := strings.TrimSpace(body.GuildID)
	channelID := strings.TrimSpace(body.ChannelID)
	if err := s.db.WithContext(ctx).Model(a).Updates(map[string]any{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Error; err != nil {
		s.internalError(c, "update automaton", err)
		return
	}
	s.events.Info(ctx, "Automaton config updated by user", map[string]any{
		"userId":      currentUser(c).ID,
		"automatonId": a.ID,
		"guildId":     guildID,
		"channelId":   channelID,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// discordFor opens a REST client with the automaton's decrypted token.
func (s *Server) discordFor(c *gin.Context, a *models.Automaton) (DiscordClient, bool) {
	token, err := s.store.Token(c.Request.Context(), a.ID)
	if err != nil {
		s.internalError(c, "automaton token", err)
		return nil, false
	}
	client, err := s.opts.Discord(token)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return client, true
}

func (s *Server) handleDiscordGuilds(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	client, ok := s.discordFor(c, a)
	if !ok {
		return
	}
	guilds, err := client.Guilds(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"guilds": guilds})
}

func (s *Server) handleDiscordChannels(c *gin.Context) {
	guildID := strings.TrimSpace(c.Query("guildId"))
	if guildID == "" {
		fail(c, http.StatusBadRequest, "guildId is required.")
		return
	}
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	client, ok := s.discordFor(c, a)
	if !ok {
		return
	}
	channels, err := client.Channels(c.Request.Context(), guildID)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) handleDiscordProfile(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	client, ok := s.discordFor(c, a)
	if !ok {
		return
	}
	p, err := client.Profile(c.Request.Context())
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// handleDiscordUpdateProfile changes the bot's username and avatar. An
// explicit null avatar removes it; an absent one leaves it alone.
func (s *Server) handleDiscordUpdateProfile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxProfileBody)
	var body struct {
		Username string          `json:"username"`
		Avatar   json.RawMessage `json:"avatar"`
	}
	if !bind(c, &body) {
		return
	}
	upd := discord.ProfileUpdate{Username: strings.TrimSpace(body.Username)}
	if len(body.Avatar) > 0 {
		var avatar *string
		if err := json.Unmarshal(body.Avatar, &avatar); err != nil {
			fail(c, http.StatusBadRequest, "avatar must be a string or null.")
			return
		}
		if avatar == nil {
			empty := ""
			avatar = &empty
		}
		upd.Avatar = avatar
	}
	if upd.Username == "" && upd.Avatar == nil {
		fail(c, http.StatusBadRequest, "Nothing to update.")
		return
	}
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	client, ok := s.discordFor(c, a)
	if !ok {
		return
	}
	p, err := client.UpdateProfile(c.Request.Context(), upd)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	s.events.Info(c.Request.Context(), "Bot profile updated by user", map[string]any{
		"userId":      currentUser(c).ID,
		"automatonId": a.ID,
	})
	c.JSON(http.StatusOK, gin.H{"profile": p})
}
