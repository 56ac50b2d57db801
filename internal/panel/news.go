package panel

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/gears"
	"github.com/zulandar/frameforge/internal/models"
	"go.uber.org/zap"
)

const newsListLimit = 50

type newsBody struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	ImageURL string `json:"imageUrl"`
}

func (b *newsBody) normalize() bool {
	b.Title = strings.TrimSpace(b.Title)
	b.Body = strings.TrimSpace(b.Body)
	b.ImageURL = strings.TrimSpace(b.ImageURL)
	return b.Title != "" && b.Body != ""
}

// newsSettings checks that the news gear is enabled and assigned to
// automatonID, then returns its effective settings. missingCode and
// missingMsg answer an absent assignment.
func (s *Server) newsSettings(c *gin.Context, automatonID string, missingCode int, missingMsg string) (gears.NewsSettings, bool) {
	ctx := c.Request.Context()
	g, err := s.gearByKey(ctx, gears.NewsKey)
	if err != nil {
		s.internalError(c, "news", err)
		return gears.NewsSettings{}, false
	}
	if g == nil || !g.Enabled {
		fail(c, http.StatusBadRequest, "News gear not enabled.")
		return gears.NewsSettings{}, false
	}
	asg, err := s.assignmentFor(ctx, automatonID, g.ID)
	if err != nil {
		s.internalError(c, "news", err)
		return gears.NewsSettings{}, false
	}
	if asg == nil {
		fail(c, missingCode, missingMsg)
		return gears.NewsSettings{}, false
	}
	cfg, err := s.store.Load(ctx, automatonID, gears.NewsKey)
	if err != nil {
		s.internalError(c, "news", err)
		return gears.NewsSettings{}, false
	}
	return gears.ParseNewsSettings(cfg), true
}

// publishNews posts the embed through the automaton's bot and records it.
func (s *Server) publishNews(c *gin.Context, automatonID string, body newsBody, set gears.NewsSettings, source string, author *string) (*models.NewsPost, bool) {
	if set.ChannelID == "" {
		fail(c, http.StatusBadRequest, "newsChannelId is required.")
		return nil, false
	}
	ctx := c.Request.Context()
	token, err := s.store.Token(ctx, automatonID)
	if err != nil {
		s.internalError(c, "news token", err)
		return nil, false
	}
	client, err := s.opts.Discord(token)
	if err != nil {
		fail(c, http.StatusBadGateway, "Discord request failed.")
		return nil, false
	}
	msgID, err := client.PostMessage(ctx, set.ChannelID, discord.NewsMessage(discord.News{
		Title:      body.Title,
		Body:       body.Body,
		ImageURL:   body.ImageURL,
		Color:      set.Color,
		AuthorName: set.AuthorName,
		FooterText: set.FooterText,
	}))
	if err != nil {
		s.log.Warn("news post failed", zap.String("automatonId", automatonID), zap.Error(err))
		fail(c, http.StatusBadGateway, "Discord request failed.")
		return nil, false
	}
	post := &models.NewsPost{
		AutomatonID:      automatonID,
		AuthorUserID:     author,
		ChannelID:        set.ChannelID,
		Title:            body.Title,
		Body:             body.Body,
		ImageURL:         body.ImageURL,
		EmbedColor:       set.Color,
		Source:           source,
		DiscordMessageID: msgID,
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		s.internalError(c, "record news post", err)
		return nil, false
	}
	return post, true
}

func (s *Server) handleListNews(c *gin.Context) {
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	var rows []models.NewsPost
	if err := s.db.WithContext(c.Request.Context()).Where("automaton_id = ?", a.ID).
		Order("created_at DESC").Limit(newsListLimit).Find(&rows).Error; err != nil {
		s.internalError(c, "list news", err)
		return
	}
	out := make([]newsPostView, len(rows))
	for i := range rows {
		out[i] = newNewsPostView(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{"posts": out})
}

func (s *Server) handlePublishNews(c *gin.Context) {
	var body newsBody
	if !bind(c, &body) {
		return
	}
	if !body.normalize() {
		fail(c, http.StatusBadRequest, "Title and body are required.")
		return
	}
	a, ok := s.userAutomaton(c)
	if !ok {
		return
	}
	set, ok := s.newsSettings(c, a.ID, http.StatusBadRequest, "News gear not assigned.")
	if !ok {
		return
	}
	u := currentUser(c)
	author := u.ID
	post, ok := s.publishNews(c, a.ID, body, set, models.NewsSourcePanel, &author)
	if !ok {
		return
	}
	s.events.Info(c.Request.Context(), "News post published", map[string]any{
		"userId":      u.ID,
		"automatonId": a.ID,
		"newsPostId":  post.ID,
	})
	c.JSON(http.StatusOK, gin.H{"post": newNewsPostView(post)})
}

// handleNewsWebhook publishes a post authenticated by the webhookToken in
// the automaton's news config instead of a session.
func (s *Server) handleNewsWebhook(c *gin.Context) {
	var body newsBody
	if !bind(c, &body) {
		return
	}
	if !body.normalize() {
		fail(c, http.StatusBadRequest, "Title and body are required.")
		return
	}
	automatonID := c.Param("automatonId")
	set, ok := s.newsSettings(c, automatonID, http.StatusNotFound, "Automaton not configured for news.")
	if !ok {
		return
	}
	token := c.Param("token")
	if set.WebhookToken == "" || subtle.ConstantTimeCompare([]byte(set.WebhookToken), []byte(token)) != 1 {
		fail(c, http.StatusUnauthorized, "Invalid token.")
		return
	}
	post, ok := s.publishNews(c, automatonID, body, set, models.NewsSourceWebhook, nil)
	if !ok {
		return
	}
	s.events.Info(c.Request.Context(), "News post published via webhook", map[string]any{
		"automatonId": automatonID,
		"newsPostId":  post.ID,
	})
	c.JSON(http.StatusOK, gin.H{"post": newNewsPostView(post)})
}
