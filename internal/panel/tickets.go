package panel

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/models"
)

type ticketBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
	Category    *string `json:"category"`
	AdminReply  *string `json:"adminReply"`
}

func trimmed(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// newTicket validates body and builds a ticket filed by u.
func newTicket(c *gin.Context, body ticketBody, u *models.User) (*models.Ticket, bool) {
	t := &models.Ticket{
		Title:       trimmed(body.Title),
		Description: trimmed(body.Description),
		Priority:    models.PriorityNormal,
		Status:      models.TicketOpen,
		CreatedByID: u.ID,
	}
	if t.Title == "" || t.Description == "" {
		fail(c, http.StatusBadRequest, "Title and description are required.")
		return nil, false
	}
	if body.Priority != nil {
		if !models.ValidTicketPriority(*body.Priority) {
			fail(c, http.StatusBadRequest, "Invalid priority.")
			return nil, false
		}
		t.Priority = *body.Priority
	}
	return t, true
}

func (s *Server) handleAdminListTickets(c *gin.Context) {
	var rows []models.Ticket
	if err := s.db.WithContext(c.Request.Context()).Preload("CreatedBy").
		Order("created_at DESC").Find(&rows).Error; err != nil {
		s.internalError(c, "list tickets", err)
		return
	}
	out := make([]ticketView, len(rows))
	for i := range rows {
		out[i] = newTicketView(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{"tickets": out})
}

func (s *Server) handleAdminCreateTicket(c *gin.Context) {
	var body ticketBody
	if !bind(c, &body) {
		return
	}
	u := currentUser(c)
	t, ok := newTicket(c, body, u)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		s.internalError(c, "create ticket", err)
		return
	}
	t.CreatedBy = *u
	s.events.Info(ctx, "Ticket created", map[string]any{"adminId": u.ID, "ticketId": t.ID})
	c.JSON(http.StatusOK, gin.H{"ticket": newTicketView(t)})
}

// handleAdminUpdateTicket sets status and priority when given. Category
// and reply are replaced, and cleared when blank or absent.
func (s *Server) handleAdminUpdateTicket(c *gin.Context) {
	var body ticketBody
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	t, err := findOne[models.Ticket](s.db.WithContext(ctx).Where("id = ?", c.Param("id")))
	if err != nil {
		s.internalError(c, "update ticket", err)
		return
	}
	if t == nil {
		fail(c, http.StatusNotFound, "Ticket not found.")
		return
	}
	updates := map[string]any{
		"category":    trimmed(body.Category),
		"admin_reply": trimmed(body.AdminReply),
	}
	if body.Status != nil {
		if !models.ValidTicketStatus(*body.Status) {
			fail(c, http.StatusBadRequest, "Invalid status.")
			return
		}
		updates["status"] = *body.Status
	}
	if body.Priority != nil {
		if !models.ValidTicketPriority(*body.Priority) {
			fail(c, http.StatusBadRequest, "Invalid priority.")
			return
		}
		updates["priority"] = *body.Priority
	}
	if err := s.db.WithContext(ctx).Model(t).Updates(updates).Error; err != nil {
		s.internalError(c, "update ticket", err)
		return
	}
	if err := s.db.WithContext(ctx).Preload("CreatedBy").First(t, "id = ?", t.ID).Error; err != nil {
		s.internalError(c, "update ticket", err)
		return
	}
	s.events.Info(ctx, "Ticket updated", map[string]any{"adminId": currentUser(c).ID, "ticketId": t.ID})
	c.JSON(http.StatusOK, gin.H{"ticket": newTicketView(t)})
}

func (s *Server) handleUserListTickets(c *gin.Context) {
	var rows []models.Ticket
	if err := s.db.WithContext(c.Request.Context()).
		Where("created_by_id = ?", currentUser(c).ID).
		Order("created_at DESC").Find(&rows).Error; err != nil {
		s.internalError(c, "list tickets", err)
		return
	}
	out := make([]ticketView, len(rows))
	for i := range rows {
		out[i] = newTicketView(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{"tickets": out})
}

func (s *Server) handleUserCreateTicket(c *gin.Context) {
	var body ticketBody
	if !bind(c, &body) {
		return
	}
	u := currentUser(c)
	t, ok := newTicket(c, body, u)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		s.internalError(c, "create ticket", err)
		return
	}
	s.events.Info(ctx, "Support ticket created", map[string]any{"userId": u.ID, "ticketId": t.ID})
	c.JSON(http.StatusOK, gin.H{"ticket": newTicketView(t)})
}

// ownTicket loads the caller's ticket and rejects resolved or closed ones
// with closedMsg.
func (s *Server) ownTicket(c *gin.Context, closedMsg string) (*models.Ticket, bool) {
	t, err := findOne[models.Ticket](s.db.WithContext(c.Request.Context()).
		Where("id = ? AND created_by_id = ?", c.Param("id"), currentUser(c).ID))
	if err != nil {
		s.internalError(c, "find ticket", err)
		return nil, false
	}
	if t == nil {
		fail(c, http.StatusNotFound, "Not found.")
		return nil, false
	}
	if t.Status == models.TicketResolved || t.Status == models.TicketClosed {
		fail(c, http.StatusForbidden, closedMsg)
		return nil, false
	}
	return t, true
}

func (s *Server) handleUserUpdateTicket(c *gin.Context) {
	var body ticketBody
	if !bind(c, &body) {
		return
	}
	t, ok := s.ownTicket(c, "Ticket can no longer be edited.")
	if !ok {
		return
	}
	if v := trimmed(body.Title); v != "" {
		t.Title = v
	}
	if v := trimmed(body.Description); v != "" {
		t.Description = v
	}
	if body.Priority != nil {
		if !models.ValidTicketPriority(*body.Priority) {
			fail(c, http.StatusBadRequest, "Invalid priority.")
			return
		}
		t.Priority = *body.Priority
	}
	ctx := c.Request.Context()
	if err := s.db.WithContext(ctx).Model(t).Updates(map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"priority":    t.Priority,
	}).Error; err != nil {
		s.internalError(c, "update ticket", err)
		return
	}
	s.events.Info(ctx, "Support ticket updated", map[string]any{"userId": currentUser(c).ID, "ticketId": t.ID})
	c.JSON(http.StatusOK, gin.H{"ticket": newTicketView(t)})
}

func (s *Server) handleUserResolveTicket(c *gin.Context) {
	t, ok := s.ownTicket(c, "Ticket already resolved or closed.")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.db.WithContext(ctx).Model(t).Update("status", models.TicketResolved).Error; err != nil {
		s.internalError(c, "resolve ticket", err)
		return
	}
	t.Status = models.TicketResolved
	s.events.Info(ctx, "Support ticket marked resolved by user", map[string]any{
		"userId":   currentUser(c).ID,
		"ticketId": t.ID,
	})
	c.JSON(http.StatusOK, gin.H{"ticket": newTicketView(t)})
}
