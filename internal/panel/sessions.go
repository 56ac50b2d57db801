package panel

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/auth"
	"github.com/zulandar/frameforge/internal/models"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var body credentials
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	u, token, expires, err := s.sessions.Login(ctx, body.Username, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "Invalid credentials.")
		return
	}
	if err != nil {
		s.internalError(c, "login", err)
		return
	}
	s.setSession(c, token, expires)
	s.events.Info(ctx, "User login", map[string]any{"userId": u.ID, "role": u.Role})
	c.JSON(http.StatusOK, newIdentity(u))
}

func (s *Server) handleLogout(c *gin.Context) {
	token, _ := c.Cookie(auth.CookieName)
	if err := s.sessions.Delete(c.Request.Context(), token); err != nil {
		s.internalError(c, "logout", err)
		return
	}
	s.clearSession(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleMe(c *gin.Context) {
	u := s.sessionUser(c)
	if u == nil {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newIdentity(u)})
}

func (s *Server) handleBootstrapStatus(c *gin.Context) {
	exists, err := s.adminExists(c.Request.Context())
	if err != nil {
		s.internalError(c, "bootstrap status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adminExists": exists})
}

// handleBootstrap creates the first admin account and signs it in. It is
// refused once any admin exists.
func (s *Server) handleBootstrap(c *gin.Context) {
	var body credentials
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	exists, err := s.adminExists(ctx)
	if err != nil {
		s.internalError(c, "bootstrap", err)
		return
	}
	if exists {
		fail(c, http.StatusConflict, "Admin already exists.")
		return
	}
	username := strings.TrimSpace(body.Username)
	if err := auth.ValidateCredentials(username, body.Password); err != nil {
		fail(c, http.StatusBadRequest, validationMessage(err))
		return
	}
	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		s.internalError(c, "bootstrap", err)
		return
	}
	admin := &models.User{Username: username, PasswordHash: hash, Role: models.RoleAdmin}
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		s.internalError(c, "bootstrap", err)
		return
	}
	s.events.Info(ctx, "Admin bootstrap created", map[string]any{"adminId": admin.ID})

	token, expires, err := s.sessions.Create(ctx, admin.ID)
	if err != nil {
		s.internalError(c, "bootstrap", err)
		return
	}
	s.setSession(c, token, expires)
	c.JSON(http.StatusOK, newIdentity(admin))
}

func (s *Server) handleAdminLogin(c *gin.Context) {
	var body credentials
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	u, token, expires, err := s.sessions.Login(ctx, body.Username, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "Invalid credentials.")
		return
	}
	if err != nil {
		s.internalError(c, "admin login", err)
		return
	}
	if !u.IsAdmin() {
		s.sessions.Delete(ctx, token)
		fail(c, http.StatusUnauthorized, "Invalid credentials.")
		return
	}
	s.setSession(c, token, expires)
	s.events.Info(ctx, "Admin login", map[string]any{"adminId": u.ID})
	c.JSON(http.StatusOK, newIdentity(u))
}

func (s *Server) handleAdminLogout(c *gin.Context) {
	ctx := c.Request.Context()
	u := s.sessionUser(c)
	token, _ := c.Cookie(auth.CookieName)
	if err := s.sessions.Delete(ctx, token); err != nil {
		s.internalError(c, "admin logout", err)
		return
	}
	s.clearSession(c)
	if u != nil {
		s.events.Info(ctx, "Admin logout", map[string]any{"adminId": u.ID})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAdminMe(c *gin.Context) {
	c.JSON(http.StatusOK, newIdentity(currentUser(c)))
}
