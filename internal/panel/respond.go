package panel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
	"github.com/zulandar/frameforge/internal/auth"
	"github.com/zulandar/frameforge/internal/models"
	"go.uber.org/zap"
)

const userKey = "frameforge.user"

// requireRole rejects requests without a live session for a user holding
// role.
func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := s.sessionUser(c)
		if u == nil || u.Role != role {
			fail(c, http.StatusUnauthorized, "Unauthorized.")
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

// sessionUser resolves the session cookie, or returns nil.
func (s *Server) sessionUser(c *gin.Context) *models.User {
	token, err := c.Cookie(auth.CookieName)
	if err != nil || token == "" {
		return nil
	}
	u, err := s.sessions.Lookup(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.log.Warn("session lookup failed", zap.Error(err))
		}
		return nil
	}
	return u
}

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

func (s *Server) setSession(c *gin.Context, token string, expires time.Time) {
	http.SetCookie(c.Writer, auth.Cookie(token, expires, s.opts.Server.CookieSecure))
}

func (s *Server) clearSession(c *gin.Context) {
	http.SetCookie(c.Writer, auth.ClearCookie(s.opts.Server.CookieSecure))
}

func fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// internalError logs err and answers 500. Admins see the raw error.
func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.Error("panel: "+op, zap.Error(err), zap.String("path", c.Request.URL.Path))
	msg := "Internal error."
	if u := currentUser(c); u != nil && u.IsAdmin() {
		msg = err.Error()
	}
	c.Error(err)
	fail(c, http.StatusInternalServerError, msg)
}

// bind decodes the JSON body into v. An empty body leaves v untouched.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "Invalid JSON body.")
		return false
	}
	return true
}

// objectJSON validates that raw is a JSON object and returns it compacted.
func objectJSON(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return "", false
	}
	return string(pretty.Ugly([]byte(trimmed))), true
}

// decodeObject parses a stored JSON object, treating empty or invalid
// input as {}.
func decodeObject(s string) map[string]any {
	m := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// validationMessage turns an auth validation error into panel text.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), "auth: ")
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
