package panel

import (
	"bytes"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
	"github.com/zulandar/frameforge/internal/config"
	"go.uber.org/zap"
)

const maxLoggedBody = 1000

// sensitiveRoutes carry passwords, bot tokens, gear config (which may hold
// webhook tokens) or avatars and are logged without their body.
var sensitiveRoutes = map[string]bool{
	"/auth/login":                                 true,
	"/admin/login":                                true,
	"/admin/bootstrap":                            true,
	"/admin/users":                                true,
	"/admin/users/:id":                            true,
	"/admin/automatons":                           true,
	"/user/automatons":                            true,
	"/user/automatons/:id/discord/profile":        true,
	"/user/automatons/:id/gears/:gearKey/config":  true,
	"/admin/automatons/:id/gears/:gearKey/config": true,
	"/admin/gears/:key/config":                    true,
	"/webhooks/news/:automatonId/:token":          true,
}

// redactedParams are path parameters that hold secrets.
var redactedParams = []string{"token"}

// requestLogger logs each request through zap, with a compacted JSON body
// for writes.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		var body string
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if !sensitiveRoutes[route] {
				body = readBody(c)
			}
		}

		c.Next()

		if route == "/health" {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", loggedPath(c)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if body != "" {
			fields = append(fields, zap.String("body", body))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		log.Info("request", fields...)
	}
}

// loggedPath is the request path with secret parameters masked.
func loggedPath(c *gin.Context) string {
	path := c.Request.URL.Path
	for _, name := range redactedParams {
		if v := c.Param(name); v != "" {
			path = strings.ReplaceAll(path, "/"+v, "/[redacted]")
		}
	}
	return path
}

func readBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	data, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return compressBody(data)
}

// compressBody strips JSON whitespace and truncates long bodies.
func compressBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	compact := pretty.Ugly(body)
	if len(compact) > maxLoggedBody {
		return string(compact[:maxLoggedBody]) + "..."
	}
	return string(compact)
}

// recovery converts panics into a 500 and logs the stack.
func recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", loggedPath(c)),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error."})
			}
		}()
		c.Next()
	}
}

// cors allows any origin outside production and only the configured panel
// origin in production. Credentials are always allowed.
func cors(cfg config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (!cfg.Production || strings.EqualFold(origin, cfg.PanelOrigin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
