package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/eventlog"
	"go.uber.org/zap"
)

func (s *Server) handleLogs(c *gin.Context) {
	logs, err := eventlog.Query(c.Request.Context(), s.db, eventlog.Filter{
		Level: c.Query("level"),
		Q:     c.Query("q"),
	})
	if err != nil {
		s.internalError(c, "query logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// handleLogStream streams new event log entries as SSE. It follows the
// live feed when one is configured and polls the table otherwise.
func (s *Server) handleLogStream(c *gin.Context) {
	ctx := c.Request.Context()
	level := c.Query("level")

	var (
		live    <-chan eventlog.Entry
		lastID  uint
		polling <-chan time.Time
	)
	if feed := s.events.Feed(); feed != nil {
		ch, unsubscribe, err := feed.Subscribe(ctx)
		if err != nil {
			s.internalError(c, "subscribe log feed", err)
			return
		}
		defer unsubscribe()
		live = ch
	} else {
		id, err := eventlog.LatestID(ctx, s.db)
		if err != nil {
			s.internalError(c, "log stream", err)
			return
		}
		lastID = id
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		polling = ticker.C
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	send := func(e eventlog.Entry) {
		if level != "" && e.Level != level {
			return
		}
		writeSSE(c.Writer, "log", e)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case e, ok := <-live:
			if !ok {
				return
			}
			send(e)
			c.Writer.Flush()
		case <-polling:
			entries, err := s.pollLogs(ctx, lastID)
			if err != nil {
				s.log.Warn("log stream poll failed", zap.Error(err))
				continue
			}
			for _, e := range entries {
				lastID = e.ID
				send(e)
			}
			if len(entries) > 0 {
				c.Writer.Flush()
			}
		}
	}
}

func (s *Server) pollLogs(ctx context.Context, afterID uint) ([]eventlog.Entry, error) {
	return eventlog.Since(ctx, s.db, afterID, 0)
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
