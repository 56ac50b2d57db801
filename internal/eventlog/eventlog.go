// Package eventlog records operator-facing events: persisted LogEntry rows,
// mirrored to zap and fanned out to an optional live feed.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/frameforge/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxQueryLimit caps the number of entries Query returns.
const MaxQueryLimit = 200

// Entry is the wire form of a LogEntry.
type Entry struct {
	ID        uint            `json:"id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Context   json.RawMessage `json:"context,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FromModel converts a stored row.
func FromModel(m models.LogEntry) Entry {
	e := Entry{ID: m.ID, Level: m.Level, Message: m.Message, CreatedAt: m.CreatedAt}
	if m.Context != "" && json.Valid([]byte(m.Context)) {
		e.Context = json.RawMessage(m.Context)
	}
	return e
}

// Feed fans new entries out to live subscribers.
type Feed interface {
	Publish(ctx context.Context, e Entry) error
	// Subscribe returns a channel of entries published after the call and a
	// function that ends the subscription.
	Subscribe(ctx context.Context) (<-chan Entry, func(), error)
}

// Logger writes events.
type Logger struct {
	db   *gorm.DB
	log  *zap.Logger
	feed Feed
}

// Opts holds parameters for creating a Logger.
type Opts struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Feed   Feed // optional
}

// New creates a Logger.
func New(opts Opts) *Logger {
	l := &Logger{db: opts.DB, log: opts.Logger, feed: opts.Feed}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

// Feed returns the live feed, or nil when none is configured.
func (l *Logger) Feed() Feed { return l.feed }

// Log persists an event. The zap mirror and the feed publish are best
// effort; only the database write can fail the call.
func (l *Logger) Log(ctx context.Context, level, msg string, fields map[string]any) error {
	level = normalizeLevel(level)
	l.mirror(level, msg, fields)

	row := models.LogEntry{Level: level, Message: msg}
	if len(fields) > 0 {
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("eventlog: encode context: %w", err)
		}
		row.Context = string(raw)
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		l.log.Error("event log write failed", zap.String("message", msg), zap.Error(err))
		return fmt.Errorf("eventlog: write: %w", err)
	}

	if l.feed != nil {
		if err := l.feed.Publish(ctx, FromModel(row)); err != nil {
			l.log.Warn("event feed publish failed", zap.Error(err))
		}
	}
	return nil
}

// Info logs at info level, reporting failures only to zap.
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]any) {
	_ = l.Log(ctx, models.LevelInfo, msg, fields)
}

// Warn logs at warn level, reporting failures only to zap.
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]any) {
	_ = l.Log(ctx, models.LevelWarn, msg, fields)
}

// Error logs at error level, reporting failures only to zap.
func (l *Logger) Error(ctx context.Context, msg string, fields map[string]any) {
	_ = l.Log(ctx, models.LevelError, msg, fields)
}

func (l *Logger) mirror(level, msg string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	switch level {
	case models.LevelWarn:
		l.log.Warn(msg, zf...)
	case models.LevelError:
		l.log.Error(msg, zf...)
	default:
		l.log.Info(msg, zf...)
	}
}

func normalizeLevel(level string) string {
	switch level {
	case models.LevelWarn, models.LevelError:
		return level
	}
	return models.LevelInfo
}

// Filter narrows Query.
type Filter struct {
	Level string // exact match when set
	Q     string // case-insensitive substring of the message
	Limit int    // defaults to and is capped at MaxQueryLimit
}

// Query returns the newest matching entries, newest first.
func Query(ctx context.Context, db *gorm.DB, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	q := db.WithContext(ctx).Model(&models.LogEntry{})
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	if s := strings.TrimSpace(f.Q); s != "" {
		q = q.Where("LOWER(message) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	var rows []models.LogEntry
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	return toEntries(rows), nil
}

// Since returns entries with ID greater than afterID, oldest first.
func Since(ctx context.Context, db *gorm.DB, afterID uint, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	var rows []models.LogEntry
	if err := db.WithContext(ctx).Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("eventlog: since %d: %w", afterID, err)
	}
	return toEntries(rows), nil
}

// LatestID returns the highest entry ID, or 0 for an empty log.
func LatestID(ctx context.Context, db *gorm.DB) (uint, error) {
	var row models.LogEntry
	err := db.WithContext(ctx).Order("id DESC").Limit(1).Find(&row).Error
	if err != nil {
		return 0, fmt.Errorf("eventlog: latest id: %w", err)
	}
	return row.ID, nil
}

// Prune deletes entries created before cutoff.
func Prune(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.LogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func toEntries(rows []models.LogEntry) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromModel(r))
	}
	return out
}
