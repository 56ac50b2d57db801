// Package auth handles panel passwords and login sessions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/frameforge/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CookieName is the session cookie set by the panel.
const CookieName = "ff_session"

// bcryptCost is the work factor for stored passwords.
const bcryptCost = 12

const (
	minUsernameLen = 3
	minPasswordLen = 8
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// unknown or expired session tokens.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateCredentials checks the minimum username and password lengths.
func ValidateCredentials(username, password string) error {
	if len(strings.TrimSpace(username)) < minUsernameLen {
		return fmt.Errorf("auth: username must be at least %d characters", minUsernameLen)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("auth: password must be at least %d characters", minPasswordLen)
	}
	return nil
}

// HashToken returns the hex sha256 of a bearer token, the form stored in
// the sessions table.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Sessions issues and resolves login sessions.
type Sessions struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessions creates a session store with the given lifetime.
func NewSessions(db *gorm.DB, ttl time.Duration) *Sessions {
	return &Sessions{db: db, ttl: ttl, now: time.Now}
}

// TTL returns the session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Login checks username/password and creates a session on success.
func (s *Sessions) Login(ctx context.Context, username, password string) (*models.User, string, time.Time, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("auth: login: %w", err)
	}
	if !VerifyPassword(password, u.PasswordHash) {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	token, expires, err := s.Create(ctx, u.ID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return &u, token, expires, nil
}

// Create issues a new session for userID and returns the bearer token.
func (s *Sessions) Create(ctx context.Context, userID string) (string, time.Time, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: session token: %w", err)
	}
	token := hex.EncodeToString(buf)
	expires := s.now().Add(s.ttl)
	row := models.Session{UserID: userID, TokenHash: HashToken(token), ExpiresAt: expires}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("auth: create session: %w", err)
	}
	return token, expires, nil
}

// Lookup resolves a bearer token to its user. Missing or expired sessions
// return ErrInvalidCredentials.
func (s *Sessions) Lookup(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	var sess models.Session
	err := s.db.WithContext(ctx).Preload("User").
		Where("token_hash = ? AND expires_at > ?", HashToken(token), s.now()).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup session: %w", err)
	}
	return &sess.User, nil
}

// Delete removes the session for token. Unknown tokens are ignored.
func (s *Sessions) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("token_hash = ?", HashToken(token)).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

// DeleteForUser removes every session of userID.
func (s *Sessions) DeleteForUser(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("auth: delete sessions for %s: %w", userID, err)
	}
	return nil
}

// PurgeExpired deletes expired sessions and returns how many were removed.
func (s *Sessions) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("auth: purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Cookie builds the session cookie for token.
func Cookie(token string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie builds a cookie that removes the session cookie.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
