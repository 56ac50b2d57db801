package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff after a 429.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
	// guildPageSize is the Discord maximum for the current-user guilds route.
	guildPageSize = 200
)

// restSession is the subset of *discordgo.Session used by REST.
type restSession interface {
	UserGuilds(limit int, beforeID, afterID string, withCounts bool, options ...discordgo.RequestOption) ([]*discordgo.UserGuild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	RequestWithBucketID(method, urlStr string, data interface{}, bucketID string, options ...discordgo.RequestOption) ([]byte, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Guild is a guild the bot has joined.
type Guild struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Owner bool   `json:"owner"`
}

// Channel is a guild channel summary.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	ParentID string `json:"parentId,omitempty"`
	Position int    `json:"position"`
}

// Profile is the bot user's public profile.
type Profile struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
}

// ProfileUpdate changes the bot's username and/or avatar. Avatar is a data
// URI; a non-nil empty string clears it.
type ProfileUpdate struct {
	Username string  `json:"username,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
}

// REST is a stateless Discord REST client for one bot token.
type REST struct {
	sess        restSession
	log         *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// RESTOpts holds parameters for creating a REST client.
type RESTOpts struct {
	Token  string
	Logger *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session restSession
}

// RESTFactory builds a REST client for a decrypted bot token.
type RESTFactory func(token string) (*REST, error)

// NewREST creates a REST client. No gateway connection is opened.
func NewREST(opts RESTOpts) (*REST, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	r := &REST{
		sess:        opts.Session,
		log:         opts.Logger,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.sess == nil {
		dg, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		r.sess = dg
	}
	return r, nil
}

// Guilds lists every guild the bot belongs to, paging by ID.
func (r *REST) Guilds(ctx context.Context) ([]Guild, error) {
	var out []Guild
	after := ""
	for {
		var page []*discordgo.UserGuild
		err := r.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, apiErr = r.sess.UserGuilds(guildPageSize, "", after, false, discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: list guilds: %w", err)
		}
		for _, g := range page {
			out = append(out, Guild{ID: g.ID, Name: g.Name, Icon: g.Icon, Owner: g.Owner})
		}
		if len(page) < guildPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

// Channels lists the channels of a guild.
func (r *REST) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	var chans []*discordgo.Channel
	err := r.retryOnRateLimit(ctx, func() error {
		var apiErr error
		chans, apiErr = r.sess.GuildChannels(guildID, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: guild channels %s: %w", guildID, err)
	}
	out := make([]Channel, 0, len(chans))
	for _, c := range chans {
		out = append(out, Channel{ID: c.ID, Name: c.Name, Type: int(c.Type), ParentID: c.ParentID, Position: c.Position})
	}
	return out, nil
}

// Profile fetches the bot user.
func (r *REST) Profile(ctx context.Context) (*Profile, error) {
	var u *discordgo.User
	err := r.retryOnRateLimit(ctx, func() error {
		var apiErr error
		u, apiErr = r.sess.User("@me", discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: bot profile: %w", err)
	}
	return profileFromUser(u), nil
}

// UpdateProfile patches the bot user and returns the new profile.
func (r *REST) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*Profile, error) {
	if upd.Username == "" && upd.Avatar == nil {
		return nil, fmt.Errorf("discord: update profile: nothing to update")
	}
	var body []byte
	err := r.retryOnRateLimit(ctx, func() error {
		var apiErr error
		body, apiErr = r.sess.RequestWithBucketID(http.MethodPatch, discordgo.EndpointUser("@me"), upd, discordgo.EndpointUsers, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: update profile: %w", err)
	}
	var u discordgo.User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("discord: decode profile: %w", err)
	}
	return profileFromUser(&u), nil
}

// PostMessage sends a message to a channel and returns its ID.
func (r *REST) PostMessage(ctx context.Context, channelID string, data *discordgo.MessageSend) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("discord: no channel specified")
	}
	var msg *discordgo.Message
	err := r.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = r.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.ID, nil
}

func profileFromUser(u *discordgo.User) *Profile {
	if u == nil {
		return &Profile{}
	}
	return &Profile{ID: u.ID, Username: u.Username, Discriminator: u.Discriminator, Avatar: u.Avatar}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (r *REST) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * r.baseBackoff
		if wait > r.maxBackoff {
			wait = r.maxBackoff
		}
		r.log.Warn("discord rate limited, retrying",
			zap.Int("attempt", attempt+1), zap.Int("max", maxRetries), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// IsRateLimited reports whether err is a Discord 429 response.
func IsRateLimited(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests
}
