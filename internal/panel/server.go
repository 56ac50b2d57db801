// Package panel serves the JSON API used by the Frameforge web panel.
package panel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/zulandar/frameforge/internal/auth"
	"github.com/zulandar/frameforge/internal/config"
	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/eventlog"
	"github.com/zulandar/frameforge/internal/store"
	"github.com/zulandar/frameforge/internal/supervisor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 2 * time.Second
	heartbeatInterval   = 15 * time.Second
	shutdownGrace       = 5 * time.Second
)

// Controller is the supervisor surface used by panel handlers.
type Controller interface {
	Start(ctx context.Context, id string) (supervisor.Result, error)
	Stop(ctx context.Context, id string) (supervisor.Result, error)
	Restart(ctx context.Context, id string) (supervisor.Result, error)
	IsRunning(id string) bool
	Running() []string
}

// DiscordClient is the Discord REST surface used by panel handlers.
type DiscordClient interface {
	Guilds(ctx context.Context) ([]discord.Guild, error)
	Channels(ctx context.Context, guildID string) ([]discord.Channel, error)
	Profile(ctx context.Context) (*discord.Profile, error)
	UpdateProfile(ctx context.Context, upd discord.ProfileUpdate) (*discord.Profile, error)
	PostMessage(ctx context.Context, channelID string, data *discordgo.MessageSend) (string, error)
}

// DiscordFactory builds a DiscordClient for a decrypted bot token.
type DiscordFactory func(token string) (DiscordClient, error)

// Opts holds configuration for the panel server.
type Opts struct {
	Store      *store.Store
	Supervisor Controller
	Sessions   *auth.Sessions
	Events     *eventlog.Logger
	Discord    DiscordFactory
	Server     config.ServerConfig
	Logger     *zap.Logger
	StartedAt  time.Time
	Out        io.Writer

	// PollInterval is the log stream poll period when no live feed is
	// configured.
	PollInterval time.Duration
}

// Server is the panel HTTP API.
type Server struct {
	opts     Opts
	db       *gorm.DB
	store    *store.Store
	sup      Controller
	sessions *auth.Sessions
	events   *eventlog.Logger
	log      *zap.Logger
	router   *gin.Engine
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("panel: store is required")
	}
	if opts.Supervisor == nil {
		return nil, fmt.Errorf("panel: supervisor is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("panel: sessions are required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("panel: event log is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Discord == nil {
		opts.Discord = restClients(opts.Logger.Named("discord"))
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	s := &Server{
		opts:     opts,
		db:       opts.Store.DB(),
		store:    opts.Store,
		sup:      opts.Supervisor,
		sessions: opts.Sessions,
		events:   opts.Events,
		log:      opts.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(s.log), recovery(s.log), cors(opts.Server))
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the panel on opts.Server's address. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              opts.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Panel API listening on http://%s\n", srv.Addr)
	}
	s.log.Info("panel listening", zap.String("addr", srv.Addr))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("panel: %w", err)
	}
	return nil
}

func restClients(log *zap.Logger) DiscordFactory {
	return func(token string) (DiscordClient, error) {
		r, err := discord.NewREST(discord.RESTOpts{Token: token, Logger: log})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
