// Package worker runs one automaton: a Discord gateway session plus the
// gears loaded into it, reporting lifecycle events over a channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/gear"
	"go.uber.org/zap"
)

const (
	// DefaultBaselineCommand is the readiness slash command every automaton
	// registers.
	DefaultBaselineCommand = "frameforge"
	// DefaultGearShutdownTimeout bounds each gear's Shutdown call.
	DefaultGearShutdownTimeout = 2 * time.Second

	baselineDescription = "Check if the automaton is ready."
	baselineReply       = "Frameforge automaton ready."

	memberPageSize = 1000
	outboxSize     = 64
)

// Kind identifies a worker event.
type Kind string

// Worker event kinds.
const (
	KindReady            Kind = "ready"
	KindMembersSynced    Kind = "members_synced"
	KindGearLoaded       Kind = "gear_loaded"
	KindGearError        Kind = "gear_error"
	KindError            Kind = "error"
	KindShutdownComplete Kind = "shutdown_complete"
)

// Message is an event sent from a worker to its supervisor.
type Message struct {
	Kind        Kind
	AutomatonID string
	GearKey     string // gear events only
	Count       int    // members_synced only
	Err         error  // gear_error and error only
}

// State is the worker lifecycle position.
type State string

// Worker states, in order.
const (
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

// Spec is everything a worker needs to launch one automaton.
type Spec struct {
	AutomatonID string
	Token       string
	GuildID     string
	Gears       []string // gear keys, in load order
}

// Opts holds parameters for spawning a worker.
type Opts struct {
	Spec                Spec
	Registry            *gear.Registry
	Connect             discord.Connector // defaults to discord.Dial
	Config              gear.ConfigSource
	Logger              *zap.Logger
	GearShutdownTimeout time.Duration
	BaselineCommand     string
}

// Handle is the supervisor's reference to a running worker.
type Handle struct {
	id       string
	out      chan Message
	shutdown chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	sess      discord.Session
	dialed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	state  State
	opened bool
}

// ID returns the automaton ID.
func (h *Handle) ID() string { return h.id }

// Messages returns the event channel. It is never closed; use Done to
// detect exit.
func (h *Handle) Messages() <-chan Message { return h.out }

// RequestShutdown asks the worker to tear down. Safe to call repeatedly.
func (h *Handle) RequestShutdown() {
	h.stopOnce.Do(func() { close(h.shutdown) })
}

// Terminate cancels the worker's context. Once the gateway dial has
// returned, the session is closed even if a gear call ignores the
// cancellation and keeps the worker goroutine alive, so a terminated worker
// never holds a gateway connection alongside its replacement.
func (h *Handle) Terminate() {
	h.cancel()
	go func() {
		select {
		case <-h.dialed:
		case <-h.done:
			return
		}
		h.mu.Lock()
		open := h.opened
		h.mu.Unlock()
		if open {
			h.closeSession()
		}
	}()
}

// closeSession closes the gateway session at most once.
func (h *Handle) closeSession() error {
	h.closeOnce.Do(func() { h.closeErr = h.sess.Close() })
	return h.closeErr
}

// dialDone records the outcome of the gateway Open.
func (h *Handle) dialDone(opened bool) {
	h.mu.Lock()
	h.opened = opened
	h.mu.Unlock()
	close(h.dialed)
}

// Done is closed when the worker goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Spawn creates the gateway session for opts.Spec and starts the worker
// goroutine. Parent cancellation triggers a graceful teardown; it does not
// cancel gear calls directly.
func Spawn(parent context.Context, opts Opts) (*Handle, error) {
	if opts.Spec.AutomatonID == "" {
		return nil, fmt.Errorf("worker: automaton id is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("worker: gear registry is required")
	}
	if opts.Connect == nil {
		opts.Connect = discord.Dial
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.GearShutdownTimeout <= 0 {
		opts.GearShutdownTimeout = DefaultGearShutdownTimeout
	}
	if opts.BaselineCommand == "" {
		opts.BaselineCommand = DefaultBaselineCommand
	}

	sess, err := opts.Connect(opts.Spec.Token)
	if err != nil {
		return nil, fmt.Errorf("worker: connect %s: %w", opts.Spec.AutomatonID, err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	h := &Handle{
		id:       opts.Spec.AutomatonID,
		out:      make(chan Message, outboxSize),
		shutdown: make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
		sess:     sess,
		dialed:   make(chan struct{}),
		state:    StateConnecting,
	}
	w := &worker{
		opts: opts,
		h:    h,
		ctx:  ctx,
		sess: sess,
		log:  opts.Logger.With(zap.String("automatonId", opts.Spec.AutomatonID)),
	}
	go w.run(parent)
	return h, nil
}

type loadedGear struct {
	key string
	g   gear.Gear
}

type worker struct {
	opts     Opts
	h        *Handle
	ctx      context.Context
	sess     discord.Session
	log      *zap.Logger
	opened   bool
	loaded   []loadedGear
	removers []func()
}

func (w *worker) run(parent context.Context) {
	defer close(w.h.done)
	defer w.h.cancel()

	w.removers = append(w.removers, w.sess.AddHandler(w.onInteraction))

	w.connect()
	w.loadGears()
	if w.stopping(parent) {
		w.teardown()
		return
	}
	w.h.setState(StateRunning)

	select {
	case <-w.h.shutdown:
		w.log.Info("shutdown requested")
	case <-parent.Done():
		w.log.Info("parent context done, shutting down")
	case <-w.ctx.Done():
		w.log.Warn("worker terminated")
	}
	w.teardown()
}

// stopping reports whether any shutdown path has fired.
func (w *worker) stopping(parent context.Context) bool {
	select {
	case <-w.h.shutdown:
		return true
	case <-parent.Done():
		return true
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

func (w *worker) connect() {
	err := w.sess.Open()
	w.h.dialDone(err == nil)
	if err != nil {
		w.log.Error("gateway open failed", zap.Error(err))
		w.emit(Message{Kind: KindError, Err: fmt.Errorf("worker: open gateway: %w", err)})
		return
	}
	w.opened = true
	if w.ctx.Err() != nil {
		return
	}
	w.h.setState(StateReady)
	w.emit(Message{Kind: KindReady})

	cmd := &discordgo.ApplicationCommand{Name: w.opts.BaselineCommand, Description: baselineDescription}
	if _, err := discord.EnsureCommand(w.sess, w.opts.Spec.GuildID, cmd); err != nil {
		w.emit(Message{Kind: KindError, Err: err})
	}

	if w.opts.Spec.GuildID == "" {
		return
	}
	count, err := w.syncMembers()
	if err != nil {
		w.emit(Message{Kind: KindError, Err: err})
		return
	}
	w.emit(Message{Kind: KindMembersSynced, Count: count})
}

// syncMembers pages through the configured guild's member list.
func (w *worker) syncMembers() (int, error) {
	total := 0
	after := ""
	for {
		if w.ctx.Err() != nil {
			return total, w.ctx.Err()
		}
		page, err := w.sess.GuildMembers(w.opts.Spec.GuildID, after, memberPageSize)
		if err != nil {
			return total, fmt.Errorf("worker: fetch members of %s: %w", w.opts.Spec.GuildID, err)
		}
		total += len(page)
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return total, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (w *worker) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if discord.CommandName(i) != w.opts.BaselineCommand {
		return
	}
	if err := discord.Reply(w.sess, i.Interaction, baselineReply); err != nil {
		w.log.Warn("baseline reply failed", zap.Error(err))
	}
}

func (w *worker) loadGears() {
	for _, key := range w.opts.Spec.Gears {
		select {
		case <-w.h.shutdown:
			return
		case <-w.ctx.Done():
			return
		default:
		}

		g, err := w.opts.Registry.New(key)
		if err != nil {
			w.emit(Message{Kind: KindGearError, GearKey: key, Err: err})
			continue
		}
		gctx := gear.Context{
			AutomatonID: w.opts.Spec.AutomatonID,
			GuildID:     w.opts.Spec.GuildID,
			Session:     w.sess,
			Config:      w.opts.Config,
			Logger:      w.log.Named("gear").With(zap.String("gear", key)),
		}
		if err := safeCall(func() error { return g.Init(w.ctx, gctx) }); err != nil {
			w.emit(Message{Kind: KindGearError, GearKey: key, Err: err})
			continue
		}
		w.loaded = append(w.loaded, loadedGear{key: key, g: g})
		w.emit(Message{Kind: KindGearLoaded, GearKey: key})
	}
}

// teardown shuts down gears in load order, closes the session and reports
// completion. It runs at most once per worker.
func (w *worker) teardown() {
	w.h.setState(StateShuttingDown)
	for _, lg := range w.loaded {
		sd, ok := lg.g.(gear.Shutdowner)
		if !ok {
			continue
		}
		if err := w.shutdownGear(sd); err != nil {
			w.emit(Message{Kind: KindGearError, GearKey: lg.key, Err: err})
		}
	}
	for _, remove := range w.removers {
		remove()
	}
	if w.opened {
		if err := w.h.closeSession(); err != nil {
			w.emit(Message{Kind: KindError, Err: fmt.Errorf("worker: close gateway: %w", err)})
		}
	}
	w.h.setState(StateTerminated)
	w.emit(Message{Kind: KindShutdownComplete})
}

var errGearShutdownTimeout = errors.New("worker: gear shutdown timed out")

func (w *worker) shutdownGear(sd gear.Shutdowner) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.opts.GearShutdownTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- safeCall(func() error { return sd.Shutdown(ctx) }) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if w.ctx.Err() != nil {
			return w.ctx.Err()
		}
		return errGearShutdownTimeout
	}
}

// emit sends m to the supervisor unless the worker has been terminated.
func (w *worker) emit(m Message) {
	m.AutomatonID = w.opts.Spec.AutomatonID
	select {
	case w.h.out <- m:
	case <-w.ctx.Done():
	}
}

// safeCall runs fn, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
