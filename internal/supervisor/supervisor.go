// Package supervisor owns the set of live automaton workers on this node
// and keeps persisted status in step with worker lifecycle events.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/gear"
	"github.com/zulandar/frameforge/internal/models"
	"github.com/zulandar/frameforge/internal/worker"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds the wait for a worker's shutdown ack.
const DefaultShutdownTimeout = 5 * time.Second

// ErrNotFound is returned when the automaton does not exist.
var ErrNotFound = errors.New("supervisor: automaton not found")

// Store persists automaton run state and resolves launch specs.
type Store interface {
	// LoadLaunchSpec returns the decrypted token, guild and enabled gear
	// keys for id, or ErrNotFound.
	LoadLaunchSpec(ctx context.Context, id string) (worker.Spec, error)
	SetStatus(ctx context.Context, id, status string) error
	SetRunState(ctx context.Context, id, status string, desired bool) error
	SetDesired(ctx context.Context, id string, desired bool) error
	ListDesiredRunning(ctx context.Context) ([]string, error)
}

// EventLogger records operator-facing events.
type EventLogger interface {
	Log(ctx context.Context, level, msg string, fields map[string]any) error
}

// Spawner starts a worker. worker.Spawn in production.
type Spawner func(parent context.Context, opts worker.Opts) (*worker.Handle, error)

// Opts holds parameters for creating a Supervisor.
type Opts struct {
	Store               Store
	Events              EventLogger
	Registry            *gear.Registry
	Connect             discord.Connector
	ConfigSource        gear.ConfigSource
	ShutdownTimeout     time.Duration
	GearShutdownTimeout time.Duration
	BaselineCommand     string
	Logger              *zap.Logger
	Spawn               Spawner
	// BaseContext is the parent of every worker. Cancelling it asks all
	// workers to tear down. Defaults to context.Background().
	BaseContext context.Context
}

// Result reports what a lifecycle call did.
type Result struct {
	Started        bool `json:"started,omitempty"`
	AlreadyRunning bool `json:"alreadyRunning,omitempty"`
	Stopped        bool `json:"stopped,omitempty"`
	AlreadyStopped bool `json:"alreadyStopped,omitempty"`
	Skipped        bool `json:"skipped,omitempty"`
}

// ResumeReport summarizes a resume pass.
type ResumeReport struct {
	Started []string          `json:"started"`
	Failed  map[string]string `json:"failed"`
}

// entry is one live worker. removed fences status writes from the pump once
// the entry has left the map.
type entry struct {
	h       *worker.Handle
	ack     chan struct{}
	ackOnce sync.Once

	mu       sync.Mutex
	removed  bool
	stopping bool
}

func (e *entry) signalAck() { e.ackOnce.Do(func() { close(e.ack) }) }

func (e *entry) markStopping() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
}

func (e *entry) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

// fenced runs fn unless the entry has been removed. fn runs under e.mu so a
// removal waits for an in-flight write.
func (e *entry) fenced(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	fn()
}

// Supervisor starts, stops and tracks automaton workers.
type Supervisor struct {
	opts Opts
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry

	locksMu sync.Mutex
	locks   map[string]*idLock
}

// idLock is a per-automaton lifecycle lock, dropped from the map once no
// caller holds or waits on it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Supervisor.
func New(opts Opts) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("supervisor: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("supervisor: gear registry is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Spawn == nil {
		opts.Spawn = worker.Spawn
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Supervisor{
		opts:    opts,
		log:     opts.Logger,
		entries: make(map[string]*entry),
		locks:   make(map[string]*idLock),
	}, nil
}

// lock serializes lifecycle calls for one automaton.
func (s *Supervisor) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *Supervisor) get(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id]
}

// removeIf deletes id from the map only if it still maps to e, and marks e
// removed. It reports whether this call did the removal.
func (s *Supervisor) removeIf(id string, e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	e.removed = true
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return true
}

// IsRunning reports whether a worker is registered for id.
func (s *Supervisor) IsRunning(id string) bool {
	return s.get(id) != nil
}

// Running returns the IDs with a registered worker, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Start launches a worker for id unless one is already registered.
func (s *Supervisor) Start(ctx context.Context, id string) (Result, error) {
	unlock := s.lock(id)
	defer unlock()
	return s.start(ctx, id)
}

func (s *Supervisor) start(ctx context.Context, id string) (Result, error) {
	if s.get(id) != nil {
		if err := s.opts.Store.SetDesired(ctx, id, true); err != nil {
			s.log.Warn("set desired failed", zap.String("automatonId", id), zap.Error(err))
		}
		return Result{AlreadyRunning: true}, nil
	}

	spec, err := s.opts.Store.LoadLaunchSpec(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Result{}, err
	}
	if err != nil {
		s.markError(ctx, id)
		return Result{}, fmt.Errorf("supervisor: start %s: %w", id, err)
	}

	h, err := s.opts.Spawn(s.opts.BaseContext, worker.Opts{
		Spec:                spec,
		Registry:            s.opts.Registry,
		Connect:             s.opts.Connect,
		Config:              s.opts.ConfigSource,
		Logger:              s.log.Named("worker"),
		GearShutdownTimeout: s.opts.GearShutdownTimeout,
		BaselineCommand:     s.opts.BaselineCommand,
	})
	if err != nil {
		s.markError(ctx, id)
		return Result{}, fmt.Errorf("supervisor: spawn %s: %w", id, err)
	}

	e := &entry{h: h, ack: make(chan struct{})}
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()

	// Status is written before the pump starts so a fast worker event is
	// never overwritten by it.
	if err := s.opts.Store.SetRunState(ctx, id, models.StatusRunning, true); err != nil {
		s.log.Warn("set run state failed", zap.String("automatonId", id), zap.Error(err))
	}
	go s.pump(id, e)

	s.event(ctx, models.LevelInfo, "Automaton start requested", map[string]any{"automatonId": id})
	return Result{Started: true}, nil
}

// Stop shuts down the worker for id, waiting at most ShutdownTimeout for
// its acknowledgment before terminating it.
func (s *Supervisor) Stop(ctx context.Context, id string) (Result, error) {
	unlock := s.lock(id)
	defer unlock()
	return s.stop(ctx, id)
}

func (s *Supervisor) stop(ctx context.Context, id string) (Result, error) {
	e := s.get(id)
	if e == nil {
		if err := s.opts.Store.SetRunState(ctx, id, models.StatusStopped, false); err != nil {
			return Result{}, fmt.Errorf("supervisor: stop %s: %w", id, err)
		}
		s.event(ctx, models.LevelInfo, "Automaton marked stopped (no worker)", map[string]any{"automatonId": id})
		return Result{AlreadyStopped: true}, nil
	}

	s.halt(id, e)
	if err := s.opts.Store.SetRunState(ctx, id, models.StatusStopped, false); err != nil {
		s.log.Warn("set run state failed", zap.String("automatonId", id), zap.Error(err))
	}
	s.event(ctx, models.LevelInfo, "Automaton stopped by request", map[string]any{"automatonId": id})
	return Result{Stopped: true}, nil
}

// halt runs the shutdown handshake for e and removes it. The wait is
// bounded by ShutdownTimeout regardless of any caller context.
func (s *Supervisor) halt(id string, e *entry) {
	e.markStopping()
	e.h.RequestShutdown()

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-e.ack:
	case <-e.h.Done():
	case <-timer.C:
		s.log.Warn("worker shutdown timed out, terminating",
			zap.String("automatonId", id), zap.Duration("timeout", s.opts.ShutdownTimeout))
	}
	e.h.Terminate()
	s.removeIf(id, e)
}

// Restart stops and starts a running automaton. A stopped automaton is
// left alone.
func (s *Supervisor) Restart(ctx context.Context, id string) (Result, error) {
	unlock := s.lock(id)
	defer unlock()

	if s.get(id) == nil {
		return Result{Skipped: true}, nil
	}
	if _, err := s.stop(ctx, id); err != nil {
		return Result{}, err
	}
	res, err := s.start(ctx, id)
	if err != nil {
		return Result{Stopped: true}, err
	}
	res.Stopped = true
	return res, nil
}

// Resume starts every automaton whose desired state is running. Failures
// are recorded per automaton and never returned.
func (s *Supervisor) Resume(ctx context.Context) ResumeReport {
	report := ResumeReport{Failed: map[string]string{}}
	ids, err := s.opts.Store.ListDesiredRunning(ctx)
	if err != nil {
		s.event(ctx, models.LevelError, "Failed to list automatons for resume", map[string]any{"error": err.Error()})
		return report
	}
	for _, id := range ids {
		if _, err := s.Start(ctx, id); err != nil {
			s.markError(ctx, id)
			s.event(ctx, models.LevelError, "Failed to resume automaton", map[string]any{
				"automatonId": id,
				"error":       err.Error(),
			})
			report.Failed[id] = err.Error()
			continue
		}
		report.Started = append(report.Started, id)
	}
	return report
}

// Shutdown stops every worker for process exit. Desired state is kept so
// the next Resume restarts them.
func (s *Supervisor) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range s.Running() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			unlock := s.lock(id)
			defer unlock()
			e := s.get(id)
			if e == nil {
				return
			}
			s.halt(id, e)
			if err := s.opts.Store.SetStatus(ctx, id, models.StatusStopped); err != nil {
				s.log.Warn("set status failed", zap.String("automatonId", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
	s.log.Info("supervisor shut down")
}

// pump relays worker events to the event log and store until the worker
// exits.
func (s *Supervisor) pump(id string, e *entry) {
	ctx := context.Background()
	for {
		select {
		case m := <-e.h.Messages():
			s.handle(ctx, id, e, m)
		case <-e.h.Done():
			s.drain(ctx, id, e)
			e.signalAck()
			if !e.isStopping() {
				s.exited(ctx, id, e)
			}
			return
		}
	}
}

func (s *Supervisor) drain(ctx context.Context, id string, e *entry) {
	for {
		select {
		case m := <-e.h.Messages():
			s.handle(ctx, id, e, m)
		default:
			return
		}
	}
}

// exited handles a worker that ended without a stop request.
func (s *Supervisor) exited(ctx context.Context, id string, e *entry) {
	unlock := s.lock(id)
	defer unlock()
	if !s.removeIf(id, e) {
		return
	}
	if err := s.opts.Store.SetStatus(ctx, id, models.StatusStopped); err != nil {
		s.log.Warn("set status failed", zap.String("automatonId", id), zap.Error(err))
	}
	s.event(ctx, models.LevelInfo, "Automaton stopped", map[string]any{"automatonId": id})
}

func (s *Supervisor) handle(ctx context.Context, id string, e *entry, m worker.Message) {
	fields := map[string]any{"automatonId": id}
	switch m.Kind {
	case worker.KindReady:
		e.fenced(func() {
			if err := s.opts.Store.SetStatus(ctx, id, models.StatusRunning); err != nil {
				s.log.Warn("set status failed", zap.String("automatonId", id), zap.Error(err))
			}
		})
		s.event(ctx, models.LevelInfo, "Automaton ready", fields)
	case worker.KindMembersSynced:
		fields["count"] = m.Count
		s.event(ctx, models.LevelInfo, "Automaton members synced", fields)
	case worker.KindGearLoaded:
		fields["gearKey"] = m.GearKey
		s.event(ctx, models.LevelInfo, "Gear loaded", fields)
	case worker.KindGearError:
		fields["gearKey"] = m.GearKey
		fields["error"] = errString(m.Err)
		s.event(ctx, models.LevelWarn, "Gear load failed", fields)
	case worker.KindError:
		e.fenced(func() {
			if err := s.opts.Store.SetStatus(ctx, id, models.StatusError); err != nil {
				s.log.Warn("set status failed", zap.String("automatonId", id), zap.Error(err))
			}
		})
		fields["error"] = errString(m.Err)
		s.event(ctx, models.LevelError, "Automaton error", fields)
	case worker.KindShutdownComplete:
		e.signalAck()
	}
}

func (s *Supervisor) markError(ctx context.Context, id string) {
	if err := s.opts.Store.SetStatus(ctx, id, models.StatusError); err != nil {
		s.log.Warn("set status failed", zap.String("automatonId", id), zap.Error(err))
	}
}

func (s *Supervisor) event(ctx context.Context, level, msg string, fields map[string]any) {
	if s.opts.Events == nil {
		s.log.Info(msg, zap.Any("fields", fields))
		return
	}
	if err := s.opts.Events.Log(ctx, level, msg, fields); err != nil {
		s.log.Warn("event log failed", zap.String("message", msg), zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
