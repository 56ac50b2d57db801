package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/frameforge/internal/discord"
	"github.com/zulandar/frameforge/internal/gear"
	"github.com/zulandar/frameforge/internal/models"
	"github.com/zulandar/frameforge/internal/worker"
)

type automatonRow struct {
	status  string
	desired bool
	gears   []string
	loadErr error
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*automatonRow
	loadErr error
	listErr error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{rows: map[string]*automatonRow{}}
	for _, id := range ids {
		s.rows[id] = &automatonRow{status: models.StatusStopped}
	}
	return s
}

func (s *memStore) LoadLaunchSpec(ctx context.Context, id string) (worker.Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return worker.Spec{}, ErrNotFound
	}
	if s.loadErr != nil {
		return worker.Spec{}, s.loadErr
	}
	if row.loadErr != nil {
		return worker.Spec{}, row.loadErr
	}
	return worker.Spec{AutomatonID: id, Token: "tok-" + id, Gears: row.gears}, nil
}

func (s *memStore) SetStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.status = status
	}
	return nil
}

func (s *memStore) SetRunState(ctx context.Context, id, status string, desired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.status = status
		row.desired = desired
	}
	return nil
}

func (s *memStore) SetDesired(ctx context.Context, id string, desired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.desired = desired
	}
	return nil
}

func (s *memStore) ListDesiredRunning(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var ids []string
	for id, row := range s.rows {
		if row.desired {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) row(id string) automatonRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

type recordedEvent struct {
	level, msg string
	fields     map[string]any
}

type memEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *memEvents) Log(ctx context.Context, level, msg string, fields map[string]any) error {
	e.mu.Lock()
	e.events = append(e.events, recordedEvent{level, msg, fields})
	e.mu.Unlock()
	return nil
}

func (e *memEvents) has(msg string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.msg == msg {
			return true
		}
	}
	return false
}

// sessions hands out a fresh mock session per connect.
type sessions struct {
	mu   sync.Mutex
	all  []*discord.MockSession
	open error
}

func (s *sessions) connect(token string) (discord.Session, error) {
	m := discord.NewMockSession()
	m.OpenErr = s.open
	s.mu.Lock()
	s.all = append(s.all, m)
	s.mu.Unlock()
	return m, nil
}

func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

// stuckGear ignores its shutdown deadline.
type stuckGear struct{ wait time.Duration }

func (g *stuckGear) Manifest() gear.Manifest {
	return gear.Manifest{Key: "test.stuck", Name: "Stuck"}
}
func (g *stuckGear) Init(ctx context.Context, gctx gear.Context) error { return nil }
func (g *stuckGear) Shutdown(ctx context.Context) error {
	time.Sleep(g.wait)
	return nil
}

type harness struct {
	sup    *Supervisor
	store  *memStore
	events *memEvents
	sess   *sessions
}

func newHarness(t *testing.T, store *memStore, opts Opts) *harness {
	t.Helper()
	h := &harness{store: store, events: &memEvents{}, sess: &sessions{}}
	opts.Store = store
	opts.Events = h.events
	opts.Connect = h.sess.connect
	if opts.Registry == nil {
		opts.Registry = gear.NewRegistry()
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = time.Second
	}
	if opts.GearShutdownTimeout == 0 {
		opts.GearShutdownTimeout = 50 * time.Millisecond
	}
	sup, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sup = sup
	t.Cleanup(func() { sup.Shutdown(context.Background()) })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Registry: gear.NewRegistry()}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := New(Opts{Store: newMemStore()}); err == nil {
		t.Error("expected error without registry")
	}
}

func TestStart_RegistersWorker(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	ctx := context.Background()

	res, err := h.sup.Start(ctx, "a1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.Started {
		t.Errorf("Result = %+v, want Started", res)
	}
	if !h.sup.IsRunning("a1") {
		t.Error("IsRunning = false after Start")
	}
	row := h.store.row("a1")
	if row.status != models.StatusRunning || !row.desired {
		t.Errorf("row = %+v, want running/desired", row)
	}
	waitFor(t, "ready event", func() bool { return h.events.has("Automaton ready") })
	if !h.events.has("Automaton start requested") {
		t.Error("missing start requested event")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	ctx := context.Background()

	if _, err := h.sup.Start(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	res, err := h.sup.Start(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyRunning || res.Started {
		t.Errorf("Result = %+v, want AlreadyRunning", res)
	}
	if h.sess.count() != 1 {
		t.Errorf("connects = %d, want 1", h.sess.count())
	}
}

func TestStart_ConcurrentCallsSpawnOnce(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sup.Start(context.Background(), "a1")
		}()
	}
	wg.Wait()
	if h.sess.count() != 1 {
		t.Errorf("connects = %d, want 1", h.sess.count())
	}
}

func TestStart_NotFound(t *testing.T) {
	h := newHarness(t, newMemStore(), Opts{})
	_, err := h.sup.Start(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStart_LaunchSpecErrorMarksError(t *testing.T) {
	store := newMemStore("a1")
	store.loadErr = errors.New("decrypt failed")
	h := newHarness(t, store, Opts{})

	if _, err := h.sup.Start(context.Background(), "a1"); err == nil {
		t.Fatal("expected error")
	}
	if got := store.row("a1").status; got != models.StatusError {
		t.Errorf("status = %q, want error", got)
	}
	if h.sup.IsRunning("a1") {
		t.Error("worker registered after failed start")
	}
}

func TestStart_OpenFailureSetsErrorStatus(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	h.sess.open = errors.New("gateway refused")

	if _, err := h.sup.Start(context.Background(), "a1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "error status", func() bool { return h.store.row("a1").status == models.StatusError })
	if !h.events.has("Automaton error") {
		t.Error("missing error event")
	}
}

func TestStop_RunningWorker(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	ctx := context.Background()
	h.sup.Start(ctx, "a1")

	res, err := h.sup.Stop(ctx, "a1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !res.Stopped {
		t.Errorf("Result = %+v, want Stopped", res)
	}
	if h.sup.IsRunning("a1") {
		t.Error("still running after Stop")
	}
	row := h.store.row("a1")
	if row.status != models.StatusStopped || row.desired {
		t.Errorf("row = %+v, want stopped/not desired", row)
	}
	if !h.events.has("Automaton stopped by request") {
		t.Error("missing stopped event")
	}
	h.sess.mu.Lock()
	closed := h.sess.all[0].CloseCount()
	h.sess.mu.Unlock()
	if closed != 1 {
		t.Errorf("session closed %d times, want 1", closed)
	}
}

func TestStop_NoWorker(t *testing.T) {
	store := newMemStore("a1")
	store.rows["a1"].desired = true
	store.rows["a1"].status = models.StatusRunning
	h := newHarness(t, store, Opts{})

	res, err := h.sup.Stop(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyStopped {
		t.Errorf("Result = %+v, want AlreadyStopped", res)
	}
	row := store.row("a1")
	if row.status != models.StatusStopped || row.desired {
		t.Errorf("row = %+v, want stopped/not desired", row)
	}
	if !h.events.has("Automaton marked stopped (no worker)") {
		t.Error("missing event")
	}
}

func TestStop_TimeoutTerminates(t *testing.T) {
	reg := gear.NewRegistry()
	reg.MustRegister(func() gear.Gear { return &stuckGear{wait: 2 * time.Second} })
	store := newMemStore("a1")
	store.rows["a1"].gears = []string{"test.stuck"}
	h := newHarness(t, store, Opts{
		Registry:            reg,
		ShutdownTimeout:     50 * time.Millisecond,
		GearShutdownTimeout: 5 * time.Second,
	})
	ctx := context.Background()
	h.sup.Start(ctx, "a1")
	waitFor(t, "gear loaded", func() bool { return h.events.has("Gear loaded") })

	start := time.Now()
	res, err := h.sup.Stop(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stopped {
		t.Errorf("Result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, want bounded by timeout", elapsed)
	}
	if h.sup.IsRunning("a1") {
		t.Error("still running after timed-out Stop")
	}
	if got := store.row("a1").status; got != models.StatusStopped {
		t.Errorf("status = %q, want stopped", got)
	}
}

func TestStop_LateEventsDoNotOverwriteStatus(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	ctx := context.Background()
	h.sup.Start(ctx, "a1")
	h.sup.Stop(ctx, "a1")

	time.Sleep(50 * time.Millisecond)
	if got := h.store.row("a1").status; got != models.StatusStopped {
		t.Errorf("status = %q after stop, want stopped", got)
	}
}

func TestRestart(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	ctx := context.Background()

	res, err := h.sup.Restart(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("Restart of stopped = %+v, want Skipped", res)
	}

	h.sup.Start(ctx, "a1")
	res, err = h.sup.Restart(ctx, "a1")
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !res.Stopped || !res.Started {
		t.Errorf("Result = %+v, want Stopped and Started", res)
	}
	if h.sess.count() != 2 {
		t.Errorf("connects = %d, want 2", h.sess.count())
	}
	row := h.store.row("a1")
	if row.status != models.StatusRunning || !row.desired {
		t.Errorf("row = %+v, want running/desired", row)
	}
}

func TestResume(t *testing.T) {
	store := newMemStore("a1", "a2", "a3")
	store.rows["a1"].desired = true
	store.rows["a2"].desired = true
	h := newHarness(t, store, Opts{})

	report := h.sup.Resume(context.Background())
	if len(report.Started) != 2 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want 2 started", report)
	}
	if got := fmt.Sprint(h.sup.Running()); got != "[a1 a2]" {
		t.Errorf("Running() = %s, want [a1 a2]", got)
	}
	if h.sup.IsRunning("a3") {
		t.Error("a3 started without desired state")
	}
	if row := store.row("a3"); row.status != models.StatusStopped || row.desired {
		t.Errorf("a3 = %+v, want untouched stopped row", row)
	}
}

func TestResume_OneFailureLeavesOthersRunning(t *testing.T) {
	store := newMemStore("a1", "a2", "a3", "x")
	for _, id := range []string{"a1", "a2", "a3"} {
		store.rows[id].desired = true
	}
	store.rows["a2"].loadErr = errors.New("cannot decrypt token")
	h := newHarness(t, store, Opts{})

	report := h.sup.Resume(context.Background())
	if got := fmt.Sprint(h.sup.Running()); got != "[a1 a3]" {
		t.Errorf("Running() = %s, want [a1 a3]", got)
	}
	if len(report.Started) != 2 {
		t.Errorf("Started = %v, want 2 entries", report.Started)
	}
	if _, ok := report.Failed["a2"]; !ok || len(report.Failed) != 1 {
		t.Errorf("Failed = %v, want only a2", report.Failed)
	}
	if got := store.row("a2").status; got != models.StatusError {
		t.Errorf("a2 status = %q, want error", got)
	}
	for _, id := range []string{"a1", "a3"} {
		if got := store.row(id).status; got != models.StatusRunning {
			t.Errorf("%s status = %q, want running", id, got)
		}
	}
	if h.sup.IsRunning("x") {
		t.Error("x started without desired state")
	}
	if got := store.row("x").status; got != models.StatusStopped {
		t.Errorf("x status = %q, want stopped", got)
	}
	if !h.events.has("Failed to resume automaton") {
		t.Error("missing resume failure event")
	}
}

func TestResume_FailureIsolated(t *testing.T) {
	store := newMemStore("a1")
	store.rows["a1"].desired = true
	store.loadErr = errors.New("bad key")
	h := newHarness(t, store, Opts{})

	report := h.sup.Resume(context.Background())
	if _, ok := report.Failed["a1"]; !ok {
		t.Errorf("report = %+v, want a1 failed", report)
	}
	if got := store.row("a1").status; got != models.StatusError {
		t.Errorf("status = %q, want error", got)
	}
	if !h.events.has("Failed to resume automaton") {
		t.Error("missing resume failure event")
	}
}

func TestResume_ListError(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db down")
	h := newHarness(t, store, Opts{})

	report := h.sup.Resume(context.Background())
	if len(report.Started) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestShutdown_KeepsDesired(t *testing.T) {
	h := newHarness(t, newMemStore("a1", "a2"), Opts{})
	ctx := context.Background()
	h.sup.Start(ctx, "a1")
	h.sup.Start(ctx, "a2")

	h.sup.Shutdown(ctx)
	if len(h.sup.Running()) != 0 {
		t.Errorf("Running() = %v after Shutdown", h.sup.Running())
	}
	for _, id := range []string{"a1", "a2"} {
		row := h.store.row(id)
		if row.status != models.StatusStopped || !row.desired {
			t.Errorf("%s = %+v, want stopped and still desired", id, row)
		}
	}
}

func TestWorkerExit_MarksStopped(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	h := newHarness(t, newMemStore("a1"), Opts{BaseContext: base})
	h.sup.Start(context.Background(), "a1")
	waitFor(t, "ready", func() bool { return h.events.has("Automaton ready") })

	// Cancelling the base context makes the worker exit without a stop request.
	cancel()
	waitFor(t, "worker removal", func() bool { return !h.sup.IsRunning("a1") })
	waitFor(t, "stopped status", func() bool { return h.store.row("a1").status == models.StatusStopped })
	if !h.store.row("a1").desired {
		t.Error("desired cleared on self exit")
	}
	if !h.events.has("Automaton stopped") {
		t.Error("missing stopped event")
	}
}

func TestStartStop_ConcurrentEndsConsistent(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("a%d", i)
		h := newHarness(t, newMemStore(id), Opts{})
		if _, err := h.sup.Start(ctx, id); err != nil {
			t.Fatalf("Start: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.sup.Stop(ctx, id)
		}()
		go func() {
			defer wg.Done()
			h.sup.Start(ctx, id)
		}()
		wg.Wait()

		running := h.sup.IsRunning(id)
		row := h.store.row(id)
		switch {
		case running && row.status != models.StatusRunning:
			t.Fatalf("iteration %d: handle present with status %q", i, row.status)
		case !running && row.status != models.StatusStopped:
			t.Fatalf("iteration %d: no handle with status %q", i, row.status)
		}
		if n := len(h.sup.Running()); n > 1 {
			t.Fatalf("iteration %d: %d handles", i, n)
		}
	}
}

func TestLifecycleLocksAreReleased(t *testing.T) {
	h := newHarness(t, newMemStore("a1"), Opts{})
	ctx := context.Background()

	h.sup.Stop(ctx, "gone")
	h.sup.Restart(ctx, "gone")
	h.sup.Start(ctx, "gone")
	h.sup.Start(ctx, "a1")
	h.sup.Restart(ctx, "a1")
	h.sup.Stop(ctx, "a1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sup.Stop(ctx, "a1")
		}()
	}
	wg.Wait()

	h.sup.locksMu.Lock()
	n := len(h.sup.locks)
	h.sup.locksMu.Unlock()
	if n != 0 {
		t.Errorf("%d lifecycle locks left, want 0", n)
	}
}
