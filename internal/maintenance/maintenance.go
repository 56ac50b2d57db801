// Package maintenance runs scheduled housekeeping: expired panel sessions
// and event log entries past retention are deleted.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/frameforge/internal/eventlog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SessionPurger deletes expired sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Opts holds parameters for creating a Runner.
type Opts struct {
	DB        *gorm.DB
	Sessions  SessionPurger
	Schedule  string        // 5-field cron expression
	Retention time.Duration // log entries older than this are pruned; 0 keeps all
	Logger    *zap.Logger
	Now       func() time.Time
}

// Report counts the rows removed by one pass.
type Report struct {
	Sessions int64
	Logs     int64
}

// Runner executes housekeeping passes on a cron schedule.
type Runner struct {
	opts  Opts
	sched cron.Schedule
	log   *zap.Logger
}

// New validates opts and parses the schedule.
func New(opts Opts) (*Runner, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("maintenance: db is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("maintenance: sessions are required")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("maintenance: schedule %q: %w", opts.Schedule, err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, sched: sched, log: opts.Logger}, nil
}

// Next returns the next scheduled run after t.
func (r *Runner) Next(t time.Time) time.Time { return r.sched.Next(t) }

// RunOnce performs a single housekeeping pass. Both steps run even when
// the first fails; the first error is returned.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	var firstErr error

	n, err := r.opts.Sessions.PurgeExpired(ctx)
	if err != nil {
		firstErr = fmt.Errorf("maintenance: %w", err)
	}
	rep.Sessions = n

	if r.opts.Retention > 0 {
		n, err := eventlog.Prune(ctx, r.opts.DB, r.opts.Now().Add(-r.opts.Retention))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("maintenance: %w", err)
		}
		rep.Logs = n
	}
	return rep, firstErr
}

// Run executes passes on the schedule until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(r.sched, cron.FuncJob(func() {
		rep, err := r.RunOnce(ctx)
		if err != nil {
			r.log.Warn("maintenance pass failed", zap.Error(err))
			return
		}
		if rep.Sessions > 0 || rep.Logs > 0 {
			r.log.Info("maintenance pass complete",
				zap.Int64("sessions", rep.Sessions),
				zap.Int64("logs", rep.Logs))
		}
	}))
	c.Start()
	r.log.Info("maintenance scheduled", zap.String("schedule", r.opts.Schedule),
		zap.Time("next", r.sched.Next(r.opts.Now())))

	<-ctx.Done()
	<-c.Stop().Done()
}
