// Package janitor prunes expired sessions, old events and stale attempt counters on a
// cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultSchedule = "@every 15m"
	attemptMaxAge   = time.Hour
	runTimeout      = time.Minute
)

// SessionPruner deletes sessions that ended before a cutoff.
type SessionPruner interface {
	DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventPruner deletes events created before a cutoff.
type EventPruner interface {
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// AttemptCleaner forgets attempt history older than maxAge.
type AttemptCleaner interface {
	Cleanup(maxAge time.Duration)
}

// Options configures retention and scheduling.
type Options struct {
	Schedule         string
	SessionRetention time.Duration
	EventRetention   time.Duration
}

// Report summarises one sweep.
type Report struct {
	Sessions int64
	Events   int64
}

// Janitor runs periodic cleanup.
type Janitor struct {
	sessions SessionPruner
	events   EventPruner
	attempts AttemptCleaner
	opts     Options
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// New constructs a janitor. Any pruner may be nil.
func New(sessions SessionPruner, events EventPruner, attempts AttemptCleaner, opts Options, logger *slog.Logger) *Janitor {
	if opts.Schedule == "" {
		opts.Schedule = defaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		sessions: sessions,
		events:   events,
		attempts: attempts,
		opts:     opts,
		logger:   logger.With("component", "janitor"),
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules the sweep and starts the cron runner.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.opts.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := j.Run(ctx); err != nil {
			j.logger.Warn("cleanup sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", j.opts.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.opts.Schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Run performs one sweep. Every step runs even when an earlier one fails; the first
// error is returned.
func (j *Janitor) Run(ctx context.Context) (Report, error) {
	var (
		report   Report
		firstErr error
	)
	now := j.now()
	if j.sessions != nil && j.opts.SessionRetention > 0 {
		n, err := j.sessions.DeleteSessionsBefore(ctx, now.Add(-j.opts.SessionRetention))
		if err != nil {
			firstErr = fmt.Errorf("prune sessions: %w", err)
		}
		report.Sessions = n
	}
	if j.events != nil && j.opts.EventRetention > 0 {
		n, err := j.events.DeleteEventsBefore(ctx, now.Add(-j.opts.EventRetention))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("prune events: %w", err)
		}
		report.Events = n
	}
	if j.attempts != nil {
		j.attempts.Cleanup(attemptMaxAge)
	}
	if report.Sessions > 0 || report.Events > 0 {
		j.logger.Info("cleanup sweep", "sessions", report.Sessions, "events", report.Events)
	}
	return report, firstErr
}
