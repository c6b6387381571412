package janitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type cutoffRecorder struct {
	cutoff time.Time
	n      int64
	err    error
}

func (c *cutoffRecorder) DeleteSessionsBefore(_ context.Context, before time.Time) (int64, error) {
	c.cutoff = before
	return c.n, c.err
}

func (c *cutoffRecorder) DeleteEventsBefore(_ context.Context, before time.Time) (int64, error) {
	c.cutoff = before
	return c.n, c.err
}

type cleaner struct {
	maxAge time.Duration
}

func (c *cleaner) Cleanup(maxAge time.Duration) { c.maxAge = maxAge }

func newTestJanitor(sessions SessionPruner, events EventPruner, attempts AttemptCleaner, opts Options) *Janitor {
	j := New(sessions, events, attempts, opts, slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})))
	j.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return j
}

func TestRunPrunesWithRetentionCutoffs(t *testing.T) {
	sessions := &cutoffRecorder{n: 3}
	events := &cutoffRecorder{n: 7}
	attempts := &cleaner{}
	j := newTestJanitor(sessions, events, attempts, Options{SessionRetention: 48 * time.Hour, EventRetention: time.Hour})

	report, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Sessions != 3 || report.Events != 7 {
		t.Fatalf("unexpected report %+v", report)
	}
	if want := time.Date(2025, 2, 27, 12, 0, 0, 0, time.UTC); !sessions.cutoff.Equal(want) {
		t.Fatalf("session cutoff = %s, want %s", sessions.cutoff, want)
	}
	if want := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC); !events.cutoff.Equal(want) {
		t.Fatalf("event cutoff = %s, want %s", events.cutoff, want)
	}
	if attempts.maxAge != attemptMaxAge {
		t.Fatalf("expected attempt cleanup, got %s", attempts.maxAge)
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	boom := errors.New("db down")
	sessions := &cutoffRecorder{err: boom}
	events := &cutoffRecorder{n: 2}
	j := newTestJanitor(sessions, events, nil, Options{SessionRetention: time.Hour, EventRetention: time.Hour})

	report, err := j.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected session error, got %v", err)
	}
	if report.Events != 2 {
		t.Fatalf("expected events to be pruned anyway, got %+v", report)
	}
}

func TestZeroRetentionSkipsPruning(t *testing.T) {
	sessions := &cutoffRecorder{n: 1}
	j := newTestJanitor(sessions, nil, nil, Options{})
	report, err := j.Run(context.Background())
	if err != nil || report.Sessions != 0 || !sessions.cutoff.IsZero() {
		t.Fatalf("expected no pruning, report=%+v err=%v", report, err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := newTestJanitor(nil, nil, nil, Options{Schedule: "not a schedule"})
	if err := j.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
