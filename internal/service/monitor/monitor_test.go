package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

type scriptedSource struct {
	mu       sync.Mutex
	statuses []string
	calls    int
}

func (s *scriptedSource) Status(ctx context.Context, pipelineID string) (domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	status := s.statuses[idx]
	if status == "error" {
		return domain.PipelineRun{}, errors.New("network down")
	}
	return domain.PipelineRun{ID: pipelineID, Status: status}, nil
}

type terminalCall struct {
	pipelineID string
	status     string
}

func newTestMonitor(source StatusSource, calls chan terminalCall) *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	m := New(source, func(_ context.Context, pipelineID, status string) {
		calls <- terminalCall{pipelineID: pipelineID, status: status}
	}, Options{Interval: time.Second, Logger: logger})
	m.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return m
}

func TestCheckOnceIgnoresTransientErrors(t *testing.T) {
	calls := make(chan terminalCall, 1)
	m := newTestMonitor(&scriptedSource{statuses: []string{"error", "running", "canceled"}}, calls)
	ctx := context.Background()

	if m.checkOnce(ctx, "9") {
		t.Fatalf("expected transient error to be ignored")
	}
	if m.checkOnce(ctx, "9") {
		t.Fatalf("expected running pipeline to keep the watch")
	}
	if !m.checkOnce(ctx, "9") {
		t.Fatalf("expected canceled pipeline to end the watch")
	}
	select {
	case call := <-calls:
		if call.pipelineID != "9" || call.status != domain.PipelineCanceled {
			t.Fatalf("unexpected terminal call %+v", call)
		}
	default:
		t.Fatalf("expected terminal callback")
	}
}

func TestMonitorReportsTerminationOnce(t *testing.T) {
	calls := make(chan terminalCall, 4)
	source := &scriptedSource{statuses: []string{"running", "error", "running", "failed"}}
	m := newTestMonitor(source, calls)

	m.Start("42")
	m.Start("42")

	select {
	case call := <-calls:
		if call.status != domain.PipelineFailed {
			t.Fatalf("expected failed status, got %q", call.status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for termination")
	}

	deadline := time.Now().Add(time.Second)
	for m.Watching() != "" {
		if time.Now().After(deadline) {
			t.Fatalf("expected watch to be released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case call := <-calls:
		t.Fatalf("unexpected second callback %+v", call)
	default:
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	calls := make(chan terminalCall, 1)
	m := newTestMonitor(&scriptedSource{statuses: []string{"running"}}, calls)
	m.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	m.Stop()
	m.Start("7")
	if m.Watching() != "7" {
		t.Fatalf("expected pipeline 7 to be watched")
	}
	m.Stop()
	m.Stop()
	if m.Watching() != "" {
		t.Fatalf("expected no watch after stop")
	}

	m.Close()
	m.Start("8")
	if m.Watching() != "" {
		t.Fatalf("expected closed monitor to ignore start")
	}
}
