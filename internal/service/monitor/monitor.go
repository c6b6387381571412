// Package monitor watches a deployed pipeline and reports when it stops on its own.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

const (
	defaultInterval = 10 * time.Second
	checkTimeout    = 15 * time.Second
)

// StatusSource reads pipeline status.
type StatusSource interface {
	Status(ctx context.Context, pipelineID string) (domain.PipelineRun, error)
}

// TerminalFunc is invoked once when the watched pipeline reaches a terminal status.
type TerminalFunc func(ctx context.Context, pipelineID, status string)

// Options tunes a Monitor.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Monitor polls one pipeline at a time. Start and Stop are safe to call repeatedly and
// from within the terminal callback.
type Monitor struct {
	source     StatusSource
	onTerminal TerminalFunc
	interval   time.Duration
	logger     *slog.Logger

	after func(d time.Duration) <-chan time.Time

	mu         sync.Mutex
	pipelineID string
	cancel     context.CancelFunc
	closed     bool
}

// New constructs an idle monitor.
func New(source StatusSource, onTerminal TerminalFunc, opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:     source,
		onTerminal: onTerminal,
		interval:   interval,
		logger:     logger.With("component", "monitor"),
		after:      time.After,
	}
}

// Start begins watching pipelineID. Watching the same id again is a no-op; a different
// id replaces the current watch.
func (m *Monitor) Start(pipelineID string) {
	if pipelineID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.cancel != nil {
		if m.pipelineID == pipelineID {
			return
		}
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.pipelineID = pipelineID
	m.cancel = cancel
	go m.run(ctx, pipelineID)
}

// Stop ends the current watch, if any.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Close stops the monitor permanently.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.closed = true
}

// Watching returns the pipeline currently watched, or "".
func (m *Monitor) Watching() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelineID
}

func (m *Monitor) stopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.logger.Info("liveness monitor stopped", "pipeline_id", m.pipelineID)
	}
	m.cancel = nil
	m.pipelineID = ""
}

func (m *Monitor) run(ctx context.Context, pipelineID string) {
	m.logger.Info("liveness monitor started", "pipeline_id", pipelineID, "interval", m.interval)
	for {
		if m.checkOnce(ctx, pipelineID) {
			m.release(pipelineID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-m.after(m.interval):
		}
	}
}

// checkOnce reports whether the pipeline has terminated. Query failures are ignored.
func (m *Monitor) checkOnce(parent context.Context, pipelineID string) bool {
	timeout := checkTimeout
	if m.interval < timeout {
		timeout = m.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run, err := m.source.Status(opCtx, pipelineID)
	if err != nil {
		if parent.Err() == nil {
			m.logger.Debug("pipeline status check failed", "pipeline_id", pipelineID, "error", err)
		}
		return false
	}
	if !run.Terminal() {
		return false
	}
	if parent.Err() != nil {
		return true
	}
	m.logger.Warn("pipeline terminated outside the panel", "pipeline_id", pipelineID, "status", run.Status)
	if m.onTerminal != nil {
		m.onTerminal(context.WithoutCancel(parent), pipelineID, run.Status)
	}
	return true
}

// release clears the watch if it still belongs to pipelineID.
func (m *Monitor) release(pipelineID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipelineID == pipelineID && m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.pipelineID = ""
	}
}
