package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultPollInterval = time.Second
	defaultMaxFailures  = 10
)

// Source is the subset of Client the poller reads from.
type Source interface {
	Status(ctx context.Context) (json.RawMessage, error)
	Logs(ctx context.Context) (json.RawMessage, error)
}

// Snapshot is the latest observation of the backend.
type Snapshot struct {
	Status    json.RawMessage `json:"status,omitempty"`
	Logs      json.RawMessage `json:"logs,omitempty"`
	Connected bool            `json:"connected"`
	Polling   bool            `json:"polling"`
	Failures  int             `json:"failures"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Sink receives fresh status and log documents.
type Sink func(ctx context.Context, status, logs json.RawMessage)

// PollerOptions tunes a Poller.
type PollerOptions struct {
	Interval    time.Duration
	MaxFailures int
	Logger      *slog.Logger
}

// Poller fetches backend status and logs while a deployment is live. It gives up after
// MaxFailures consecutive failures but leaves the deployment itself untouched.
type Poller struct {
	source      Source
	sink        Sink
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	after func(d time.Duration) <-chan time.Time
	now   func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	snapshot Snapshot
}

// NewPoller constructs an idle poller.
func NewPoller(source Source, sink Sink, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:      source,
		sink:        sink,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger.With("component", "backend_poller"),
		after:       time.After,
		now:         time.Now,
	}
}

// Start begins polling. A running poller is restarted with a fresh failure count.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.snapshot.Failures = 0
	p.snapshot.Polling = true
	go p.run(ctx)
}

// Stop halts polling and marks the backend disconnected.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.snapshot.Polling = false
	p.snapshot.Connected = false
}

// Snapshot returns the latest observation.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

func (p *Poller) run(ctx context.Context) {
	for {
		if !p.tick(ctx) {
			p.logger.Warn("backend unreachable, polling stopped; deployment kept active", "failures", p.maxFailures)
			p.halt(ctx)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.after(p.interval):
		}
	}
}

// tick performs one status and logs fetch. It reports false once the failure budget is spent.
func (p *Poller) tick(ctx context.Context) bool {
	status, statusErr := p.source.Status(ctx)
	logs, logsErr := p.source.Logs(ctx)
	if ctx.Err() != nil {
		return true
	}

	p.mu.Lock()
	snap := &p.snapshot
	if statusErr != nil {
		snap.Failures++
		if !errors.Is(statusErr, ErrNetwork) {
			snap.Connected = false
		}
	} else {
		snap.Status = status
		snap.Connected = connectedFlag(status)
		snap.Failures = 0
	}
	if logsErr != nil {
		if errors.Is(logsErr, ErrNetwork) {
			snap.Failures++
		}
	} else {
		snap.Logs = normalizeLogs(logs)
		snap.Failures = 0
	}
	snap.UpdatedAt = p.now().UTC()
	exhausted := snap.Failures >= p.maxFailures
	fresh := statusErr == nil || logsErr == nil
	current := *snap
	p.mu.Unlock()

	if fresh && p.sink != nil {
		p.sink(ctx, current.Status, current.Logs)
	}
	return !exhausted
}

func (p *Poller) halt(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() == nil {
		p.snapshot.Polling = false
		p.cancel = nil
	}
}

func connectedFlag(status json.RawMessage) bool {
	var doc struct {
		Connected bool `json:"connected"`
	}
	if err := json.Unmarshal(status, &doc); err != nil {
		return false
	}
	return doc.Connected
}

// normalizeLogs accepts both the bare log1..log5 document and one wrapped in "logs".
func normalizeLogs(raw json.RawMessage) json.RawMessage {
	var wrapped struct {
		Logs json.RawMessage `json:"logs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Logs) > 0 {
		var direct map[string]json.RawMessage
		if err := json.Unmarshal(raw, &direct); err == nil {
			if _, ok := direct["log1"]; ok {
				return raw
			}
		}
		return wrapped.Logs
	}
	return raw
}
