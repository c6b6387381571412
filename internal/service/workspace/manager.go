package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/backend"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/endpoint"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/deploy"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/monitor"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/reconcile"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
)

const defaultSessionCheck = 10 * time.Second

// ErrClosed is returned once the manager has shut down.
var ErrClosed = errors.New("workspace: manager closed")

// SessionValidator checks that a login session is still live.
type SessionValidator interface {
	Validate(ctx context.Context, userID, sessionID string) (*auth.Principal, error)
}

// Config carries the shared collaborators every workspace is built from.
type Config struct {
	Pipelines            pipeline.Client
	Store                statestore.Store
	Hub                  *ws.Hub
	Notifier             deploy.Notifier
	History              repository.DeploymentRepository
	Sessions             SessionValidator
	Publisher            auth.SessionPublisher
	Endpoint             endpoint.Options
	Deploy               deploy.Options
	MonitorInterval      time.Duration
	SessionCheckInterval time.Duration
	Poller               backend.PollerOptions
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

// Manager lazily creates one Workspace per user and keeps it for the process lifetime.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	spaces map[string]*Workspace
	closed bool
}

// NewManager constructs a manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = ws.NewHub()
	}
	if cfg.SessionCheckInterval <= 0 {
		cfg.SessionCheckInterval = defaultSessionCheck
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "workspace"),
		ctx:    ctx,
		cancel: cancel,
		spaces: make(map[string]*Workspace),
	}
}

// Open returns the user's workspace, building and restoring it on first use.
// sessionID, when set, becomes the session the workspace validates.
func (m *Manager) Open(ctx context.Context, userID, username, sessionID string) (*Workspace, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	w, ok := m.spaces[userID]
	if !ok {
		w = m.build(userID, username)
		m.spaces[userID] = w
	}
	m.mu.Unlock()

	w.startOnce.Do(func() { w.startErr = m.start(w) })
	if w.startErr != nil {
		m.mu.Lock()
		if m.spaces[userID] == w {
			delete(m.spaces, userID)
		}
		m.mu.Unlock()
		return nil, w.startErr
	}
	w.observeSession(sessionID)
	return w, nil
}

// Lookup returns an already open workspace.
func (m *Manager) Lookup(userID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.spaces[userID]
	return w, ok
}

// PipelineTerminated routes an externally reported terminal status to the workspace
// whose live deployment runs pipelineID. It reports whether one did.
func (m *Manager) PipelineTerminated(ctx context.Context, pipelineID, status string) bool {
	for _, w := range m.list() {
		if w.orch.HandleTermination(ctx, pipelineID, status) {
			return true
		}
	}
	return false
}

// Close stops every workspace.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	spaces := make([]*Workspace, 0, len(m.spaces))
	for _, w := range m.spaces {
		spaces = append(spaces, w)
	}
	m.mu.Unlock()

	m.cancel()
	for _, w := range spaces {
		w.close()
	}
}

func (m *Manager) list() []*Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Workspace, 0, len(m.spaces))
	for _, w := range m.spaces {
		out = append(out, w)
	}
	return out
}

// build wires the components without any I/O.
func (m *Manager) build(userID, username string) *Workspace {
	logger := m.cfg.Logger.With("user_id", userID)
	w := &Workspace{
		UserID:     userID,
		Username:   username,
		store:      m.cfg.Store,
		hub:        m.cfg.Hub,
		sessions:   m.cfg.Sessions,
		publisher:  m.cfg.Publisher,
		logger:     logger.With("component", "workspace"),
		checkEvery: m.cfg.SessionCheckInterval,
		now:        time.Now,
	}
	w.registry = endpoint.New(m.cfg.Store, userID, m.cfg.Endpoint)
	w.backend = backend.NewClient(w.registry, m.cfg.HTTPClient)

	next := m.cfg.Notifier
	if next == nil {
		next = discardNotifier{}
	}
	w.notifier = relay{w: w, next: next}

	pollOpts := m.cfg.Poller
	pollOpts.Logger = logger
	w.poller = backend.NewPoller(w.backend, func(ctx context.Context, status, logs json.RawMessage) {
		now := w.now()
		if len(status) > 0 {
			next.Notify(ctx, domain.Event{UserID: userID, Type: domain.EventBackendStatus, Data: status, CreatedAt: now})
		}
		if len(logs) > 0 {
			next.Notify(ctx, domain.Event{UserID: userID, Type: domain.EventBackendLogs, Data: logs, CreatedAt: now})
		}
	}, pollOpts)

	w.monitor = monitor.New(m.cfg.Pipelines, func(ctx context.Context, pipelineID, status string) {
		w.orch.HandleTermination(ctx, pipelineID, status)
	}, monitor.Options{Interval: m.cfg.MonitorInterval, Logger: logger})

	deployOpts := m.cfg.Deploy
	deployOpts.Logger = logger
	w.orch = deploy.New(userID, username, deploy.Dependencies{
		Pipelines: m.cfg.Pipelines,
		Registry:  w.registry,
		Store:     m.cfg.Store,
		Monitor:   w.monitor,
		Notifier:  w.notifier,
		History:   m.cfg.History,
	}, deployOpts)

	w.reconciler = reconcile.New(m.cfg.Store, userID, w.orch, w.registry, w, logger)
	return w
}

// start restores persisted state and begins following changes.
func (m *Manager) start(w *Workspace) error {
	if err := w.reconciler.Restore(m.ctx); err != nil {
		return err
	}
	stop, err := w.reconciler.Start(m.ctx)
	if err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(m.ctx)
	w.stop = func() {
		cancel()
		stop()
	}
	go w.validateLoop(loopCtx)
	m.logger.Info("workspace opened", "user_id", w.UserID)
	return nil
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, domain.Event) {}
