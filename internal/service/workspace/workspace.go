// Package workspace assembles and owns the per-user deployment components.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/backend"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/endpoint"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/deploy"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/events"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/monitor"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/reconcile"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
)

const disconnectTimeout = 10 * time.Second

// Workspace is one user's live deployment context.
type Workspace struct {
	UserID   string
	Username string

	store      statestore.Store
	hub        *ws.Hub
	notifier   deploy.Notifier
	sessions   SessionValidator
	publisher  auth.SessionPublisher
	registry   *endpoint.Registry
	orch       *deploy.Orchestrator
	monitor    *monitor.Monitor
	reconciler *reconcile.Reconciler
	backend    *backend.Client
	poller     *backend.Poller
	logger     *slog.Logger
	checkEvery time.Duration
	now        func() time.Time

	startOnce sync.Once
	startErr  error
	stop      func()

	mu        sync.Mutex
	sessionID string
}

// Orchestrator returns the deploy orchestrator.
func (w *Workspace) Orchestrator() *deploy.Orchestrator {
	return w.orch
}

// Backend returns a client bound to the user's current endpoint.
func (w *Workspace) Backend() *backend.Client {
	return w.backend
}

// Poller returns the backend status poller.
func (w *Workspace) Poller() *backend.Poller {
	return w.poller
}

// Registry returns the endpoint registry.
func (w *Workspace) Registry() *endpoint.Registry {
	return w.registry
}

// Attach subscribes a client stream to the user's events.
func (w *Workspace) Attach(client ws.Subscriber, meta ws.Meta) {
	w.observeSession(meta.SessionID)
	w.hub.Register(w.UserID, client, meta)
}

// Detach unsubscribes a client stream.
func (w *Workspace) Detach(client ws.Subscriber) {
	w.hub.Unregister(w.UserID, client)
}

// ClaimTab marks tabID as the user's active client; every other tab is closed.
func (w *Workspace) ClaimTab(ctx context.Context, tabID string) error {
	if tabID == "" {
		return errors.New("tab id is required")
	}
	return w.store.Save(ctx, w.UserID, map[string]string{statestore.KeyActiveTab: tabID})
}

// SignOut prepares for logout: the backend is disconnected when connected and local
// deployment state is dropped. The pipeline keeps running.
func (w *Workspace) SignOut(ctx context.Context) {
	if w.poller.Snapshot().Connected {
		dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		if _, err := w.backend.Disconnect(dctx); err != nil {
			w.logger.Warn("disconnect failed during logout", "error", err)
		}
		cancel()
	}
	w.poller.Stop()
	w.orch.Abandon(ctx)
}

// SessionEnded implements reconcile.Listener.
func (w *Workspace) SessionEnded(ctx context.Context, reason string) {
	w.mu.Lock()
	w.sessionID = ""
	w.mu.Unlock()
	n := w.hub.Evict(w.UserID, nil, w.farewell(reason))
	w.logger.Info("session ended", "reason", reason, "streams_closed", n)
}

// SessionReplaced implements reconcile.Listener.
func (w *Workspace) SessionReplaced(ctx context.Context, sessionID, reason string) {
	w.mu.Lock()
	w.sessionID = sessionID
	w.mu.Unlock()
	n := w.hub.Evict(w.UserID, func(m ws.Meta) bool { return m.SessionID != sessionID }, w.farewell(reason))
	if n > 0 {
		w.logger.Info("older session streams closed", "streams_closed", n)
	}
}

// TabClaimed implements reconcile.Listener.
func (w *Workspace) TabClaimed(ctx context.Context, tabID string) {
	w.hub.Evict(w.UserID, func(m ws.Meta) bool { return m.TabID != "" && m.TabID != tabID }, nil)
}

func (w *Workspace) farewell(reason string) []byte {
	payload, err := events.MarshalEvent(domain.Event{
		Type:      domain.EventSessionEnded,
		Message:   reason,
		CreatedAt: w.now().UTC(),
	})
	if err != nil {
		return nil
	}
	return payload
}

func (w *Workspace) observeSession(sessionID string) {
	if sessionID == "" {
		return
	}
	w.mu.Lock()
	w.sessionID = sessionID
	w.mu.Unlock()
}

func (w *Workspace) currentSession() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// validateLoop re-checks the user's session so that revocations made by an admin or
// a newer login reach clients that are only streaming.
func (w *Workspace) validateLoop(ctx context.Context) {
	ticker := time.NewTicker(w.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkSession(ctx)
		}
	}
}

// checkSession validates the current session once. Transient failures keep the session.
func (w *Workspace) checkSession(ctx context.Context) {
	sessionID := w.currentSession()
	if sessionID == "" || w.sessions == nil {
		return
	}
	_, err := w.sessions.Validate(ctx, w.UserID, sessionID)
	if err == nil {
		return
	}
	var invalid *auth.SessionInvalidError
	if !errors.As(err, &invalid) {
		w.logger.Debug("session check failed, keeping session", "error", err)
		return
	}
	w.logger.Info("session invalidated", "reason", invalid.Reason)
	w.poller.Stop()
	w.orch.Abandon(ctx)
	w.mu.Lock()
	if w.sessionID == sessionID {
		w.sessionID = ""
	}
	w.mu.Unlock()
	w.hub.Evict(w.UserID, func(m ws.Meta) bool { return m.SessionID == sessionID || m.SessionID == "" }, w.farewell(invalid.Reason))
	if w.publisher != nil {
		if err := w.publisher.Clear(ctx, w.UserID); err != nil {
			w.logger.Warn("failed to clear session key", "error", err)
		}
	}
}

func (w *Workspace) close() {
	if w.stop != nil {
		w.stop()
	}
	w.monitor.Close()
	w.poller.Stop()
}

// relay forwards orchestrator events and keeps the backend poller in step with the
// deployment status.
type relay struct {
	w    *Workspace
	next deploy.Notifier
}

func (r relay) Notify(ctx context.Context, event domain.Event) {
	if event.Type == domain.EventDeploymentStatus {
		if event.Status == domain.DeploymentDeployed {
			r.w.poller.Start()
		} else {
			r.w.poller.Stop()
		}
	}
	r.next.Notify(ctx, event)
}
