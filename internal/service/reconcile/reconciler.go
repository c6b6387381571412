// Package reconcile keeps a user's in-memory deployment and session state in step
// with changes made by other replicas and clients.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
)

// Notices sent to clients whose session ended elsewhere.
const (
	ReasonLoggedOut         = "You have been logged out"
	ReasonLoggedInElsewhere = "You have been logged in on another device/tab"
)

// Orchestrator is the part of the deploy orchestrator the reconciler drives.
type Orchestrator interface {
	Restore(ctx context.Context) (string, error)
	Resume(ctx context.Context, pipelineID string) error
}

// EndpointObserver mirrors endpoint changes.
type EndpointObserver interface {
	Observe(change statestore.Change)
}

// Listener reacts to authentication and tab changes.
type Listener interface {
	// SessionEnded is called when the user's session key is removed.
	SessionEnded(ctx context.Context, reason string)
	// SessionReplaced is called when a newer login wrote sessionID.
	SessionReplaced(ctx context.Context, sessionID, reason string)
	// TabClaimed is called when a client claims to be the active tab.
	TabClaimed(ctx context.Context, tabID string)
}

// Reconciler subscribes to one user's state scope.
type Reconciler struct {
	store    statestore.Store
	scope    string
	orch     Orchestrator
	endpoint EndpointObserver
	listener Listener
	logger   *slog.Logger
}

// New constructs a reconciler. endpoint and listener may be nil.
func New(store statestore.Store, scope string, orch Orchestrator, endpoint EndpointObserver, listener Listener, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		scope:    scope,
		orch:     orch,
		endpoint: endpoint,
		listener: listener,
		logger:   logger.With("component", "reconcile", "user_id", scope),
	}
}

// Restore adopts persisted state without touching the CI platform. A deploy that was
// still starting is resumed in the background under ctx.
func (r *Reconciler) Restore(ctx context.Context) error {
	pipelineID, err := r.orch.Restore(ctx)
	if err != nil {
		return err
	}
	r.resume(ctx, pipelineID)
	return nil
}

// resume follows a deploy that another process started. Should that process go away,
// this loop still drives the session to a terminal state; a peer that finishes first
// invalidates it through the change feed.
func (r *Reconciler) resume(ctx context.Context, pipelineID string) {
	if pipelineID == "" {
		return
	}
	go func() {
		if err := r.orch.Resume(ctx, pipelineID); err != nil {
			r.logger.Info("resumed deploy ended", "pipeline_id", pipelineID, "error", err)
		}
	}()
}

// Start subscribes to the scope and returns once changes are being delivered.
func (r *Reconciler) Start(ctx context.Context) (stop func(), err error) {
	cancel, err := r.store.Subscribe(ctx, r.scope, func(change statestore.Change) {
		r.handle(ctx, change)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("state reconciler started")
	return cancel, nil
}

// Run applies changes until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	stop, err := r.Start(ctx)
	if err != nil {
		return err
	}
	defer stop()
	<-ctx.Done()
	return nil
}

func (r *Reconciler) handle(ctx context.Context, change statestore.Change) {
	switch {
	case statestore.IsDeploymentKey(change.Key):
		// Writes from this process are already reflected in memory.
		if change.Origin == r.store.Origin() {
			return
		}
		if r.endpoint != nil {
			r.endpoint.Observe(change)
		}
		pipelineID, err := r.orch.Restore(ctx)
		if err != nil {
			r.logger.Warn("failed to mirror deployment change", "key", change.Key, "error", err)
			return
		}
		r.resume(ctx, pipelineID)
	case change.Key == statestore.KeySession:
		if r.listener == nil {
			return
		}
		if change.Deleted {
			r.listener.SessionEnded(ctx, ReasonLoggedOut)
			return
		}
		r.listener.SessionReplaced(ctx, change.Value, ReasonLoggedInElsewhere)
	case change.Key == statestore.KeyActiveTab:
		if r.listener == nil || change.Deleted || change.Value == "" {
			return
		}
		r.listener.TabClaimed(ctx, change.Value)
	}
}
