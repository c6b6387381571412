package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/endpoint"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/deploy"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
)

// readyPipelines reports every run as running with its backend up.
type readyPipelines struct{}

func (readyPipelines) Trigger(context.Context, string) (pipeline.Trigger, error) {
	return pipeline.Trigger{}, errors.New("not used")
}

func (readyPipelines) Status(_ context.Context, pipelineID string) (domain.PipelineRun, error) {
	return domain.PipelineRun{ID: pipelineID, Status: domain.PipelineRunning}, nil
}

func (readyPipelines) Cancel(context.Context, string) error { return nil }

func (readyPipelines) LatestRunning(context.Context, string) (string, error) { return "", nil }

func (readyPipelines) Ready(context.Context, string) (bool, error) { return true, nil }

func (readyPipelines) Name() string { return "fake" }

func TestDeployOrphanedByPeerIsFinishedHere(t *testing.T) {
	backend := statestore.NewMemory()
	store := backend.View()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	registry := endpoint.New(store, "user-1", endpoint.Options{})
	orch := deploy.New("user-1", "bob", deploy.Dependencies{
		Pipelines: readyPipelines{},
		Registry:  registry,
		Store:     store,
	}, deploy.Options{PollInterval: time.Millisecond, Settle: time.Millisecond, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(store, "user-1", orch, registry, nil, logger)
	stop, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop()

	// The peer persists its trigger and then disappears.
	peer := backend.View()
	if err := peer.Save(ctx, "user-1", map[string]string{
		statestore.KeyDeploymentStatus: string(domain.DeploymentDeploying),
		statestore.KeyPipelineID:       "501",
		statestore.KeySubdomain:        "bob501",
	}); err != nil {
		t.Fatalf("peer save: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for orch.Snapshot().Status != domain.DeploymentDeployed {
		if time.Now().After(deadline) {
			t.Fatalf("mirrored deploy never reached a terminal state: %+v", orch.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	session := orch.Snapshot()
	if session.PipelineID != "501" || session.EndpointURL == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	values, err := store.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if values[statestore.KeyDeploymentStatus] != string(domain.DeploymentDeployed) {
		t.Fatalf("expected deployed to be persisted, got %v", values)
	}
}
