package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/backend"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
)

type runningPipelines struct{}

func (runningPipelines) Trigger(context.Context, string) (pipeline.Trigger, error) {
	return pipeline.Trigger{}, errors.New("not used")
}

func (runningPipelines) Status(_ context.Context, id string) (domain.PipelineRun, error) {
	return domain.PipelineRun{ID: id, Status: domain.PipelineRunning}, nil
}

func (runningPipelines) Cancel(context.Context, string) error          { return nil }
func (runningPipelines) LatestRunning(context.Context, string) (string, error) { return "", nil }
func (runningPipelines) Ready(context.Context, string) (bool, error)   { return true, nil }
func (runningPipelines) Name() string                                  { return "fake" }

type stream struct {
	mu       sync.Mutex
	messages []string
	closed   bool
}

func (s *stream) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(p))
	return nil
}

func (s *stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stream) state() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, strings.Join(s.messages, "\n")
}

type scriptedValidator struct {
	err error
}

func (v *scriptedValidator) Validate(context.Context, string, string) (*auth.Principal, error) {
	return nil, v.err
}

type harness struct {
	manager   *Manager
	store     statestore.Store
	other     statestore.Store
	hub       *ws.Hub
	validator *scriptedValidator
}

func newTestManager(t *testing.T) *harness {
	t.Helper()
	mem := statestore.NewMemory()
	h := &harness{
		store:     mem.View(),
		other:     mem.View(),
		hub:       ws.NewHub(),
		validator: &scriptedValidator{},
	}
	h.manager = NewManager(Config{
		Pipelines:            runningPipelines{},
		Store:                h.store,
		Hub:                  h.hub,
		Sessions:             h.validator,
		Publisher:            auth.StorePublisher{Store: h.store},
		MonitorInterval:      time.Hour,
		SessionCheckInterval: time.Hour,
		Poller:               backend.PollerOptions{Interval: time.Hour},
		Logger:               slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})),
	})
	t.Cleanup(h.manager.Close)
	return h
}

func TestOpenRestoresDeploymentAndRoutesTermination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"connected":false}`))
	}))
	t.Cleanup(srv.Close)

	h := newTestManager(t)
	err := h.other.Save(context.Background(), "u1", map[string]string{
		statestore.KeyDeploymentStatus: "deployed",
		statestore.KeyPipelineID:       "42",
		statestore.KeySubdomain:        "bob123042",
		statestore.KeyEndpointURL:      srv.URL,
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	w, err := h.manager.Open(context.Background(), "u1", "Bob123", "s1")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	snap := w.Orchestrator().Snapshot()
	if snap.Status != domain.DeploymentDeployed || snap.EndpointURL != srv.URL {
		t.Fatalf("unexpected restored session %+v", snap)
	}
	if w.Registry().Resolve() != srv.URL {
		t.Fatalf("expected endpoint to resolve, got %q", w.Registry().Resolve())
	}
	if !w.Poller().Snapshot().Polling {
		t.Fatal("expected backend polling while deployed")
	}
	if again, _ := h.manager.Open(context.Background(), "u1", "Bob123", ""); again != w {
		t.Fatal("expected the same workspace on reopen")
	}

	if h.manager.PipelineTerminated(context.Background(), "7", domain.PipelineFailed) {
		t.Fatal("unknown pipeline must not be handled")
	}
	if !h.manager.PipelineTerminated(context.Background(), "42", domain.PipelineCanceled) {
		t.Fatal("expected the owning workspace to handle termination")
	}
	if got := w.Orchestrator().Snapshot().Status; got != domain.DeploymentIdle {
		t.Fatalf("expected idle after termination, got %s", got)
	}
	if w.Poller().Snapshot().Polling {
		t.Fatal("expected polling to stop after termination")
	}
	values, _ := h.other.Load(context.Background(), "u1")
	if values[statestore.KeyPipelineID] != "" {
		t.Fatalf("expected persisted deployment to be cleared, got %v", values)
	}
}

func TestNewerSessionClosesOlderStreams(t *testing.T) {
	h := newTestManager(t)
	w, err := h.manager.Open(context.Background(), "u1", "bob", "s1")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	old := &stream{}
	current := &stream{}
	w.Attach(old, ws.Meta{SessionID: "s1", TabID: "t1"})
	w.Attach(current, ws.Meta{SessionID: "s2", TabID: "t2"})

	if err := h.other.Save(context.Background(), "u1", map[string]string{statestore.KeySession: "s2"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	closed, messages := old.state()
	if !closed || !strings.Contains(messages, "logged in on another device/tab") {
		t.Fatalf("expected old stream to be closed with notice, closed=%v messages=%q", closed, messages)
	}
	if closed, _ := current.state(); closed {
		t.Fatal("current session stream must stay open")
	}
	if w.currentSession() != "s2" {
		t.Fatalf("expected s2 to become the validated session, got %q", w.currentSession())
	}

	if err := h.other.Remove(context.Background(), "u1", statestore.KeySession); err != nil {
		t.Fatalf("remove session: %v", err)
	}
	closed, messages = current.state()
	if !closed || !strings.Contains(messages, "You have been logged out") {
		t.Fatalf("expected logout notice, closed=%v messages=%q", closed, messages)
	}
}

func TestClaimTabClosesOtherTabsSilently(t *testing.T) {
	h := newTestManager(t)
	w, err := h.manager.Open(context.Background(), "u1", "bob", "s1")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	mine := &stream{}
	other := &stream{}
	cli := &stream{}
	w.Attach(mine, ws.Meta{SessionID: "s1", TabID: "t1"})
	w.Attach(other, ws.Meta{SessionID: "s1", TabID: "t2"})
	w.Attach(cli, ws.Meta{SessionID: "s1"})

	if err := w.ClaimTab(context.Background(), "t1"); err != nil {
		t.Fatalf("ClaimTab returned error: %v", err)
	}
	if closed, messages := other.state(); !closed || messages != "" {
		t.Fatalf("expected silent close, closed=%v messages=%q", closed, messages)
	}
	if closed, _ := mine.state(); closed {
		t.Fatal("claiming tab must stay open")
	}
	if closed, _ := cli.state(); closed {
		t.Fatal("streams without a tab id are not affected by tab claims")
	}
}

func TestCheckSessionSignsOutRevokedSession(t *testing.T) {
	h := newTestManager(t)
	if err := h.other.Save(context.Background(), "u1", map[string]string{statestore.KeyLocalTestMode: "true"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	w, err := h.manager.Open(context.Background(), "u1", "bob", "s1")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	s := &stream{}
	w.Attach(s, ws.Meta{SessionID: "s1"})

	h.validator.err = errors.New("database unavailable")
	w.checkSession(context.Background())
	if closed, _ := s.state(); closed {
		t.Fatal("transient validation errors must keep the session")
	}

	h.validator.err = &auth.SessionInvalidError{Reason: auth.ReasonAccessRevoked}
	w.checkSession(context.Background())
	closed, messages := s.state()
	if !closed || !strings.Contains(messages, auth.ReasonAccessRevoked) {
		t.Fatalf("expected revoked notice, closed=%v messages=%q", closed, messages)
	}
	if got := w.Orchestrator().Snapshot(); got.LocalTest || got.Status != domain.DeploymentIdle {
		t.Fatalf("expected local state to be dropped, got %+v", got)
	}
	values, _ := h.other.Load(context.Background(), "u1")
	if len(values) != 0 {
		t.Fatalf("expected user scope to be emptied, got %v", values)
	}
}

func TestClosedManagerRejectsOpen(t *testing.T) {
	h := newTestManager(t)
	h.manager.Close()
	if _, err := h.manager.Open(context.Background(), "u1", "bob", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
