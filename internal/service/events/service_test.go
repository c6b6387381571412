package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
)

type memoryEvents struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (m *memoryEvents) AppendEvent(_ context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *event)
	return nil
}

func (m *memoryEvents) ListEventsByUser(_ context.Context, userID string, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].UserID == userID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *memoryEvents) DeleteEventsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type captureSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureSubscriber) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

func (c *captureSubscriber) Close() {}

func (c *captureSubscriber) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func newTestService(repo *memoryEvents) (Service, *ws.Hub) {
	hub := ws.NewHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := New(repo, hub, logger)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc, hub
}

func TestNotifyPersistsDurableEventsAndStreamsAll(t *testing.T) {
	repo := &memoryEvents{}
	svc, hub := newTestService(repo)
	sub := &captureSubscriber{}
	hub.Register("u1", sub, ws.Meta{})

	svc.Notify(context.Background(), domain.Event{
		UserID:   "u1",
		Type:     domain.EventDeploymentProgress,
		Progress: &domain.Progress{Percentage: 30, Message: "Establishing connection..."},
	})
	svc.Notify(context.Background(), domain.Event{
		UserID:      "u1",
		Type:        domain.EventDeploymentStatus,
		Status:      domain.DeploymentDeployed,
		EndpointURL: "https://bob123042.loca.lt",
	})
	hub.Len("u1")

	if len(repo.events) != 1 || repo.events[0].Type != domain.EventDeploymentStatus {
		t.Fatalf("expected only the status event persisted, got %+v", repo.events)
	}
	payloads := sub.all()
	if len(payloads) != 2 {
		t.Fatalf("expected two streamed payloads, got %d", len(payloads))
	}
	var status map[string]any
	if err := json.Unmarshal(payloads[1], &status); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if status["status"] != "deployed" || status["endpoint_url"] != "https://bob123042.loca.lt" {
		t.Fatalf("unexpected status payload %v", status)
	}
	if status["created_at"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected timestamp %v", status["created_at"])
	}
}

func TestNotifyStreamsWhenPersistenceFails(t *testing.T) {
	repo := &memoryEvents{err: errors.New("db down")}
	svc, hub := newTestService(repo)
	sub := &captureSubscriber{}
	hub.Register("u1", sub, ws.Meta{})

	svc.Notify(context.Background(), domain.Event{UserID: "u1", Type: domain.EventDeploymentClosed, Message: "gone"})
	hub.Len("u1")

	if len(sub.all()) != 1 {
		t.Fatal("expected event to be streamed despite persistence failure")
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := &memoryEvents{}
	svc, _ := newTestService(repo)
	for i := 0; i < 60; i++ {
		_ = repo.AppendEvent(context.Background(), &domain.Event{UserID: "u1", Type: domain.EventDeploymentStatus})
	}
	events, err := svc.List(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != 50 {
		t.Fatalf("expected default limit of 50, got %d", len(events))
	}
	if events[0].ID != 60 {
		t.Fatalf("expected newest first, got id %d", events[0].ID)
	}
}
