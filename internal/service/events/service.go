// Package events persists user notifications and streams them to attached clients.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
)

// Service handles event persistence and streaming.
type Service struct {
	repo   repository.EventRepository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an event service. repo may be nil, in which case nothing is persisted.
func New(repo repository.EventRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger.With("component", "events"), now: time.Now}
}

// Notify stores durable events and broadcasts every event to the user's streams.
// Persistence failures are logged; the broadcast still happens.
func (s Service) Notify(ctx context.Context, event domain.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	if s.repo != nil && Durable(event.Type) {
		if err := s.repo.AppendEvent(ctx, &event); err != nil {
			s.logger.Warn("failed to persist event", "user_id", event.UserID, "type", event.Type, "error", err)
		}
	}
	s.broadcast(event)
}

// List returns the newest persisted events of a user.
func (s Service) List(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	if s.repo == nil {
		return []domain.Event{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListEventsByUser(ctx, userID, limit)
}

func (s Service) broadcast(event domain.Event) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "error", err)
		return
	}
	s.hub.Broadcast(event.UserID, data)
}

// Hub returns the stream hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// Durable reports whether events of this type are kept in the event log.
// Progress ticks and backend polling output are stream only.
func Durable(eventType string) bool {
	switch eventType {
	case domain.EventDeploymentStatus, domain.EventDeploymentClosed, domain.EventSessionEnded:
		return true
	}
	return false
}

// MarshalEvent formats an event for streaming payloads.
func MarshalEvent(event domain.Event) ([]byte, error) {
	payload := map[string]any{
		"type":       event.Type,
		"created_at": event.CreatedAt.Format(time.RFC3339Nano),
	}
	if event.ID != 0 {
		payload["id"] = event.ID
	}
	if event.Status != "" {
		payload["status"] = event.Status
	}
	if event.EndpointURL != "" {
		payload["endpoint_url"] = event.EndpointURL
	}
	if event.Progress != nil {
		payload["progress"] = event.Progress
	}
	if event.Message != "" {
		payload["message"] = event.Message
	}
	if len(event.Data) > 0 {
		payload["data"] = json.RawMessage(event.Data)
	}
	return json.Marshal(payload)
}
