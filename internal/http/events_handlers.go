package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/events"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/workspace"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
)

const (
	streamHeartbeat = 15 * time.Second
	streamRetry     = 3 * time.Second
	wsPongWait      = 60 * time.Second
)

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.events.List(req.Context(), p.User.ID, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// streamMeta identifies a client stream for session and tab evictions.
func streamMeta(req *http.Request) ws.Meta {
	meta := ws.Meta{TabID: req.URL.Query().Get("tab_id")}
	if p, ok := principalFromContext(req.Context()); ok {
		meta.SessionID = p.SessionID
	}
	return meta
}

// greet sends the current deployment status so a new stream starts in sync.
func greet(space *workspace.Workspace, client ws.Subscriber) error {
	snap := space.Orchestrator().Snapshot()
	event := domain.Event{
		Type:        domain.EventDeploymentStatus,
		Status:      snap.Status,
		EndpointURL: snap.EndpointURL,
		CreatedAt:   time.Now().UTC(),
	}
	if snap.Progress.Message != "" || snap.Progress.Percentage > 0 {
		progress := snap.Progress
		event.Progress = &progress
	}
	payload, err := events.MarshalEvent(event)
	if err != nil {
		return err
	}
	return client.Send(payload)
}

func (r *Router) handleEventStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, req.Header.Get("Last-Event-ID"), r.logger)
	if err := client.Open(streamRetry); err != nil {
		return
	}
	if err := greet(space, client); err != nil {
		return
	}
	space.Attach(client, streamMeta(req))
	defer func() {
		space.Detach(client)
		client.Close()
	}()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	meta := streamMeta(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if err := greet(space, client); err != nil {
		client.Close()
		return
	}
	space.Attach(client, meta)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
	go func() {
		defer func() {
			close(done)
			space.Detach(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
