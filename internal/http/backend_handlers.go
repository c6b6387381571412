package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/backend"
)

func (r *Router) handleBackend(w http.ResponseWriter, req *http.Request) {
	op := strings.Trim(strings.TrimPrefix(req.URL.Path, "/backend/"), "/")
	var (
		call   func(*backend.Client, context.Context) (json.RawMessage, error)
		method = http.MethodPost
	)
	switch op {
	case "health":
		method, call = http.MethodGet, (*backend.Client).Health
	case "status":
		method, call = http.MethodGet, (*backend.Client).Status
	case "logs":
		method, call = http.MethodGet, (*backend.Client).Logs
	case "connect":
		call = (*backend.Client).Connect
	case "disconnect":
		call = (*backend.Client).Disconnect
	case "release":
		call = (*backend.Client).Release
	case "send":
		var cmd backend.SendCommand
		if req.Method == http.MethodPost && !decodeJSON(w, req, &cmd) {
			return
		}
		if req.Method == http.MethodPost && strings.TrimSpace(cmd.Command) == "" {
			writeError(w, http.StatusBadRequest, "command is required")
			return
		}
		call = func(c *backend.Client, ctx context.Context) (json.RawMessage, error) {
			return c.Send(ctx, cmd)
		}
	default:
		r.notFound(w)
		return
	}
	if req.Method != method {
		r.methodNotAllowed(w)
		return
	}
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	body, err := call(space.Backend(), req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeRaw(w, http.StatusOK, body)
}

func (r *Router) handleSettings(w http.ResponseWriter, req *http.Request) {
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		doc, err := r.settings.Get(req.Context(), p.User.ID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPut:
		raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read body")
			return
		}
		var envelope struct {
			Config json.RawMessage `json:"config"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Config) > 0 {
			raw = envelope.Config
		}
		doc, err := r.settings.Save(req.Context(), p.User.ID, raw)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSettingsApply(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	result, err := r.settings.Apply(req.Context(), p.User.ID, space.Backend())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
