package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/workspace"
)

const (
	historyDefaultLimit = 20
	historyMaxLimit     = 100
)

// workspace opens the caller's workspace, restoring persisted state on first use.
func (r *Router) workspace(w http.ResponseWriter, req *http.Request) (*workspace.Workspace, bool) {
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return nil, false
	}
	if r.workspaces == nil {
		writeError(w, http.StatusServiceUnavailable, "deployments unavailable")
		return nil, false
	}
	space, err := r.workspaces.Open(req.Context(), p.User.ID, p.User.Username, p.SessionID)
	if err != nil {
		r.logger.Error("failed to open workspace", "user_id", p.User.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "deployments unavailable")
		return nil, false
	}
	return space, true
}

type deploymentView struct {
	domain.DeploymentSession
	BackendConnected bool `json:"backend_connected"`
}

func viewOf(space *workspace.Workspace) deploymentView {
	return deploymentView{
		DeploymentSession: space.Orchestrator().Snapshot(),
		BackendConnected:  space.Poller().Snapshot().Connected,
	}
}

func (r *Router) handleDeployment(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(space))
}

func (r *Router) handleDeploymentAction(w http.ResponseWriter, req *http.Request) {
	action := strings.Trim(strings.TrimPrefix(req.URL.Path, "/deployment/"), "/")
	if action == "history" {
		r.handleDeploymentHistory(w, req)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	orch := space.Orchestrator()
	switch action {
	case "deploy":
		var payload struct {
			Confirm bool `json:"confirm"`
		}
		if req.ContentLength != 0 && !decodeJSON(w, req, &payload) {
			return
		}
		if err := orch.DeployAsync(context.WithoutCancel(req.Context()), payload.Confirm); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusAccepted, viewOf(space))
	case "undeploy":
		if err := orch.Undeploy(context.WithoutCancel(req.Context())); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(space))
	case "dismiss":
		orch.Dismiss(req.Context())
		writeJSON(w, http.StatusOK, viewOf(space))
	case "local":
		var payload struct {
			Enabled bool `json:"enabled"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		if err := orch.SetLocalTest(req.Context(), payload.Enabled); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(space))
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploymentHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	if r.history == nil {
		writeJSON(w, http.StatusOK, []domain.DeploymentRecord{})
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}
	records, err := r.history.ListDeploymentsByUser(req.Context(), p.User.ID, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
