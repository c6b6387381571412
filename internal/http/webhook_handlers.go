package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/webhook"
)

func (r *Router) handleGitLabWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	result, err := r.webhook.HandleGitLab(req.Context(), req.Header.Get("X-Gitlab-Token"), body)
	r.writeWebhookResult(w, req, result, err)
}

func (r *Router) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	result, err := r.webhook.HandleGitHub(req.Context(), req.Header.Get("X-GitHub-Event"), req.Header.Get("X-Hub-Signature-256"), body)
	r.writeWebhookResult(w, req, result, err)
}

func (r *Router) writeWebhookResult(w http.ResponseWriter, req *http.Request, result webhook.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, webhook.ErrDisabled):
		r.notFound(w)
	case errors.Is(err, webhook.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid webhook credentials")
	case errors.Is(err, webhook.ErrPayload):
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
	default:
		r.writeServiceError(w, req, err)
	}
}
