package httpx

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/backend"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/admin"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/deploy"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/settings"
)

const maxBodyBytes = 1 << 20

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps service errors onto status codes. Messages of errors that
// are not user facing never reach the client.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var (
		public     *auth.PublicError
		validation *auth.ValidationError
		limited    *auth.RateLimitedError
		invalid    *auth.SessionInvalidError
		confirm    *deploy.ConfirmationRequiredError
		failed     *deploy.FailedError
		userErr    *pipeline.UserError
		configErr  *settings.ConfigError
		backendErr *backend.StatusError
	)
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, limited.Error())
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Message, "field": validation.Field})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountInactive), errors.Is(err, auth.ErrSubscriptionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrTokenUsed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &public):
		writeError(w, http.StatusBadRequest, public.Message)
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": invalid.Reason, "reason": invalid.Reason})
	case errors.As(err, &confirm):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "A session is already running. Confirm to stop it and start a new one.",
			"pipeline_id": confirm.PipelineID,
		})
	case errors.Is(err, deploy.ErrBusy):
		writeError(w, http.StatusConflict, "Another deployment action is in progress")
	case errors.Is(err, deploy.ErrAlreadyDeployed):
		writeError(w, http.StatusConflict, "System is already active")
	case errors.Is(err, deploy.ErrLocalTestActive):
		writeError(w, http.StatusConflict, "Local test mode is active")
	case errors.Is(err, deploy.ErrInvalidated):
		writeError(w, http.StatusConflict, "Deployment was superseded")
	case errors.As(err, &failed):
		writeError(w, http.StatusBadGateway, failed.Message)
	case errors.As(err, &userErr):
		writeError(w, http.StatusBadGateway, userErr.Message)
	case errors.As(err, &configErr):
		writeError(w, http.StatusBadRequest, configErr.Message)
	case errors.Is(err, backend.ErrNoEndpoint):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrNetwork):
		writeError(w, http.StatusBadGateway, "Backend is unreachable")
	case errors.As(err, &backendErr):
		writeError(w, http.StatusBadGateway, backendErr.Error())
	case errors.Is(err, admin.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
