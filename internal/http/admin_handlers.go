package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (r *Router) handleAdminTokens(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		months := 0
		if raw := req.URL.Query().Get("duration"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "duration must be a number of months")
				return
			}
			months = parsed
		}
		tokens, err := r.admin.ListTokens(req.Context(), months)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	case http.MethodPost:
		var payload struct {
			DurationMonths int `json:"duration_months"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		token, err := r.admin.GenerateToken(req.Context(), payload.DurationMonths)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, token)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAdminToken(w http.ResponseWriter, req *http.Request) {
	tokenID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/admin/tokens/"), "/")
	if tokenID == "" || strings.Contains(tokenID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.admin.DeleteToken(req.Context(), tokenID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleAdminUsers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	users, err := r.admin.ListUsers(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (r *Router) handleAdminUser(w http.ResponseWriter, req *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, "/admin/users/"), "/"), "/")
	userID := parts[0]
	if userID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if p, ok := principalFromContext(req.Context()); ok && p.User.ID == userID {
			writeError(w, http.StatusBadRequest, "cannot delete your own account")
			return
		}
		revoked, err := r.admin.DeleteUser(req.Context(), userID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		r.signOut(req, userID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "sessions_revoked": revoked})
	case len(parts) == 2 && parts[1] == "renew":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			DurationMonths int `json:"duration_months"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		until, err := r.admin.RenewUser(req.Context(), userID, payload.DurationMonths)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_until": until.UTC().Format(time.RFC3339)})
	default:
		r.notFound(w)
	}
}
