package httpx

import (
	"net/http"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
)

func userView(u *domain.User) map[string]any {
	view := map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"admin":    u.Admin,
	}
	if u.AccessUntil != nil {
		view["access_until"] = u.AccessUntil.UTC().Format(time.RFC3339)
	}
	return view
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
		Token           string `json:"token"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	user, err := r.auth.Signup(req.Context(), auth.SignupInput{
		Username:        payload.Username,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
		Token:           payload.Token,
	}, clientIP(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": userView(user)})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	result, err := r.auth.Login(req.Context(), payload.Username, payload.Password, clientIP(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       userView(result.User),
		"token":      result.Token,
		"session_id": result.Session.ID,
		"expires_at": result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	r.signOut(req, p.User.ID)
	if err := r.auth.Logout(req.Context(), *p); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (r *Router) handleLogoutAll(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	r.signOut(req, p.User.ID)
	n, err := r.auth.LogoutAll(req.Context(), p.User.ID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out", "sessions_revoked": n})
}

// signOut drops local deployment state of an open workspace; the pipeline keeps running.
func (r *Router) signOut(req *http.Request, userID string) {
	if r.workspaces == nil {
		return
	}
	if ws, ok := r.workspaces.Lookup(userID); ok {
		ws.SignOut(req.Context())
	}
}

func (r *Router) handleSession(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	p, ok := principalFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"user":       userView(p.User),
		"session_id": p.SessionID,
	})
}

func (r *Router) handleClaimTab(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		TabID string `json:"tab_id"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	if payload.TabID == "" {
		writeError(w, http.StatusBadRequest, "tab_id is required")
		return
	}
	space, ok := r.workspace(w, req)
	if !ok {
		return
	}
	if err := space.ClaimTab(req.Context(), payload.TabID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_tab_id": payload.TabID})
}

func (r *Router) authContextMissing(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}
