package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
)

type authContextKey string

const contextKeyAuth authContextKey = "gkl-auth-principal"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request carries a live session before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireAdmin is requireAuth restricted to admin accounts.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		p, ok := principalFromContext(req.Context())
		if !ok || !p.User.Admin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req)
	})
}

// ensureAuth validates the bearer token and enriches the context with the principal.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, *auth.Principal, bool) {
	token, err := requestToken(req)
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), nil, false
	}
	principal, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		var invalid *auth.SessionInvalidError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": invalid.Reason, "reason": invalid.Reason})
			return req.Context(), nil, false
		}
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), nil, false
	}
	ctx := context.WithValue(req.Context(), contextKeyAuth, principal)
	return ctx, principal, true
}

// principalFromContext extracts the authenticated caller.
func principalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(contextKeyAuth).(*auth.Principal)
	return p, ok && p != nil && p.User != nil
}

// requestToken reads the bearer token. Browsers cannot set headers on EventSource or
// websocket requests, so those may pass access_token in the query instead.
func requestToken(req *http.Request) (string, error) {
	header := req.Header.Get("Authorization")
	if strings.TrimSpace(header) == "" {
		if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
	}
	return bearerToken(header)
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
