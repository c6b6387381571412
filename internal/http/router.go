package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/admin"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/events"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/settings"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/webhook"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/workspace"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	admin      admin.Service
	settings   settings.Service
	events     events.Service
	webhook    webhook.Service
	workspaces *workspace.Manager
	history    repository.DeploymentRepository
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	dbHealth   func(context.Context) error
	metrics    *httpMetrics
}

// Dependencies groups the services a Router dispatches to.
type Dependencies struct {
	Auth       auth.Service
	Admin      admin.Service
	Settings   settings.Service
	Events     events.Service
	Webhook    webhook.Service
	Workspaces *workspace.Manager
	History    repository.DeploymentRepository
	Limiter    RateLimiter
	DBHealth   func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 10
	rateLimitLogin     = 20
	rateLimitUserWrite = 60
	rateLimitUserRead  = 240
	rateLimitBackend   = 600
	rateLimitWebsocket = 30
	rateLimitWebhook   = 120
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Dependencies) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger.With("component", "http"),
		auth:       deps.Auth,
		admin:      deps.Admin,
		settings:   deps.Settings,
		events:     deps.Events,
		webhook:    deps.Webhook,
		workspaces: deps.Workspaces,
		history:    deps.History,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  deps.Limiter,
		dbHealth: deps.DBHealth,
		metrics:  newHTTPMetrics(prometheus.DefaultRegisterer),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/logout", r.audit("/auth/logout", r.handlerAuthRate("/auth/logout", rateLimitUserWrite, rateWindowDefault, r.handleLogout)))
	r.mux.HandleFunc("/auth/logout-all", r.audit("/auth/logout-all", r.handlerAuthRate("/auth/logout-all", rateLimitUserWrite, rateWindowDefault, r.handleLogoutAll)))
	r.mux.HandleFunc("/auth/session", r.audit("/auth/session", r.handlerAuthRate("/auth/session", rateLimitUserRead, rateWindowDefault, r.handleSession)))
	r.mux.HandleFunc("/session/tab", r.audit("/session/tab", r.handlerAuthRate("/session/tab", rateLimitUserWrite, rateWindowDefault, r.handleClaimTab)))

	r.mux.HandleFunc("/deployment", r.audit("/deployment", r.handlerAuthRate("/deployment", rateLimitUserRead, rateWindowDefault, r.handleDeployment)))
	r.mux.HandleFunc("/deployment/", r.audit("/deployment/", r.handlerAuthRate("/deployment/", rateLimitUserWrite, rateWindowDefault, r.handleDeploymentAction)))

	r.mux.HandleFunc("/events", r.audit("/events", r.handlerAuthRate("/events", rateLimitUserRead, rateWindowDefault, r.handleEvents)))
	r.mux.HandleFunc("/events/stream", r.audit("/events/stream", r.handlerAuthRate("/events/stream", rateLimitWebsocket, rateWindowRealtime, r.handleEventStream)))
	r.mux.HandleFunc("/ws/events", r.audit("/ws/events", r.handlerAuthRate("/ws/events", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))

	r.mux.HandleFunc("/backend/", r.audit("/backend/", r.handlerAuthRate("/backend/", rateLimitBackend, rateWindowDefault, r.handleBackend)))
	r.mux.HandleFunc("/settings", r.audit("/settings", r.handlerAuthRate("/settings", rateLimitUserWrite, rateWindowDefault, r.handleSettings)))
	r.mux.HandleFunc("/settings/apply", r.audit("/settings/apply", r.handlerAuthRate("/settings/apply", rateLimitUserWrite, rateWindowDefault, r.handleSettingsApply)))

	r.mux.HandleFunc("/webhook/gitlab", r.audit("/webhook/gitlab", r.withRateLimit("/webhook/gitlab", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleGitLabWebhook)))
	r.mux.HandleFunc("/webhook/github", r.audit("/webhook/github", r.withRateLimit("/webhook/github", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleGitHubWebhook)))

	r.mux.HandleFunc("/admin/tokens", r.audit("/admin/tokens", r.handlerAdmin("/admin/tokens", r.handleAdminTokens)))
	r.mux.HandleFunc("/admin/tokens/", r.audit("/admin/tokens/", r.handlerAdmin("/admin/tokens/", r.handleAdminToken)))
	r.mux.HandleFunc("/admin/users", r.audit("/admin/users", r.handlerAdmin("/admin/users", r.handleAdminUsers)))
	r.mux.HandleFunc("/admin/users/", r.audit("/admin/users/", r.handlerAdmin("/admin/users/", r.handleAdminUser)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if p, ok := principalFromContext(ctx); ok {
			actor = "user"
			if p.User.Admin {
				actor = "admin"
			}
			fields = append(fields, "user_id", p.User.ID)
		} else if strings.HasPrefix(req.URL.Path, "/webhook/") {
			actor = "ci"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
