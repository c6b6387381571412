package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/db"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/app/migrate"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/backend"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/endpoint"
	httpx "github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/http"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository/postgres"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/admin"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/deploy"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/events"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/janitor"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/settings"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/webhook"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/workspace"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/ws"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/config"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logger.New("panel", logger.ParseLevel("info")).Error("failed to read env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadPanelConfig()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.New("panel", logger.ParseLevel("info")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewWithFile("panel", logger.ParseLevel(cfg.LogLevel), cfg.LogPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, db.Migrations(), log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	var store statestore.Store = statestore.NewMemory().View()
	if addr := strings.TrimSpace(cfg.StateRedisAddr); addr != "" {
		shared, err := statestore.NewRedis(addr, cfg.StateRedisPass, cfg.StateRedisDB, log)
		if err != nil {
			log.Error("state store unavailable", "error", err)
			os.Exit(1)
		}
		defer shared.Close()
		store = shared
	} else {
		log.Warn("STATE_REDIS_ADDR not set; deployment state is kept in process memory")
	}

	pipelines, err := pipeline.New(cfg, log)
	if err != nil {
		log.Error("failed to configure ci provider", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	publisher := auth.StorePublisher{Store: store}

	authSvc := auth.New(auth.Dependencies{Users: repo, Sessions: repo, Tokens: repo, Publisher: publisher}, log, cfg)
	adminSvc := admin.New(admin.Dependencies{Users: repo, Tokens: repo, Sessions: repo, Publisher: publisher}, log)
	settingsSvc := settings.New(repo, cfg.ConfigEncryptionKey, log)
	eventSvc := events.New(repo, hub, log)

	manager := workspace.NewManager(workspace.Config{
		Pipelines: pipelines,
		Store:     store,
		Hub:       hub,
		Notifier:  eventSvc,
		History:   repo,
		Sessions:  authSvc,
		Publisher: publisher,
		Endpoint: endpoint.Options{
			URLTemplate: cfg.BackendURLTemplate,
			LocalURL:    cfg.BackendLocalURL,
			DefaultURL:  cfg.BackendDefaultURL,
		},
		Deploy: deploy.Options{
			PollInterval:   cfg.DeployPollInterval,
			MaxAttempts:    cfg.DeployMaxAttempts,
			SupersedeGrace: cfg.DeploySupersedeGrace,
			Settle:         cfg.DeploySettleDelay,
			Metrics:        deploy.NewMetrics(prometheus.DefaultRegisterer),
		},
		MonitorInterval:      cfg.MonitorInterval,
		SessionCheckInterval: cfg.SessionCheckInterval,
		Poller: backend.PollerOptions{
			Interval:    cfg.BackendPollEvery,
			MaxFailures: cfg.BackendMaxFailures,
		},
		Logger: log,
	})
	defer manager.Close()

	webhookSvc := webhook.New(manager, log, cfg)

	if err := authSvc.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	sweeper := janitor.New(repo, repo, authSvc.Limiter(), janitor.Options{
		Schedule:         cfg.JanitorSchedule,
		SessionRetention: cfg.SessionRetention,
		EventRetention:   cfg.EventRetention,
	}, log)
	if err := sweeper.Start(); err != nil {
		log.Error("failed to schedule janitor", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Dependencies{
		Auth:       authSvc,
		Admin:      adminSvc,
		Settings:   settingsSvc,
		Events:     eventSvc,
		Webhook:    webhookSvc,
		Workspaces: manager,
		History:    repo,
		Limiter:    limiter,
		DBHealth:   pool.Ping,
	})
	defer router.Close()

	handler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	})(router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("panel server starting", "addr", cfg.Addr, "ci_provider", pipelines.Name())
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("panel server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
