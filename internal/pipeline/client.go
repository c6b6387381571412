// Package pipeline talks to the CI platform that provisions the ephemeral backend.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/config"
)

// Client issues one request per CI action. Implementations are stateless.
type Client interface {
	// Trigger starts a run provisioning a backend for username.
	Trigger(ctx context.Context, username string) (Trigger, error)
	// Status returns the current state of a run.
	Status(ctx context.Context, pipelineID string) (domain.PipelineRun, error)
	// Cancel requests cancellation. Callers treat failures as non-fatal.
	Cancel(ctx context.Context, pipelineID string) error
	// LatestRunning returns the newest running run that provisions a backend for
	// username, or "" when none is running. Runs of other accounts are never returned.
	LatestRunning(ctx context.Context, username string) (string, error)
	// Ready scans the run's live job output for the readiness signal. The log may lag
	// the backend by a flush interval, so false does not prove the backend is down.
	Ready(ctx context.Context, pipelineID string) (bool, error)
	// Name identifies the provider in logs and history.
	Name() string
}

// Trigger describes a freshly started run.
type Trigger struct {
	PipelineID string
	Subdomain  string
	Ref        string
}

// runningPageSize bounds how many running runs are inspected when looking for the
// caller's own run.
const runningPageSize = 20

// Option customises provider construction.
type Option func(*settings)

type settings struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	rng        func(n int) int
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(s *settings) {
		if h != nil {
			s.httpClient = h
		}
	}
}

// WithRateLimit throttles outbound CI requests to perSecond.
func WithRateLimit(perSecond int) Option {
	return func(s *settings) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// WithRand replaces the subdomain suffix generator. rng(n) must return [0,n).
func WithRand(rng func(n int) int) Option {
	return func(s *settings) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithSleep replaces the delay used between dispatch and run lookup.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		rng:        rand.Intn,
		sleep:      Sleep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// New builds the provider selected by cfg.CIProvider.
func New(cfg config.PanelConfig, logger *slog.Logger) (Client, error) {
	opts := []Option{WithRateLimit(cfg.CIRequestsPerSec), WithLogger(logger)}
	switch strings.ToLower(strings.TrimSpace(cfg.CIProvider)) {
	case "", "gitlab":
		return NewGitLab(GitLabConfig{
			BaseURL:   cfg.GitLabAPIURL,
			Token:     cfg.GitLabToken,
			ProjectID: cfg.GitLabProjectID,
			Branches:  cfg.GitLabBranches,
		}, opts...), nil
	case "github":
		return NewGitHub(GitHubConfig{
			BaseURL:  cfg.GitHubAPIURL,
			Token:    cfg.GitHubToken,
			Owner:    cfg.GitHubOwner,
			Repo:     cfg.GitHubRepo,
			Workflow: cfg.GitHubWorkflow,
			Ref:      cfg.GitHubRef,
		}, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported ci provider %q", cfg.CIProvider)
	}
}

// Subdomain derives a fresh backend subdomain: the username lowercased and reduced to
// [a-z0-9], followed by a zero padded three digit random suffix.
func Subdomain(username string, rng func(n int) int) (string, error) {
	base := subdomainBase(username)
	if base == "" {
		return "", ErrInvalidUsername
	}
	if rng == nil {
		rng = rand.Intn
	}
	return fmt.Sprintf("%s%03d", base, rng(1000)%1000), nil
}

// OwnsSubdomain reports whether subdomain could have been produced by Subdomain for
// username.
func OwnsSubdomain(username, subdomain string) bool {
	base := subdomainBase(username)
	if base == "" || len(subdomain) != len(base)+3 || !strings.HasPrefix(subdomain, base) {
		return false
	}
	for _, r := range subdomain[len(base):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func subdomainBase(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
