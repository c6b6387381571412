package config

import (
	"fmt"
	"strings"
	"time"
)

const defaultSecret = "supersecuresecret"

// PanelConfig holds runtime configuration for the control panel service.
type PanelConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	LogPath       string
	LogLevel      string

	JWTSecret           string
	ConfigEncryptionKey string
	AccessTokenTTL      time.Duration
	AdminUsername       string
	AdminPassword       string
	CORSOrigins         []string

	CIProvider       string
	GitLabAPIURL     string
	GitLabToken      string
	GitLabProjectID  string
	GitLabBranches   []string
	GitHubAPIURL     string
	GitHubToken      string
	GitHubOwner      string
	GitHubRepo       string
	GitHubWorkflow   string
	GitHubRef        string
	CIRequestsPerSec int

	BackendURLTemplate string
	BackendLocalURL    string
	BackendDefaultURL  string
	BackendPollEvery   time.Duration
	BackendMaxFailures int

	DeployPollInterval   time.Duration
	DeployMaxAttempts    int
	DeploySupersedeGrace time.Duration
	DeploySettleDelay    time.Duration
	MonitorInterval      time.Duration
	SessionCheckInterval time.Duration

	StateRedisAddr     string
	StateRedisPass     string
	StateRedisDB       int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int

	WebhookGitLabToken  string
	WebhookGitHubSecret string

	JanitorSchedule  string
	EventRetention   time.Duration
	SessionRetention time.Duration
}

// LoadPanelConfig constructs a PanelConfig from environment variables, after applying
// the optional YAML file named by PANEL_CONFIG_FILE.
func LoadPanelConfig() (PanelConfig, error) {
	if err := ApplyFile(GetString("PANEL_CONFIG_FILE", "")); err != nil {
		return PanelConfig{}, err
	}
	return PanelConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("PANEL_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://gkl:gkl@db:5432/gkl?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		LogPath:       GetString("LOG_PATH", ""),
		LogLevel:      GetString("LOG_LEVEL", "info"),

		JWTSecret:           GetString("JWT_SECRET", defaultSecret),
		ConfigEncryptionKey: GetString("CONFIG_ENCRYPTION_KEY", defaultSecret),
		AccessTokenTTL:      durationOf("ACCESS_TOKEN_TTL_HOURS", 24*30, time.Hour),
		AdminUsername:       GetString("ADMIN_USERNAME", ""),
		AdminPassword:       GetString("ADMIN_PASSWORD", ""),
		CORSOrigins:         GetList("CORS_ORIGINS", []string{"*"}),

		CIProvider:       GetString("CI_PROVIDER", "gitlab"),
		GitLabAPIURL:     GetString("GITLAB_API_URL", "https://gitlab.com/api/v4"),
		GitLabToken:      GetString("GITLAB_TOKEN", ""),
		GitLabProjectID:  GetString("GITLAB_PROJECT_ID", ""),
		GitLabBranches:   GetList("GITLAB_BRANCHES", []string{"main", "master"}),
		GitHubAPIURL:     GetString("GITHUB_API_URL", "https://api.github.com"),
		GitHubToken:      GetString("GITHUB_TOKEN", ""),
		GitHubOwner:      GetString("GITHUB_OWNER", ""),
		GitHubRepo:       GetString("GITHUB_REPO", ""),
		GitHubWorkflow:   GetString("GITHUB_WORKFLOW", "deploy.yml"),
		GitHubRef:        GetString("GITHUB_REF", "main"),
		CIRequestsPerSec: GetInt("CI_REQUESTS_PER_SECOND", 5),

		BackendURLTemplate: GetString("BACKEND_URL_TEMPLATE", "https://%s.loca.lt"),
		BackendLocalURL:    GetString("BACKEND_LOCAL_URL", "http://localhost:3000"),
		BackendDefaultURL:  GetString("BACKEND_DEFAULT_URL", ""),
		BackendPollEvery:   durationOf("BACKEND_POLL_MS", 1000, time.Millisecond),
		BackendMaxFailures: GetInt("BACKEND_MAX_FAILURES", 10),

		DeployPollInterval:   durationOf("DEPLOY_POLL_SECONDS", 5, time.Second),
		DeployMaxAttempts:    GetInt("DEPLOY_MAX_ATTEMPTS", 120),
		DeploySupersedeGrace: durationOf("DEPLOY_SUPERSEDE_GRACE_MS", 2000, time.Millisecond),
		DeploySettleDelay:    durationOf("DEPLOY_SETTLE_MS", 1000, time.Millisecond),
		MonitorInterval:      durationOf("MONITOR_INTERVAL_SECONDS", 10, time.Second),
		SessionCheckInterval: durationOf("SESSION_CHECK_SECONDS", 10, time.Second),

		StateRedisAddr:     GetString("STATE_REDIS_ADDR", ""),
		StateRedisPass:     GetString("STATE_REDIS_PASSWORD", ""),
		StateRedisDB:       GetInt("STATE_REDIS_DB", 0),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),

		WebhookGitLabToken:  GetString("WEBHOOK_GITLAB_TOKEN", ""),
		WebhookGitHubSecret: GetString("WEBHOOK_GITHUB_SECRET", ""),

		JanitorSchedule:  GetString("JANITOR_SCHEDULE", "@every 15m"),
		EventRetention:   durationOf("EVENT_RETENTION_HOURS", 24*7, time.Hour),
		SessionRetention: durationOf("SESSION_RETENTION_HOURS", 24*30, time.Hour),
	}, nil
}

// Validate reports settings the panel cannot start with. Missing CI credentials are
// not among them: deploys report those to the user as a configuration error.
func (c PanelConfig) Validate() error {
	var problems []string
	switch strings.ToLower(strings.TrimSpace(c.CIProvider)) {
	case "", "gitlab", "github":
	default:
		problems = append(problems, fmt.Sprintf("CI_PROVIDER %q is not one of gitlab, github", c.CIProvider))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if strings.EqualFold(c.Environment, "production") {
		if c.JWTSecret == defaultSecret {
			problems = append(problems, "JWT_SECRET must be changed in production")
		}
		if c.ConfigEncryptionKey == defaultSecret {
			problems = append(problems, "CONFIG_ENCRYPTION_KEY must be changed in production")
		}
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		problems = append(problems, "ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	if c.DeployMaxAttempts <= 0 {
		problems = append(problems, "DEPLOY_MAX_ATTEMPTS must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
