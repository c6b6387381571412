package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileFlattensAndKeepsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.yaml")
	doc := []byte("gitlab:\n  token: from-file\n  branches: [main, release]\npanel-addr: \":9000\"\n")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("PANEL_ADDR", ":7000")
	os.Unsetenv("GITLAB_TOKEN")
	os.Unsetenv("GITLAB_BRANCHES")
	t.Cleanup(func() {
		os.Unsetenv("GITLAB_TOKEN")
		os.Unsetenv("GITLAB_BRANCHES")
	})

	if err := ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile returned error: %v", err)
	}
	if got := os.Getenv("GITLAB_TOKEN"); got != "from-file" {
		t.Fatalf("expected token from file, got %q", got)
	}
	if got := os.Getenv("GITLAB_BRANCHES"); got != "main,release" {
		t.Fatalf("expected joined branches, got %q", got)
	}
	if got := os.Getenv("PANEL_ADDR"); got != ":7000" {
		t.Fatalf("expected env to win, got %q", got)
	}
}

func TestLoadPanelConfigDefaults(t *testing.T) {
	t.Setenv("PANEL_CONFIG_FILE", "")
	t.Setenv("DEPLOY_POLL_SECONDS", "7")
	t.Setenv("GITLAB_BRANCHES", " main , ,fallback ")

	cfg, err := LoadPanelConfig()
	if err != nil {
		t.Fatalf("LoadPanelConfig returned error: %v", err)
	}
	if cfg.DeployPollInterval != 7*time.Second {
		t.Fatalf("expected 7s poll interval, got %s", cfg.DeployPollInterval)
	}
	if len(cfg.GitLabBranches) != 2 || cfg.GitLabBranches[1] != "fallback" {
		t.Fatalf("unexpected branches %v", cfg.GitLabBranches)
	}
	if cfg.DeployMaxAttempts != 120 {
		t.Fatalf("expected 120 attempts by default, got %d", cfg.DeployMaxAttempts)
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	if got := GetInt("SOME_INT", 4); got != 4 {
		t.Fatalf("expected fallback, got %d", got)
	}
}

func TestPanelConfigValidate(t *testing.T) {
	valid := PanelConfig{CIProvider: "github", JWTSecret: "s", DeployMaxAttempts: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	prod := valid
	prod.Environment = "production"
	prod.JWTSecret = defaultSecret
	prod.AdminUsername = "admin"
	if err := prod.Validate(); err == nil ||
		!strings.Contains(err.Error(), "JWT_SECRET must be changed") ||
		!strings.Contains(err.Error(), "must be set together") {
		t.Fatalf("unexpected error %v", err)
	}

	unknown := valid
	unknown.CIProvider = "jenkins"
	if err := unknown.Validate(); err == nil || !strings.Contains(err.Error(), "jenkins") {
		t.Fatalf("expected provider error, got %v", err)
	}
}
