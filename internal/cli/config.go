package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	defaultAPIBaseURL = "http://localhost:4000"
	keyringService    = "gkl"
)

// Config is the persisted CLI state. AccessToken is only written here when the
// system keyring is unavailable.
type Config struct {
	APIBaseURL  string `json:"api_base_url"`
	Username    string `json:"username,omitempty"`
	TabID       string `json:"tab_id,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "gkl", "config.json"), nil
}

// LoadConfig reads the CLI config, returning defaults when none exists yet.
func LoadConfig() (Config, error) {
	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{APIBaseURL: defaultAPIBaseURL}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

// SaveConfig writes cfg with owner-only permissions.
func SaveConfig(cfg Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// storeToken keeps token in the system keyring under the panel address and falls
// back to the config file when no keyring is available.
func storeToken(cfg *Config, token string) {
	if err := keyring.Set(keyringService, cfg.APIBaseURL, token); err == nil {
		cfg.AccessToken = ""
		return
	}
	cfg.AccessToken = token
}

func loadToken(cfg Config) string {
	if token, err := keyring.Get(keyringService, cfg.APIBaseURL); err == nil && strings.TrimSpace(token) != "" {
		return token
	}
	return strings.TrimSpace(cfg.AccessToken)
}

// clearToken is best effort on the keyring side; a missing or unreachable keyring
// holds nothing to clear.
func clearToken(cfg *Config) {
	cfg.AccessToken = ""
	_ = keyring.Delete(keyringService, cfg.APIBaseURL)
}
