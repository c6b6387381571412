// Package settings stores each user's backend configuration and pushes it to the
// deployed backend.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/crypto"
)

// Backend is the part of the backend client that applies a configuration.
type Backend interface {
	Configure(ctx context.Context, config json.RawMessage) (json.RawMessage, error)
	Connect(ctx context.Context) (json.RawMessage, error)
}

// ApplyResult carries the backend responses of an apply.
type ApplyResult struct {
	Configured json.RawMessage `json:"configured"`
	Connected  json.RawMessage `json:"connected"`
}

// Service persists sealed configuration documents.
type Service struct {
	repo   repository.SettingsRepository
	secret string
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a settings service. secret keys the at-rest encryption.
func New(repo repository.SettingsRepository, secret string, logger *slog.Logger) Service {
	return Service{repo: repo, secret: secret, logger: logger.With("component", "settings"), now: time.Now}
}

// Get returns the user's saved configuration, or an empty document.
func (s Service) Get(ctx context.Context, userID string) (domain.BackendSettings, error) {
	sealed, updatedAt, err := s.repo.GetBackendSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.BackendSettings{UserID: userID, Config: json.RawMessage("{}")}, nil
		}
		return domain.BackendSettings{}, err
	}
	var config json.RawMessage
	if err := crypto.OpenJSON(s.secret, sealed, &config); err != nil {
		return domain.BackendSettings{}, fmt.Errorf("open settings: %w", err)
	}
	return domain.BackendSettings{UserID: userID, Config: config, UpdatedAt: updatedAt}, nil
}

// Save validates and stores a configuration document.
func (s Service) Save(ctx context.Context, userID string, config json.RawMessage) (domain.BackendSettings, error) {
	doc, err := decode(config)
	if err != nil {
		return domain.BackendSettings{}, err
	}
	if err := checkUnique(doc); err != nil {
		return domain.BackendSettings{}, err
	}
	sealed, err := crypto.SealJSON(s.secret, config)
	if err != nil {
		return domain.BackendSettings{}, fmt.Errorf("seal settings: %w", err)
	}
	now := s.now().UTC()
	if err := s.repo.UpsertBackendSettings(ctx, userID, sealed, now); err != nil {
		return domain.BackendSettings{}, err
	}
	return domain.BackendSettings{UserID: userID, Config: config, UpdatedAt: now}, nil
}

// Apply pushes the saved configuration to the backend and then connects. The connect
// call is never made when configure fails.
func (s Service) Apply(ctx context.Context, userID string, backend Backend) (ApplyResult, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return ApplyResult{}, err
	}
	doc, err := decode(current.Config)
	if err != nil {
		return ApplyResult{}, err
	}
	if err := checkConnectable(doc); err != nil {
		return ApplyResult{}, err
	}
	configured, err := backend.Configure(ctx, current.Config)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("configure backend: %w", err)
	}
	connected, err := backend.Connect(ctx)
	if err != nil {
		return ApplyResult{Configured: configured}, fmt.Errorf("connect backend: %w", err)
	}
	s.logger.Info("backend configured and connected", "user_id", userID)
	return ApplyResult{Configured: configured, Connected: connected}, nil
}
