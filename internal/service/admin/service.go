// Package admin implements the operator console: access tokens and accounts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/service/auth"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/crypto"
)

const maxDurationMonths = 24

// ErrInvalidDuration reports a token duration outside 1..24 months.
var ErrInvalidDuration = errors.New("duration must be between 1 and 24 months")

// Service handles administrative workflows.
type Service struct {
	users     repository.UserRepository
	tokens    repository.AccessTokenRepository
	sessions  repository.SessionRepository
	publisher auth.SessionPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// Dependencies groups the stores the console needs.
type Dependencies struct {
	Users     repository.UserRepository
	Tokens    repository.AccessTokenRepository
	Sessions  repository.SessionRepository
	Publisher auth.SessionPublisher
}

// New constructs an admin service.
func New(deps Dependencies, logger *slog.Logger) Service {
	return Service{
		users:     deps.Users,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		publisher: deps.Publisher,
		logger:    logger.With("component", "admin"),
		now:       time.Now,
	}
}

// GenerateToken mints a single-use registration token.
func (s Service) GenerateToken(ctx context.Context, durationMonths int) (*domain.AccessToken, error) {
	if durationMonths < 1 || durationMonths > maxDurationMonths {
		return nil, ErrInvalidDuration
	}
	value, err := crypto.RandomToken(16)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := &domain.AccessToken{
		ID:             uuid.NewString(),
		Value:          value,
		DurationMonths: durationMonths,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.tokens.CreateAccessToken(ctx, token); err != nil {
		return nil, err
	}
	s.logger.Info("access token generated", "token_id", token.ID, "duration_months", durationMonths)
	return token, nil
}

// ListTokens lists tokens, optionally only those of one duration.
func (s Service) ListTokens(ctx context.Context, durationMonths int) ([]domain.AccessToken, error) {
	if durationMonths < 0 || durationMonths > maxDurationMonths {
		return nil, ErrInvalidDuration
	}
	return s.tokens.ListAccessTokens(ctx, durationMonths)
}

// ListUsers lists every account.
func (s Service) ListUsers(ctx context.Context) ([]domain.UserSummary, error) {
	return s.users.ListUsers(ctx)
}

// RenewUser extends an account's access by durationMonths from now.
func (s Service) RenewUser(ctx context.Context, userID string, durationMonths int) (time.Time, error) {
	if durationMonths < 1 || durationMonths > maxDurationMonths {
		return time.Time{}, ErrInvalidDuration
	}
	until := auth.AccessUntil(s.now().UTC(), durationMonths)
	if err := s.users.UpdateAccessUntil(ctx, userID, *until); err != nil {
		return time.Time{}, err
	}
	s.logger.Info("user access renewed", "user_id", userID, "access_until", until)
	return *until, nil
}

// DeleteUser removes an account and signs out all of its clients.
func (s Service) DeleteUser(ctx context.Context, userID string) (int64, error) {
	revoked, err := s.sessions.RevokeUserSessions(ctx, userID, "", s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return 0, err
	}
	if s.publisher != nil {
		if err := s.publisher.Clear(ctx, userID); err != nil {
			s.logger.Warn("failed to clear session key", "user_id", userID, "error", err)
		}
	}
	s.logger.Info("user deleted", "user_id", userID, "sessions_invalidated", revoked)
	return revoked, nil
}

// DeleteToken removes a token. An account registered with it loses access.
func (s Service) DeleteToken(ctx context.Context, tokenID string) error {
	if err := s.tokens.DeleteAccessToken(ctx, tokenID); err != nil {
		return err
	}
	s.logger.Info("access token deleted", "token_id", tokenID)
	return nil
}
