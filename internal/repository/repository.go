package repository

import (
	"context"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

// UserRepository persists panel accounts.
type UserRepository interface {
	// CreateUserWithToken inserts user and marks tokenID as used by it in one
	// transaction. It returns ErrTokenUsed when the token was redeemed concurrently.
	CreateUserWithToken(ctx context.Context, user *domain.User, tokenID string) error
	// CreateUser inserts an account that needs no access token (the bootstrap admin).
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.UserSummary, error)
	UpdateAccessUntil(ctx context.Context, userID string, until time.Time) error
	DeleteUser(ctx context.Context, userID string) error
}

// SessionRepository stores login sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// RevokeUserSessions revokes every live session of userID except keep.
	RevokeUserSessions(ctx context.Context, userID, keep string, at time.Time) (int64, error)
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error
	DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

// AccessTokenRepository manages registration tokens.
type AccessTokenRepository interface {
	CreateAccessToken(ctx context.Context, token *domain.AccessToken) error
	GetAccessTokenByValue(ctx context.Context, value string) (*domain.AccessToken, error)
	// ListAccessTokens filters by duration when durationMonths > 0.
	ListAccessTokens(ctx context.Context, durationMonths int) ([]domain.AccessToken, error)
	DeleteAccessToken(ctx context.Context, tokenID string) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	CompleteDeployment(ctx context.Context, id, status, message string, completedAt time.Time) error
	ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.DeploymentRecord, error)
}

// EventRepository persists user notifications.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *domain.Event) error
	ListEventsByUser(ctx context.Context, userID string, limit int) ([]domain.Event, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettingsRepository stores sealed backend configuration documents.
type SettingsRepository interface {
	UpsertBackendSettings(ctx context.Context, userID string, sealed []byte, updatedAt time.Time) error
	GetBackendSettings(ctx context.Context, userID string) ([]byte, time.Time, error)
}
