package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/config"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/crypto"
	jwtpkg "github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/jwt"
)

// Service handles authentication workflows.
type Service struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	tokens    repository.AccessTokenRepository
	publisher SessionPublisher
	limiter   *AttemptLimiter
	logger    *slog.Logger
	cfg       config.PanelConfig
	now       func() time.Time
}

// Dependencies groups the stores the service needs.
type Dependencies struct {
	Users     repository.UserRepository
	Sessions  repository.SessionRepository
	Tokens    repository.AccessTokenRepository
	Publisher SessionPublisher
}

// New constructs a Service.
func New(deps Dependencies, logger *slog.Logger, cfg config.PanelConfig) Service {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 30 * 24 * time.Hour
	}
	return Service{
		users:     deps.Users,
		sessions:  deps.Sessions,
		tokens:    deps.Tokens,
		publisher: deps.Publisher,
		limiter:   NewAttemptLimiter(),
		logger:    logger.With("component", "auth"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SignupInput carries registration fields.
type SignupInput struct {
	Username        string
	Password        string
	ConfirmPassword string
	Token           string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User      *domain.User
	Session   *domain.Session
	Token     string
	ExpiresAt time.Time
}

// Principal is an authenticated caller.
type Principal struct {
	User      *domain.User
	SessionID string
}

// Signup registers a new user with a single-use access token. client identifies the
// caller for attempt limiting.
func (s Service) Signup(ctx context.Context, in SignupInput, client string) (*domain.User, error) {
	key := "signup:" + client
	if ok, wait := s.limiter.Allow(key, signupLimit); !ok {
		return nil, &RateLimitedError{Action: "signup", RetryAfter: wait}
	}
	s.limiter.Record(key)

	username, err := ValidateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	tokenValue, err := ValidateToken(in.Token)
	if err != nil {
		return nil, err
	}
	if in.Password != in.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	if DetectSQLInjection(username) || DetectSQLInjection(tokenValue) {
		return nil, ErrInvalidCharacters
	}

	token, err := s.tokens.GetAccessTokenByValue(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	if token.UsedBy != nil {
		return nil, ErrTokenUsed
	}

	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Active:       true,
		TokenID:      &token.ID,
		AccessUntil:  AccessUntil(now, token.DurationMonths),
		CreatedAt:    now,
	}
	if err := s.users.CreateUserWithToken(ctx, user, token.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrUsernameTaken
		case errors.Is(err, repository.ErrTokenUsed):
			return nil, ErrTokenUsed
		}
		return nil, err
	}
	s.limiter.Reset(key)
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login authenticates a user, revokes every older session and announces the new one.
func (s Service) Login(ctx context.Context, username, password, client string) (*LoginResult, error) {
	key := "login:" + client
	if ok, wait := s.limiter.Allow(key, loginLimit); !ok {
		return nil, &RateLimitedError{Action: "login", RetryAfter: wait}
	}
	s.limiter.Record(key)

	name, err := ValidateUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := ValidatePassword(password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if DetectSQLInjection(name) {
		return nil, ErrInvalidCharacters
	}

	user, err := s.users.GetUserByUsername(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrAccountInactive
	}
	now := s.now().UTC()
	if user.AccessUntil != nil && now.After(*user.AccessUntil) {
		return nil, ErrSubscriptionExpired
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	revoked, err := s.sessions.RevokeUserSessions(ctx, user.ID, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("revoke older sessions: %w", err)
	}
	token, err := jwtpkg.GenerateToken(jwtpkg.Subject{
		UserID:    user.ID,
		SessionID: session.ID,
		Username:  user.Username,
		Admin:     user.Admin,
	}, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, user.ID, session.ID); err != nil {
			s.logger.Warn("failed to announce session", "user_id", user.ID, "error", err)
		}
	}
	s.limiter.Reset(key)
	s.logger.Info("user logged in", "user_id", user.ID, "revoked_sessions", revoked)
	return &LoginResult{User: user, Session: session, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Logout revokes one session. Clients of the user are signed out even if revocation fails.
func (s Service) Logout(ctx context.Context, p Principal) error {
	defer s.clear(ctx, p.User.ID)
	err := s.sessions.RevokeSession(ctx, p.SessionID, s.now().UTC())
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	s.logger.Warn("failed to revoke session", "user_id", p.User.ID, "error", err)
	return err
}

// LogoutAll revokes every session of the user.
func (s Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeUserSessions(ctx, userID, "", s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.clear(ctx, userID)
	s.logger.Info("all sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

func (s Service) clear(ctx context.Context, userID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Clear(ctx, userID); err != nil {
		s.logger.Warn("failed to clear session key", "user_id", userID, "error", err)
	}
}

// Authorize validates a bearer token and the session behind it.
func (s Service) Authorize(ctx context.Context, token string) (*Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, &SessionInvalidError{Reason: ReasonSessionExpired}
	}
	return s.Validate(ctx, claims.UserID, claims.SessionID)
}

// Validate checks that sessionID is the live session of userID. Invalid sessions
// yield a *SessionInvalidError; other errors are transient and callers should not
// sign the user out because of them.
func (s Service) Validate(ctx context.Context, userID, sessionID string) (*Principal, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &SessionInvalidError{Reason: ReasonUserDeleted}
		}
		return nil, err
	}
	if !user.Active {
		return nil, &SessionInvalidError{Reason: ReasonAccessRevoked}
	}
	now := s.now().UTC()
	if user.AccessUntil != nil && now.After(*user.AccessUntil) {
		return nil, &SessionInvalidError{Reason: ReasonSubscriptionExpired}
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &SessionInvalidError{Reason: ReasonSessionExpired}
		}
		return nil, err
	}
	switch {
	case session.UserID != user.ID:
		return nil, &SessionInvalidError{Reason: ReasonSessionExpired}
	case session.RevokedAt != nil:
		return nil, &SessionInvalidError{Reason: ReasonReplaced}
	case now.After(session.ExpiresAt):
		return nil, &SessionInvalidError{Reason: ReasonSessionExpired}
	}
	return &Principal{User: user, SessionID: session.ID}, nil
}

// BootstrapAdmin creates the admin account when it does not exist yet.
func (s Service) BootstrapAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Admin:        true,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil && !errors.Is(err, repository.ErrConflict) {
		return err
	}
	s.logger.Info("admin account created", "username", username)
	return nil
}

// Limiter exposes the attempt limiter for periodic cleanup.
func (s Service) Limiter() *AttemptLimiter {
	return s.limiter
}

// AccessUntil computes the end of a subscription of months starting at from. Zero
// months never expires.
func AccessUntil(from time.Time, months int) *time.Time {
	if months <= 0 {
		return nil
	}
	until := from.AddDate(0, months, 0)
	return &until
}
