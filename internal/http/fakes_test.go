package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// accountStore is an in-memory user, session and token store.
type accountStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	sessions map[string]*domain.Session
	tokens   map[string]*domain.AccessToken
}

func newAccountStore() *accountStore {
	return &accountStore{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*domain.Session),
		tokens:   make(map[string]*domain.AccessToken),
	}
}

func (s *accountStore) CreateUserWithToken(_ context.Context, user *domain.User, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return repository.ErrConflict
		}
	}
	token, ok := s.tokens[tokenID]
	if !ok || token.UsedBy != nil {
		return repository.ErrTokenUsed
	}
	token.UsedBy = &user.ID
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *accountStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *accountStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *accountStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *accountStore) ListUsers(context.Context) ([]domain.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserSummary, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, domain.UserSummary{ID: u.ID, Username: u.Username, Admin: u.Admin, Active: u.Active})
	}
	return out, nil
}

func (s *accountStore) UpdateAccessUntil(_ context.Context, userID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.AccessUntil = &until
	u.Active = true
	return nil
}

func (s *accountStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.users, userID)
	return nil
}

func (s *accountStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *accountStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *accountStore) RevokeUserSessions(_ context.Context, userID, keep string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID == userID && id != keep && sess.RevokedAt == nil {
			revokedAt := at
			sess.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (s *accountStore) RevokeSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	sess.RevokedAt = &at
	return nil
}

func (s *accountStore) DeleteSessionsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *accountStore) CreateAccessToken(_ context.Context, token *domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.ID] = &cp
	return nil
}

func (s *accountStore) GetAccessTokenByValue(_ context.Context, value string) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Value == value {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *accountStore) ListAccessTokens(_ context.Context, months int) ([]domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AccessToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		if months == 0 || t.DurationMonths == months {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *accountStore) DeleteAccessToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.tokens, id)
	for _, u := range s.users {
		if u.TokenID != nil && *u.TokenID == id {
			u.Active = false
		}
	}
	return nil
}

// busyPipelines reports a pipeline that is already running for the account.
type busyPipelines struct {
	running string
}

func (b busyPipelines) Trigger(context.Context, string) (pipeline.Trigger, error) {
	return pipeline.Trigger{}, errors.New("not expected")
}

func (b busyPipelines) Status(_ context.Context, id string) (domain.PipelineRun, error) {
	return domain.PipelineRun{ID: id, Status: domain.PipelineRunning}, nil
}

func (b busyPipelines) Cancel(context.Context, string) error          { return nil }
func (b busyPipelines) LatestRunning(context.Context, string) (string, error) { return b.running, nil }
func (b busyPipelines) Ready(context.Context, string) (bool, error)   { return false, nil }
func (b busyPipelines) Name() string                                  { return "fake" }
