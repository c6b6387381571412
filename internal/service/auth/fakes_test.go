package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/config"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/crypto"
)

type memoryAccounts struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	sessions map[string]*domain.Session
	tokens   map[string]*domain.AccessToken
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*domain.Session),
		tokens:   make(map[string]*domain.AccessToken),
	}
}

func (m *memoryAccounts) CreateUserWithToken(_ context.Context, user *domain.User, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return repository.ErrConflict
		}
	}
	token, ok := m.tokens[tokenID]
	if !ok {
		return repository.ErrNotFound
	}
	if token.UsedBy != nil {
		return repository.ErrTokenUsed
	}
	token.UsedBy = &user.ID
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memoryAccounts) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memoryAccounts) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryAccounts) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryAccounts) ListUsers(context.Context) ([]domain.UserSummary, error) {
	return nil, nil
}

func (m *memoryAccounts) UpdateAccessUntil(_ context.Context, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.AccessUntil = &until
	return nil
}

func (m *memoryAccounts) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	return nil
}

func (m *memoryAccounts) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memoryAccounts) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memoryAccounts) RevokeUserSessions(_ context.Context, userID, keep string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID && id != keep && s.RevokedAt == nil {
			revokedAt := at
			s.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (m *memoryAccounts) RevokeSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.RevokedAt = &at
	return nil
}

func (m *memoryAccounts) DeleteSessionsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryAccounts) CreateAccessToken(_ context.Context, token *domain.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[token.ID] = &cp
	return nil
}

func (m *memoryAccounts) GetAccessTokenByValue(_ context.Context, value string) (*domain.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Value == value {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryAccounts) ListAccessTokens(context.Context, int) ([]domain.AccessToken, error) {
	return nil, nil
}

func (m *memoryAccounts) DeleteAccessToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	sessions map[string]string
	cleared  []string
}

func (p *recordingPublisher) Publish(_ context.Context, userID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == nil {
		p.sessions = make(map[string]string)
	}
	p.sessions[userID] = sessionID
	return nil
}

func (p *recordingPublisher) Clear(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, userID)
	p.cleared = append(p.cleared, userID)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc       Service
	store     *memoryAccounts
	publisher *recordingPublisher
	clock     *testClock
}

func newTestService() *harness {
	crypto.PasswordCost = 4
	store := newMemoryAccounts()
	pub := &recordingPublisher{}
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := New(Dependencies{Users: store, Sessions: store, Tokens: store, Publisher: pub}, logger, config.PanelConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: time.Hour,
	})
	svc.now = clock.Now
	svc.limiter.now = clock.Now
	return &harness{svc: svc, store: store, publisher: pub, clock: clock}
}

func (h *harness) addToken(value string, months int) *domain.AccessToken {
	token := &domain.AccessToken{ID: "tok-" + value, Value: value, DurationMonths: months, CreatedAt: h.clock.Now()}
	_ = h.store.CreateAccessToken(context.Background(), token)
	return token
}
