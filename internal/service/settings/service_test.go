package settings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
)

type memorySettings struct {
	sealed map[string][]byte
	at     map[string]time.Time
}

func (m *memorySettings) UpsertBackendSettings(_ context.Context, userID string, sealed []byte, updatedAt time.Time) error {
	m.sealed[userID] = sealed
	m.at[userID] = updatedAt
	return nil
}

func (m *memorySettings) GetBackendSettings(_ context.Context, userID string) ([]byte, time.Time, error) {
	sealed, ok := m.sealed[userID]
	if !ok {
		return nil, time.Time{}, repository.ErrNotFound
	}
	return sealed, m.at[userID], nil
}

type fakeBackend struct {
	calls        []string
	configureErr error
	configured   json.RawMessage
}

func (f *fakeBackend) Configure(_ context.Context, config json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, "configure")
	f.configured = config
	if f.configureErr != nil {
		return nil, f.configureErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeBackend) Connect(context.Context) (json.RawMessage, error) {
	f.calls = append(f.calls, "connect")
	return json.RawMessage(`{"connected":true}`), nil
}

func newTestService() (Service, *memorySettings) {
	repo := &memorySettings{sealed: map[string][]byte{}, at: map[string]time.Time{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return New(repo, "config-key", logger), repo
}

func TestSaveSealsAndGetOpens(t *testing.T) {
	svc, repo := newTestService()
	cfg := json.RawMessage(`{"rc1":"alpha","attack1":1800,"waiting1":1900}`)

	_, err := svc.Save(context.Background(), "u1", cfg)
	require.NoError(t, err)
	require.NotContains(t, string(repo.sealed["u1"]), "alpha")

	got, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.JSONEq(t, string(cfg), string(got.Config))

	empty, err := svc.Get(context.Background(), "u2")
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(empty.Config))
}

func TestSaveRejectsDuplicateCodes(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Save(context.Background(), "u1", json.RawMessage(`{"rc1":"Alpha","kickrc":"alpha"}`))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "This code is already in use. Please use a unique code.", cfgErr.Message)

	_, err = svc.Save(context.Background(), "u1", json.RawMessage(`[1,2]`))
	require.True(t, errors.As(err, &cfgErr))
}

func TestApplyConfiguresBeforeConnecting(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Save(context.Background(), "u1", json.RawMessage(`{"rc1":"alpha","attack1":"1800","waiting1":1900}`))
	require.NoError(t, err)

	backend := &fakeBackend{}
	res, err := svc.Apply(context.Background(), "u1", backend)
	require.NoError(t, err)
	require.Equal(t, []string{"configure", "connect"}, backend.calls)
	require.JSONEq(t, `{"connected":true}`, string(res.Connected))
	require.True(t, strings.Contains(string(backend.configured), "alpha"))
}

func TestApplyStopsWhenConfigureFails(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Save(context.Background(), "u1", json.RawMessage(`{"rc2":"beta","attack2":1,"waiting2":1}`))
	require.NoError(t, err)

	backend := &fakeBackend{configureErr: errors.New("tunnel down")}
	_, err = svc.Apply(context.Background(), "u1", backend)
	require.Error(t, err)
	require.Equal(t, []string{"configure"}, backend.calls)
}

func TestApplyValidatesBeforeCallingBackend(t *testing.T) {
	cases := []struct {
		config string
		want   string
	}{
		{`{}`, "Please enter at least one connection code (PRIMARY) before connecting"},
		{`{"rc3":"x","attack3":0,"waiting3":5}`, "CODE 3: Please enter a valid Attack timing (ATK must be greater than 0)"},
		{`{"rc1":"x","attack1":5}`, "CODE 1: Please enter a valid Defense timing (DEF must be greater than 0)"},
		{`{"rc1":"x","attack1":5,"waiting1":5,"timershift":true}`, "Auto Timing: Please enter a valid Increment value (must be greater than 0)"},
		{`{"rc1":"x","attack1":5,"waiting1":5,"timershift":true,"incrementvalue":1,"decrementvalue":1,"minatk":9,"maxatk":3,"mindef":1,"maxdef":2}`, "Auto Timing: Min ATK must be less than Max ATK"},
	}
	for _, tc := range cases {
		svc, _ := newTestService()
		_, err := svc.Save(context.Background(), "u1", json.RawMessage(tc.config))
		require.NoError(t, err, tc.config)
		backend := &fakeBackend{}
		_, err = svc.Apply(context.Background(), "u1", backend)
		require.EqualError(t, err, tc.want, tc.config)
		require.Empty(t, backend.calls)
	}
}
