package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticResolver string

func (s staticResolver) Resolve() string { return string(s) }

func TestClientFailsClosedWithoutEndpoint(t *testing.T) {
	c := NewClient(staticResolver(""), nil)
	_, err := c.Status(context.Background())
	require.ErrorIs(t, err, ErrNoEndpoint)
	_, err = c.Configure(context.Background(), json.RawMessage(`{"rc1":"x"}`))
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestClientSendsTunnelHeaderAndCacheBuster(t *testing.T) {
	var seen *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{"connected":true}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(staticResolver(srv.URL+"/"), srv.Client())
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }

	body, err := c.Status(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"connected":true}`, string(body))
	require.Equal(t, "/api/status", seen.URL.Path)
	require.Equal(t, "1700000000123", seen.URL.Query().Get("t"))
	require.Equal(t, "true", seen.Header.Get("bypass-tunnel-reminder"))
	require.Equal(t, "no-cache", seen.Header.Get("Cache-Control"))
}

func TestClientBypassesCachesOnEveryGet(t *testing.T) {
	var seen []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Clone(context.Background()))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(staticResolver(srv.URL), srv.Client())
	c.now = func() time.Time { return time.UnixMilli(42) }
	ctx := context.Background()

	_, err := c.Health(ctx)
	require.NoError(t, err)
	_, err = c.Logs(ctx)
	require.NoError(t, err)
	_, err = c.Connect(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	for _, r := range seen[:2] {
		require.Equal(t, "42", r.URL.Query().Get("t"), r.URL.Path)
		require.Equal(t, "no-cache", r.Header.Get("Cache-Control"), r.URL.Path)
		require.Equal(t, "no-cache", r.Header.Get("Pragma"), r.URL.Path)
	}
	require.Empty(t, seen[2].URL.RawQuery)
	require.Empty(t, seen[2].Header.Get("Cache-Control"))
}

func TestClientPostsCommandBody(t *testing.T) {
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/send", r.URL.Path)
		require.Empty(t, r.URL.RawQuery)
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(staticResolver(srv.URL), srv.Client())
	body, err := c.Send(context.Background(), SendCommand{WSNumber: 2, Command: "JOIN"})
	require.NoError(t, err)
	require.Equal(t, "null", string(body))
	require.JSONEq(t, `{"wsNumber":2,"command":"JOIN"}`, string(payload))
}

func TestClientClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not connected", http.StatusServiceUnavailable)
	}))
	c := NewClient(staticResolver(srv.URL), srv.Client())

	_, err := c.Connect(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	require.False(t, errors.Is(err, ErrNetwork))

	srv.Close()
	_, err = c.Health(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
}
