package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Token  string
	Body   string
}

type fakeCI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeCI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Token:  r.Header.Get("PRIVATE-TOKEN"),
		Body:   string(body),
	})
	f.mu.Unlock()
	f.handler(w, r)
}

func newTestGitLab(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*GitLab, *fakeCI) {
	t.Helper()
	ci := &fakeCI{handler: handler}
	srv := httptest.NewServer(ci)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	gl := NewGitLab(GitLabConfig{BaseURL: srv.URL, Token: "glpat-test", ProjectID: "group/app"},
		WithLogger(logger), WithRand(func(int) int { return 42 }), WithRateLimit(1000))
	return gl, ci
}

func TestGitLabTriggerFallsBackToSecondBranch(t *testing.T) {
	gl, ci := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") == "main" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":{"ref":["is invalid"]}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42,"status":"created"}`))
	})

	trig, err := gl.Trigger(context.Background(), "Bob123")
	require.NoError(t, err)
	require.Equal(t, "42", trig.PipelineID)
	require.Equal(t, "bob123042", trig.Subdomain)
	require.Equal(t, "master", trig.Ref)

	require.Len(t, ci.requests, 2)
	require.Equal(t, "/projects/group/app/pipeline", ci.requests[1].Path)
	require.Equal(t, "glpat-test", ci.requests[1].Token)
	var body struct {
		Variables []gitlabVariable `json:"variables"`
	}
	require.NoError(t, json.Unmarshal([]byte(ci.requests[1].Body), &body))
	require.Equal(t, []gitlabVariable{{Key: "SUBDOMAIN", Value: "bob123042", VariableType: "env_var"}}, body.Variables)
}

func TestGitLabTriggerDoesNotRetryOtherFailures(t *testing.T) {
	gl, ci := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"403 Forbidden"}`))
	})

	_, err := gl.Trigger(context.Background(), "bob")
	require.Error(t, err)
	require.Equal(t, MsgAccessDenied, PublicMessage(err))
	require.Len(t, ci.requests, 1)
}

func TestGitLabTriggerBadRequestWithoutRefIsFinal(t *testing.T) {
	gl, ci := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":{"base":["Pipeline will not run"]}}`))
	})

	_, err := gl.Trigger(context.Background(), "bob")
	require.Equal(t, MsgInvalidRequest, PublicMessage(err))
	require.Len(t, ci.requests, 1)
}

func TestGitLabMissingConfiguration(t *testing.T) {
	gl := NewGitLab(GitLabConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := gl.Trigger(context.Background(), "bob")
	require.True(t, errors.Is(err, ErrConfiguration))
	require.Equal(t, MsgConfiguration, PublicMessage(err))
}

func TestGitLabStatus(t *testing.T) {
	gl, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/pipelines/7") {
			_, _ = w.Write([]byte(`{"id":7,"status":"running","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:01:00Z"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	run, err := gl.Status(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, domain.PipelineRunning, run.Status)
	require.False(t, run.Terminal())
}

func TestGitLabLatestRunningIsScopedToAccount(t *testing.T) {
	gl, ci := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pipelines"):
			_, _ = w.Write([]byte(`[{"id":12,"status":"running"},{"id":11,"status":"running"},{"id":10,"status":"running"}]`))
		case strings.HasSuffix(r.URL.Path, "/pipelines/12/variables"):
			_, _ = w.Write([]byte(`[{"key":"SUBDOMAIN","value":"bob042"}]`))
		case strings.HasSuffix(r.URL.Path, "/pipelines/11/variables"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/pipelines/10/variables"):
			_, _ = w.Write([]byte(`[{"key":"OTHER","value":"x"},{"key":"SUBDOMAIN","value":"alice042"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	latest, err := gl.LatestRunning(context.Background(), "Alice")
	require.NoError(t, err)
	require.Equal(t, "10", latest)
	require.Equal(t, "status=running&order_by=id&sort=desc&per_page=20", ci.requests[0].Query)

	latest, err = gl.LatestRunning(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "12", latest)

	latest, err = gl.LatestRunning(context.Background(), "carol")
	require.NoError(t, err)
	require.Empty(t, latest)
}

func TestGitLabReadyReadsRunningJobTrace(t *testing.T) {
	gl, ci := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pipelines/5/jobs"):
			_, _ = w.Write([]byte(`[{"id":1,"status":"success"},{"id":2,"status":"running"}]`))
		case strings.HasSuffix(r.URL.Path, "/jobs/2/trace"):
			_, _ = w.Write([]byte("booting\n" + ReadyMarker + "\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ready, err := gl.Ready(context.Background(), "5")
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, "/projects/group/app/jobs/2/trace", ci.requests[1].Path)
}

func TestGitLabReadyWithoutJobs(t *testing.T) {
	gl, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	ready, err := gl.Ready(context.Background(), "5")
	require.NoError(t, err)
	require.False(t, ready)
}

func TestGitLabCancelFailureIsStopError(t *testing.T) {
	gl, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := gl.Cancel(context.Background(), "5")
	require.Error(t, err)
	require.Equal(t, MsgStopFailed, PublicMessage(err))
}
