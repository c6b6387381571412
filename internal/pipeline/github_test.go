package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

func newTestGitHub(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*GitHub, *fakeCI, *[]time.Duration) {
	t.Helper()
	ci := &fakeCI{handler: handler}
	srv := httptest.NewServer(ci)
	t.Cleanup(srv.Close)
	var slept []time.Duration
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	gh := NewGitHub(GitHubConfig{BaseURL: srv.URL, Token: "ghp", Owner: "acme", Repo: "backend", Workflow: "deploy.yml"},
		WithLogger(logger),
		WithRand(func(int) int { return 5 }),
		WithRateLimit(1000),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))
	return gh, ci, &slept
}

func TestGitHubTriggerDispatchesAndResolvesRun(t *testing.T) {
	gh, ci, slept := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/dispatches"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/runs"):
			_, _ = w.Write([]byte(`{"workflow_runs":[{"id":1234,"status":"queued","display_title":"Backend alice005"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	trig, err := gh.Trigger(context.Background(), "Alice")
	require.NoError(t, err)
	require.Equal(t, "1234", trig.PipelineID)
	require.Equal(t, "alice005", trig.Subdomain)
	require.Equal(t, []time.Duration{dispatchSettle}, *slept)

	var body struct {
		Ref    string            `json:"ref"`
		Inputs map[string]string `json:"inputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(ci.requests[0].Body), &body))
	require.Equal(t, "main", body.Ref)
	require.Equal(t, "alice005", body.Inputs["subdomain"])
	require.Equal(t, "/repos/acme/backend/actions/workflows/deploy.yml/dispatches", ci.requests[0].Path)
}

func TestGitHubStatusMapping(t *testing.T) {
	cases := []struct {
		status, conclusion, want string
	}{
		{"queued", "", domain.PipelinePending},
		{"in_progress", "", domain.PipelineRunning},
		{"completed", "success", domain.PipelineSuccess},
		{"completed", "failure", domain.PipelineFailed},
		{"completed", "timed_out", domain.PipelineFailed},
		{"completed", "cancelled", domain.PipelineCanceled},
		{"completed", "skipped", domain.PipelineSkipped},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, GitHubStatus(tc.status, tc.conclusion), tc.status+"/"+tc.conclusion)
	}
}

func TestGitHubReadyLooksForKeepRunningStep(t *testing.T) {
	gh, _, _ := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jobs":[{"status":"in_progress","steps":[{"name":"Checkout","status":"completed"},{"name":"Keep running","status":"in_progress"}]}]}`))
	})
	ready, err := gh.Ready(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, ready)
}

func TestGitHubLatestRunningEmpty(t *testing.T) {
	gh, ci, _ := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"workflow_runs":[]}`))
	})
	id, err := gh.LatestRunning(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, id)
	require.Equal(t, "/repos/acme/backend/actions/workflows/deploy.yml/runs", ci.requests[0].Path)
	require.Equal(t, "status=in_progress&per_page=20", ci.requests[0].Query)
}

func TestGitHubLatestRunningSkipsOtherAccounts(t *testing.T) {
	gh, _, _ := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"workflow_runs":[
			{"id":30,"status":"in_progress","display_title":"Backend bob412"},
			{"id":20,"status":"in_progress","display_title":"Backend alice1007"},
			{"id":10,"status":"in_progress","display_title":"Backend alice007"}
		]}`))
	})

	id, err := gh.LatestRunning(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "10", id)

	id, err = gh.LatestRunning(context.Background(), "carol")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestGitHubTriggerIgnoresRunsDispatchedByOthers(t *testing.T) {
	lookups := 0
	gh, _, slept := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/dispatches"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/runs"):
			lookups++
			if lookups == 1 {
				_, _ = w.Write([]byte(`{"workflow_runs":[{"id":77,"status":"queued","display_title":"Backend bob005"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"workflow_runs":[
				{"id":78,"status":"queued","display_title":"Backend alice005"},
				{"id":77,"status":"queued","display_title":"Backend bob005"}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	trig, err := gh.Trigger(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "78", trig.PipelineID)
	require.Equal(t, []time.Duration{dispatchSettle, dispatchSettle}, *slept)
}

func TestGitHubTriggerFailsWhenRunNeverAppears(t *testing.T) {
	gh, _, slept := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/dispatches"):
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = w.Write([]byte(`{"workflow_runs":[{"id":77,"status":"queued","display_title":"Backend bob005"}]}`))
		}
	})

	_, err := gh.Trigger(context.Background(), "alice")
	require.ErrorIs(t, err, ErrNoRun)
	require.Equal(t, MsgActivationFailed, PublicMessage(err))
	require.Len(t, *slept, dispatchLookups)
}

func TestGitHubUnauthorized(t *testing.T) {
	gh, _, _ := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := gh.Status(context.Background(), "1")
	require.Equal(t, MsgAuthentication, PublicMessage(err))
}
