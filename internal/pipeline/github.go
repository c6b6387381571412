package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

// dispatchSettle is how long GitHub needs before a dispatched run is listed.
const dispatchSettle = 2 * time.Second

// dispatchLookups bounds how often the run list is read back after a dispatch.
const dispatchLookups = 3

// readyStep is the workflow step that keeps the backend alive once it booted.
const readyStep = "keep running"

// GitHubConfig locates the workflow that runs the backend.
type GitHubConfig struct {
	BaseURL  string
	Token    string
	Owner    string
	Repo     string
	Workflow string
	Ref      string
}

// GitHub implements Client against GitHub Actions.
type GitHub struct {
	http     *requester
	owner    string
	repo     string
	workflow string
	ref      string
	rng      func(int) int
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
	token    string
}

var _ Client = (*GitHub)(nil)

// NewGitHub constructs a GitHub Actions provider.
func NewGitHub(cfg GitHubConfig, opts ...Option) *GitHub {
	s := newSettings(opts)
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://api.github.com"
	}
	ref := strings.TrimSpace(cfg.Ref)
	if ref == "" {
		ref = "main"
	}
	token := strings.TrimSpace(cfg.Token)
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &GitHub{
		http:     newRequester(base, headers, s),
		owner:    strings.TrimSpace(cfg.Owner),
		repo:     strings.TrimSpace(cfg.Repo),
		workflow: strings.TrimSpace(cfg.Workflow),
		ref:      ref,
		rng:      s.rng,
		sleep:    s.sleep,
		logger:   s.logger,
		token:    token,
	}
}

// Name implements Client.
func (g *GitHub) Name() string { return "github" }

func (g *GitHub) configured() bool {
	return g.token != "" && g.owner != "" && g.repo != "" && g.workflow != ""
}

func (g *GitHub) repoPath(format string, args ...any) string {
	return "/repos/" + url.PathEscape(g.owner) + "/" + url.PathEscape(g.repo) + fmt.Sprintf(format, args...)
}

type githubRun struct {
	ID           int64     `json:"id"`
	DisplayTitle string    `json:"display_title"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// titleTokens splits a run title into the words a subdomain can appear as. The
// workflow sets run-name from its subdomain input, which is how a run is tied back to
// the account that dispatched it.
func titleTokens(title string) []string {
	return strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}

func (r githubRun) carries(subdomain string) bool {
	for _, token := range titleTokens(r.DisplayTitle) {
		if token == subdomain {
			return true
		}
	}
	return false
}

func (r githubRun) ownedBy(username string) bool {
	for _, token := range titleTokens(r.DisplayTitle) {
		if OwnsSubdomain(username, token) {
			return true
		}
	}
	return false
}

type githubRuns struct {
	WorkflowRuns []githubRun `json:"workflow_runs"`
}

type githubJobs struct {
	Jobs []struct {
		Status string `json:"status"`
		Steps  []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"steps"`
	} `json:"jobs"`
}

// Trigger implements Client. Dispatch responses carry no run id, so dispatched runs
// are read back after a settle delay and the one titled with the new subdomain is
// taken. Runs dispatched concurrently for other accounts are never picked up.
func (g *GitHub) Trigger(ctx context.Context, username string) (Trigger, error) {
	if !g.configured() {
		return Trigger{}, configurationError()
	}
	subdomain, err := Subdomain(username, g.rng)
	if err != nil {
		return Trigger{}, &UserError{Message: MsgInvalidRequest, Err: err}
	}
	body := map[string]any{
		"ref":    g.ref,
		"inputs": map[string]string{"subdomain": subdomain},
	}
	resp, err := g.http.do(ctx, http.MethodPost, g.repoPath("/actions/workflows/%s/dispatches", url.PathEscape(g.workflow)), body)
	if err != nil {
		return Trigger{}, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return Trigger{}, statusError(resp.status, resp.body)
	}
	for attempt := 0; attempt < dispatchLookups; attempt++ {
		if err := g.sleep(ctx, dispatchSettle); err != nil {
			return Trigger{}, &UserError{Message: MsgSystemError, Err: err}
		}
		runs, err := g.runs(ctx, g.repoPath("/actions/workflows/%s/runs?event=workflow_dispatch&per_page=%d", url.PathEscape(g.workflow), runningPageSize))
		if err != nil {
			return Trigger{}, err
		}
		for _, run := range runs {
			if run.Status != "completed" && run.carries(subdomain) {
				id := strconv.FormatInt(run.ID, 10)
				g.logger.Info("pipeline triggered", "provider", g.Name(), "pipeline_id", id, "ref", g.ref, "subdomain", subdomain)
				return Trigger{PipelineID: id, Subdomain: subdomain, Ref: g.ref}, nil
			}
		}
	}
	return Trigger{}, &UserError{Message: MsgActivationFailed, Err: ErrNoRun}
}

func (g *GitHub) runs(ctx context.Context, path string) ([]githubRun, error) {
	resp, err := g.http.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return nil, statusError(resp.status, resp.body)
	}
	var runs githubRuns
	if err := resp.decode(&runs); err != nil {
		return nil, &UserError{Message: MsgSystemError, Err: err}
	}
	return runs.WorkflowRuns, nil
}

// Status implements Client.
func (g *GitHub) Status(ctx context.Context, pipelineID string) (domain.PipelineRun, error) {
	if !g.configured() {
		return domain.PipelineRun{}, configurationError()
	}
	resp, err := g.http.do(ctx, http.MethodGet, g.repoPath("/actions/runs/%s", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return domain.PipelineRun{}, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return domain.PipelineRun{}, statusError(resp.status, resp.body)
	}
	var run githubRun
	if err := resp.decode(&run); err != nil {
		return domain.PipelineRun{}, &UserError{Message: MsgSystemError, Err: err}
	}
	return domain.PipelineRun{
		ID:        strconv.FormatInt(run.ID, 10),
		Status:    GitHubStatus(run.Status, run.Conclusion),
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}, nil
}

// GitHubStatus folds a workflow run status and conclusion into the pipeline vocabulary.
func GitHubStatus(status, conclusion string) string {
	switch status {
	case "in_progress":
		return domain.PipelineRunning
	case "completed":
		switch conclusion {
		case "success":
			return domain.PipelineSuccess
		case "cancelled":
			return domain.PipelineCanceled
		case "skipped", "neutral", "stale":
			return domain.PipelineSkipped
		default:
			return domain.PipelineFailed
		}
	case "requested":
		return domain.PipelineCreated
	default:
		return domain.PipelinePending
	}
}

// Ready implements Client: some job step named like "keep running" is in progress.
func (g *GitHub) Ready(ctx context.Context, pipelineID string) (bool, error) {
	if !g.configured() {
		return false, configurationError()
	}
	resp, err := g.http.do(ctx, http.MethodGet, g.repoPath("/actions/runs/%s/jobs", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return false, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return false, statusError(resp.status, resp.body)
	}
	var jobs githubJobs
	if err := resp.decode(&jobs); err != nil {
		return false, &UserError{Message: MsgSystemError, Err: err}
	}
	for _, job := range jobs.Jobs {
		for _, step := range job.Steps {
			if strings.Contains(strings.ToLower(step.Name), readyStep) && step.Status == "in_progress" {
				return true, nil
			}
		}
	}
	return false, nil
}

// Cancel implements Client.
func (g *GitHub) Cancel(ctx context.Context, pipelineID string) error {
	if !g.configured() {
		return configurationError()
	}
	resp, err := g.http.do(ctx, http.MethodPost, g.repoPath("/actions/runs/%s/cancel", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return &UserError{Message: MsgStopFailed, Err: err}
	}
	if !resp.ok() {
		return &UserError{Message: MsgStopFailed, Err: &HTTPError{Status: resp.status, Body: truncate(string(resp.body), 512)}}
	}
	g.logger.Info("pipeline cancel requested", "provider", g.Name(), "pipeline_id", pipelineID)
	return nil
}

// LatestRunning implements Client. Only in-progress runs of the backend workflow
// whose title carries one of username's subdomains are considered.
func (g *GitHub) LatestRunning(ctx context.Context, username string) (string, error) {
	if !g.configured() {
		return "", configurationError()
	}
	runs, err := g.runs(ctx, g.repoPath("/actions/workflows/%s/runs?status=in_progress&per_page=%d", url.PathEscape(g.workflow), runningPageSize))
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		if run.ownedBy(username) {
			return strconv.FormatInt(run.ID, 10), nil
		}
	}
	return "", nil
}
