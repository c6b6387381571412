package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
)

// ReadyMarker is printed by the backend job once it accepts connections.
const ReadyMarker = "Backend is ready but not connected"

// GitLabConfig locates the GitLab project that runs the backend.
type GitLabConfig struct {
	BaseURL   string
	Token     string
	ProjectID string
	Branches  []string
}

// GitLab implements Client against the GitLab pipelines API.
type GitLab struct {
	http      *requester
	projectID string
	branches  []string
	rng       func(int) int
	logger    *slog.Logger
}

var _ Client = (*GitLab)(nil)

// NewGitLab constructs a GitLab provider.
func NewGitLab(cfg GitLabConfig, opts ...Option) *GitLab {
	s := newSettings(opts)
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://gitlab.com/api/v4"
	}
	branches := cfg.Branches
	if len(branches) == 0 {
		branches = []string{"main", "master"}
	}
	headers := map[string]string{}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		headers["PRIVATE-TOKEN"] = token
	}
	return &GitLab{
		http:      newRequester(base, headers, s),
		projectID: strings.TrimSpace(cfg.ProjectID),
		branches:  branches,
		rng:       s.rng,
		logger:    s.logger,
	}
}

// Name implements Client.
func (g *GitLab) Name() string { return "gitlab" }

func (g *GitLab) configured() bool {
	return g.projectID != "" && g.http.headers["PRIVATE-TOKEN"] != ""
}

func (g *GitLab) projectPath(format string, args ...any) string {
	return "/projects/" + url.PathEscape(g.projectID) + fmt.Sprintf(format, args...)
}

type gitlabVariable struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	VariableType string `json:"variable_type"`
}

type gitlabPipeline struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type gitlabJob struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Trigger implements Client. Candidate branches are tried in order and a branch is
// skipped only when GitLab reports the ref itself as invalid.
func (g *GitLab) Trigger(ctx context.Context, username string) (Trigger, error) {
	if !g.configured() {
		return Trigger{}, configurationError()
	}
	subdomain, err := Subdomain(username, g.rng)
	if err != nil {
		return Trigger{}, &UserError{Message: MsgInvalidRequest, Err: err}
	}
	body := map[string]any{
		"variables": []gitlabVariable{{Key: "SUBDOMAIN", Value: subdomain, VariableType: "env_var"}},
	}
	for _, branch := range g.branches {
		path := g.projectPath("/pipeline?ref=%s", url.QueryEscape(branch))
		resp, err := g.http.do(ctx, http.MethodPost, path, body)
		if err != nil {
			return Trigger{}, &UserError{Message: MsgSystemError, Err: err}
		}
		if resp.ok() {
			var created gitlabPipeline
			if err := resp.decode(&created); err != nil {
				return Trigger{}, &UserError{Message: MsgSystemError, Err: err}
			}
			g.logger.Info("pipeline triggered", "provider", g.Name(), "pipeline_id", created.ID, "ref", branch, "subdomain", subdomain)
			return Trigger{PipelineID: strconv.FormatInt(created.ID, 10), Subdomain: subdomain, Ref: branch}, nil
		}
		if resp.status == http.StatusBadRequest && refRejected(resp.body) {
			g.logger.Info("branch not found, trying next", "ref", branch)
			continue
		}
		return Trigger{}, statusError(resp.status, resp.body)
	}
	return Trigger{}, &UserError{Message: MsgActivationFailed, Err: ErrBranchNotFound}
}

// refRejected reports whether a 400 body names the ref as the problem.
func refRejected(body []byte) bool {
	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Message) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload.Message, &fields); err != nil {
		return false
	}
	ref, ok := fields["ref"]
	return ok && string(ref) != "null"
}

// Status implements Client.
func (g *GitLab) Status(ctx context.Context, pipelineID string) (domain.PipelineRun, error) {
	if !g.configured() {
		return domain.PipelineRun{}, configurationError()
	}
	resp, err := g.http.do(ctx, http.MethodGet, g.projectPath("/pipelines/%s", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return domain.PipelineRun{}, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return domain.PipelineRun{}, statusError(resp.status, resp.body)
	}
	var p gitlabPipeline
	if err := resp.decode(&p); err != nil {
		return domain.PipelineRun{}, &UserError{Message: MsgSystemError, Err: err}
	}
	return domain.PipelineRun{
		ID:        strconv.FormatInt(p.ID, 10),
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func (g *GitLab) jobs(ctx context.Context, pipelineID string) ([]gitlabJob, error) {
	resp, err := g.http.do(ctx, http.MethodGet, g.projectPath("/pipelines/%s/jobs", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return nil, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return nil, statusError(resp.status, resp.body)
	}
	var jobs []gitlabJob
	if err := resp.decode(&jobs); err != nil {
		return nil, &UserError{Message: MsgSystemError, Err: err}
	}
	return jobs, nil
}

// Ready implements Client by reading the trace of the running job, or of the first job
// when none is running yet.
func (g *GitLab) Ready(ctx context.Context, pipelineID string) (bool, error) {
	if !g.configured() {
		return false, configurationError()
	}
	jobs, err := g.jobs(ctx, pipelineID)
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	job := jobs[0]
	for _, candidate := range jobs {
		if candidate.Status == domain.PipelineRunning {
			job = candidate
			break
		}
	}
	resp, err := g.http.do(ctx, http.MethodGet, g.projectPath("/jobs/%d/trace", job.ID), nil)
	if err != nil {
		return false, &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return false, statusError(resp.status, resp.body)
	}
	return strings.Contains(string(resp.body), ReadyMarker), nil
}

// Cancel implements Client.
func (g *GitLab) Cancel(ctx context.Context, pipelineID string) error {
	if !g.configured() {
		return configurationError()
	}
	resp, err := g.http.do(ctx, http.MethodPost, g.projectPath("/pipelines/%s/cancel", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return &UserError{Message: MsgStopFailed, Err: err}
	}
	if !resp.ok() {
		return &UserError{Message: MsgStopFailed, Err: &HTTPError{Status: resp.status, Body: truncate(string(resp.body), 512)}}
	}
	g.logger.Info("pipeline cancel requested", "provider", g.Name(), "pipeline_id", pipelineID)
	return nil
}

// LatestRunning implements Client. The project runs every account's backend, so each
// running pipeline's SUBDOMAIN variable is checked against username, newest first.
func (g *GitLab) LatestRunning(ctx context.Context, username string) (string, error) {
	if !g.configured() {
		return "", configurationError()
	}
	resp, err := g.http.do(ctx, http.MethodGet, g.projectPath("/pipelines?status=running&order_by=id&sort=desc&per_page=%d", runningPageSize), nil)
	if err != nil {
		return "", &UserError{Message: MsgSystemError, Err: err}
	}
	if !resp.ok() {
		return "", statusError(resp.status, resp.body)
	}
	var runs []gitlabPipeline
	if err := resp.decode(&runs); err != nil {
		return "", &UserError{Message: MsgSystemError, Err: err}
	}
	for _, run := range runs {
		id := strconv.FormatInt(run.ID, 10)
		subdomain, err := g.subdomainOf(ctx, id)
		if err != nil {
			return "", err
		}
		if OwnsSubdomain(username, subdomain) {
			return id, nil
		}
	}
	return "", nil
}

// subdomainOf returns the SUBDOMAIN variable a pipeline was created with. A pipeline
// that disappeared in the meantime yields "".
func (g *GitLab) subdomainOf(ctx context.Context, pipelineID string) (string, error) {
	resp, err := g.http.do(ctx, http.MethodGet, g.projectPath("/pipelines/%s/variables", url.PathEscape(pipelineID)), nil)
	if err != nil {
		return "", &UserError{Message: MsgSystemError, Err: err}
	}
	if resp.status == http.StatusNotFound {
		return "", nil
	}
	if !resp.ok() {
		return "", statusError(resp.status, resp.body)
	}
	var vars []gitlabVariable
	if err := resp.decode(&vars); err != nil {
		return "", &UserError{Message: MsgSystemError, Err: err}
	}
	for _, v := range vars {
		if v.Key == "SUBDOMAIN" {
			return v.Value, nil
		}
	}
	return "", nil
}
