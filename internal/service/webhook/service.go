// Package webhook accepts CI platform notifications about pipeline runs.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"log/slog"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/pkg/config"
)

var (
	// ErrDisabled reports that no secret is configured for the provider.
	ErrDisabled = errors.New("webhook: not configured")
	// ErrUnauthorized reports a missing or wrong token or signature.
	ErrUnauthorized = errors.New("webhook: invalid credentials")
	// ErrPayload reports an undecodable body.
	ErrPayload = errors.New("webhook: invalid payload")
)

// TerminationSink routes a finished pipeline to whichever workspace owns it.
type TerminationSink interface {
	PipelineTerminated(ctx context.Context, pipelineID, status string) bool
}

// Result summarises how a delivery was handled.
type Result struct {
	PipelineID string `json:"pipeline_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Handled    bool   `json:"handled"`
	Ignored    string `json:"ignored,omitempty"`
}

// Service validates deliveries and forwards terminal statuses.
type Service struct {
	sink   TerminationSink
	logger *slog.Logger
	cfg    config.PanelConfig
}

// New constructs a webhook service.
func New(sink TerminationSink, logger *slog.Logger, cfg config.PanelConfig) Service {
	return Service{sink: sink, logger: logger.With("component", "webhook"), cfg: cfg}
}

type gitlabHook struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"object_attributes"`
}

// HandleGitLab processes a pipeline hook authenticated by the X-Gitlab-Token header.
func (s Service) HandleGitLab(ctx context.Context, token string, payload []byte) (Result, error) {
	secret := strings.TrimSpace(s.cfg.WebhookGitLabToken)
	if secret == "" {
		return Result{}, ErrDisabled
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) != 1 {
		return Result{}, ErrUnauthorized
	}
	var hook gitlabHook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return Result{}, ErrPayload
	}
	if hook.ObjectKind != "pipeline" {
		return Result{Ignored: "object kind " + hook.ObjectKind}, nil
	}
	if hook.ObjectAttributes.ID == 0 {
		return Result{}, ErrPayload
	}
	return s.forward(ctx, strconv.FormatInt(hook.ObjectAttributes.ID, 10), hook.ObjectAttributes.Status), nil
}

type githubHook struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	} `json:"workflow_run"`
}

// HandleGitHub processes a workflow_run delivery signed with X-Hub-Signature-256.
func (s Service) HandleGitHub(ctx context.Context, event, signature string, payload []byte) (Result, error) {
	secret := s.cfg.WebhookGitHubSecret
	if secret == "" {
		return Result{}, ErrDisabled
	}
	if err := s.ValidateSignature(payload, []byte(secret), signature); err != nil {
		return Result{}, err
	}
	if event != "workflow_run" {
		return Result{Ignored: "event " + event}, nil
	}
	var hook githubHook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return Result{}, ErrPayload
	}
	if hook.WorkflowRun.ID == 0 {
		return Result{}, ErrPayload
	}
	status := pipeline.GitHubStatus(hook.WorkflowRun.Status, hook.WorkflowRun.Conclusion)
	return s.forward(ctx, strconv.FormatInt(hook.WorkflowRun.ID, 10), status), nil
}

// ValidateSignature checks a "sha256=<hex>" HMAC signature for payload.
func (s Service) ValidateSignature(payload []byte, secret []byte, provided string) error {
	provided = strings.TrimPrefix(strings.TrimSpace(provided), "sha256=")
	if provided == "" {
		return ErrUnauthorized
	}
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return ErrUnauthorized
	}
	return nil
}

func (s Service) forward(ctx context.Context, pipelineID, status string) Result {
	res := Result{PipelineID: pipelineID, Status: status}
	if !domain.PipelineTerminal(status) {
		res.Ignored = "pipeline not finished"
		return res
	}
	if s.sink != nil {
		res.Handled = s.sink.PipelineTerminated(ctx, pipelineID, status)
	}
	s.logger.Info("pipeline webhook received", "pipeline_id", pipelineID, "status", status, "handled", res.Handled)
	return res
}
