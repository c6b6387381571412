// Package deploy drives the lifecycle of a user's ephemeral backend: trigger a CI
// pipeline, wait for the backend to come up, publish its address, and tear it down.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/endpoint"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/pipeline"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultMaxAttempts    = 120
	defaultSupersedeGrace = 2 * time.Second
	defaultSettle         = time.Second
)

// History outcomes.
const (
	historyDeploying  = "deploying"
	historyDeployed   = "deployed"
	historyFailed     = "failed"
	historyStopped    = "stopped"
	historyTerminated = "terminated"
	historyAbandoned  = "abandoned"
)

// Monitor watches a live pipeline for unexpected termination.
type Monitor interface {
	Start(pipelineID string)
	Stop()
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}

// Dependencies groups the collaborators of an Orchestrator. Monitor, Notifier and
// History are optional.
type Dependencies struct {
	Pipelines pipeline.Client
	Registry  *endpoint.Registry
	Store     statestore.Store
	Monitor   Monitor
	Notifier  Notifier
	History   repository.DeploymentRepository
}

// Options tunes timing and instrumentation.
type Options struct {
	PollInterval   time.Duration
	MaxAttempts    int
	SupersedeGrace time.Duration
	Settle         time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Orchestrator owns one user's DeploymentSession.
//
// mu guards the session and generation and is never held across I/O. writeMu
// serializes state store writes; every write checks that its generation is still
// current, so an invalidated deploy loop cannot overwrite newer state.
type Orchestrator struct {
	userID   string
	username string

	pipelines pipeline.Client
	registry  *endpoint.Registry
	store     statestore.Store
	monitor   Monitor
	notifier  Notifier
	history   repository.DeploymentRepository
	metrics   *Metrics
	logger    *slog.Logger

	pollInterval time.Duration
	maxAttempts  int
	grace        time.Duration
	settle       time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	writeMu sync.Mutex

	mu         sync.Mutex
	session    domain.DeploymentSession
	generation uint64
	polling    uint64
	record     string
	startedAt  time.Time
}

// New constructs an idle orchestrator. Call Restore to adopt persisted state.
func New(userID, username string, deps Dependencies, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		userID:       userID,
		username:     username,
		pipelines:    deps.Pipelines,
		registry:     deps.Registry,
		store:        deps.Store,
		monitor:      deps.Monitor,
		notifier:     deps.Notifier,
		history:      deps.History,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "deploy", "user_id", userID),
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		grace:        opts.SupersedeGrace,
		settle:       opts.Settle,
		sleep:        pipeline.Sleep,
		now:          time.Now,
		generation:   1,
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = defaultMaxAttempts
	}
	if o.grace <= 0 {
		o.grace = defaultSupersedeGrace
	}
	if o.settle <= 0 {
		o.settle = defaultSettle
	}
	if o.monitor == nil {
		o.monitor = noopMonitor{}
	}
	if o.notifier == nil {
		o.notifier = noopNotifier{}
	}
	o.session = domain.DeploymentSession{Status: domain.DeploymentIdle, UpdatedAt: o.now()}
	return o
}

// Snapshot returns a copy of the current session.
func (o *Orchestrator) Snapshot() domain.DeploymentSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Deploy runs a full deploy cycle and returns once it resolves. When a pipeline is
// already running for the account and confirm is false it returns a
// *ConfirmationRequiredError without side effects.
func (o *Orchestrator) Deploy(ctx context.Context, confirm bool) error {
	gen, existing, err := o.begin(ctx, confirm)
	if err != nil {
		return err
	}
	return o.run(ctx, gen, existing)
}

// DeployAsync performs the precondition checks synchronously and continues the cycle
// in the background under ctx. Progress arrives through the Notifier.
func (o *Orchestrator) DeployAsync(ctx context.Context, confirm bool) error {
	gen, existing, err := o.begin(ctx, confirm)
	if err != nil {
		return err
	}
	go func() {
		if err := o.run(ctx, gen, existing); err != nil && !errors.Is(err, ErrInvalidated) {
			o.logger.Debug("deploy finished with error", "error", err)
		}
	}()
	return nil
}

func (o *Orchestrator) begin(ctx context.Context, confirm bool) (uint64, string, error) {
	o.mu.Lock()
	switch {
	case o.session.LocalTest:
		o.mu.Unlock()
		return 0, "", ErrLocalTestActive
	case o.session.Status.Transient():
		o.mu.Unlock()
		return 0, "", ErrBusy
	case o.session.Status == domain.DeploymentDeployed:
		o.mu.Unlock()
		return 0, "", ErrAlreadyDeployed
	}
	previous := o.session
	o.generation++
	gen := o.generation
	o.session = domain.DeploymentSession{Status: domain.DeploymentDeploying, UpdatedAt: o.now()}
	o.mu.Unlock()

	o.progress(ctx, gen, 0, msgChecking)
	existing, err := o.pipelines.LatestRunning(ctx, o.username)
	if err != nil {
		o.logger.Warn("failed to check for running pipelines", "error", err)
		existing = ""
	}
	if existing != "" && !confirm {
		o.mu.Lock()
		restored := o.generation == gen
		if restored {
			o.session = previous
			o.session.UpdatedAt = o.now()
		}
		snapshot := o.session
		o.mu.Unlock()
		if restored {
			o.notifyStatus(ctx, snapshot, "")
		}
		return 0, "", &ConfirmationRequiredError{PipelineID: existing}
	}
	return gen, existing, nil
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, existing string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("deploy panicked", "panic", r)
			detached := context.WithoutCancel(ctx)
			o.rollback(detached, gen)
			err = o.fail(detached, gen, pipeline.MsgSystemError, fmt.Errorf("deploy panic: %v", r), historyFailed)
		}
	}()

	if existing != "" {
		o.progress(ctx, gen, 5, msgStopping)
		o.cancelQuietly(ctx, existing)
		_ = o.sleep(ctx, o.grace)
	}

	o.progress(ctx, gen, 10, msgInitializing)
	started := o.now()
	trig, err := o.pipelines.Trigger(ctx, o.username)
	if err != nil {
		o.logger.Error("pipeline trigger failed", "error", err)
		o.rollback(ctx, gen)
		return o.fail(ctx, gen, pipeline.PublicMessage(err), err, "trigger_failed")
	}
	logger := o.logger.With("pipeline_id", trig.PipelineID)
	logger.Info("pipeline triggered", "subdomain", trig.Subdomain, "ref", trig.Ref)

	url := o.registry.URLFor(trig.Subdomain)
	if err := o.persist(ctx, gen, trig.PipelineID, url, trig.Subdomain); err != nil {
		o.cancelQuietly(context.WithoutCancel(ctx), trig.PipelineID)
		if errors.Is(err, ErrInvalidated) {
			logger.Info("deploy superseded after trigger; new pipeline cancelled")
			return err
		}
		logger.Error("failed to persist deployment", "error", err)
		o.rollback(ctx, gen)
		return o.fail(ctx, gen, pipeline.MsgSystemError, err, historyFailed)
	}

	o.mu.Lock()
	if o.generation == gen {
		o.session.PipelineID = trig.PipelineID
		o.session.Subdomain = trig.Subdomain
		o.startedAt = started
	}
	o.mu.Unlock()
	o.recordStart(ctx, gen, trig)

	o.progress(ctx, gen, 20, msgInitialized)
	_ = o.sleep(ctx, o.settle)
	return o.await(ctx, gen, trig.PipelineID, trig.Subdomain)
}

// Resume continues waiting for a pipeline that was triggered before this process
// adopted the session. It returns ErrInvalidated unless the session is deploying
// pipelineID.
func (o *Orchestrator) Resume(ctx context.Context, pipelineID string) (err error) {
	o.mu.Lock()
	if o.session.Status != domain.DeploymentDeploying || o.session.PipelineID != pipelineID {
		o.mu.Unlock()
		return ErrInvalidated
	}
	gen := o.generation
	subdomain := o.session.Subdomain
	if o.startedAt.IsZero() {
		o.startedAt = o.now()
	}
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("resume panicked", "panic", r)
			detached := context.WithoutCancel(ctx)
			o.rollback(detached, gen)
			err = o.fail(detached, gen, pipeline.MsgSystemError, fmt.Errorf("resume panic: %v", r), historyFailed)
		}
	}()
	o.logger.Info("resuming deploy", "pipeline_id", pipelineID)
	return o.await(ctx, gen, pipelineID, subdomain)
}

type pollResult int

const (
	pollReady pollResult = iota
	pollTerminal
	pollTimeout
	pollInvalidated
	pollCancelled
)

func (o *Orchestrator) await(ctx context.Context, gen uint64, pipelineID, subdomain string) error {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return ErrInvalidated
	}
	if o.polling == gen {
		o.mu.Unlock()
		return ErrBusy
	}
	o.polling = gen
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.polling == gen {
			o.polling = 0
		}
		o.mu.Unlock()
	}()

	logger := o.logger.With("pipeline_id", pipelineID)
	o.progress(ctx, gen, 30, msgConnecting)

	result, status := o.poll(ctx, gen, pipelineID)
	switch result {
	case pollInvalidated:
		logger.Info("deploy poll stopped; state changed")
		return ErrInvalidated
	case pollCancelled:
		logger.Info("deploy poll interrupted", "error", ctx.Err())
		return ctx.Err()
	case pollTerminal:
		logger.Warn("pipeline ended before the backend became ready", "status", status)
		o.rollback(ctx, gen)
		return o.fail(ctx, gen, pipeline.MsgActivationFailed, fmt.Errorf("pipeline %s ended with status %s", pipelineID, status), historyFailed)
	case pollTimeout:
		logger.Warn("backend readiness timed out", "attempts", o.maxAttempts)
		o.cancelQuietly(ctx, pipelineID)
		o.rollback(ctx, gen)
		return o.fail(ctx, gen, pipeline.MsgActivationTimeout, fmt.Errorf("pipeline %s not ready after %d attempts", pipelineID, o.maxAttempts), "timeout")
	}

	o.progress(ctx, gen, 95, msgFinalizing)
	_ = o.sleep(ctx, o.settle)

	url := o.registry.URLFor(subdomain)
	if err := o.commit(gen, func() error { return o.registry.Activate(ctx) }); err != nil {
		if errors.Is(err, ErrInvalidated) {
			return err
		}
		logger.Error("failed to activate endpoint", "error", err)
		o.cancelQuietly(ctx, pipelineID)
		o.rollback(ctx, gen)
		return o.fail(ctx, gen, pipeline.MsgSystemError, err, historyFailed)
	}

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return ErrInvalidated
	}
	o.session.Status = domain.DeploymentDeployed
	o.session.PipelineID = pipelineID
	o.session.Subdomain = subdomain
	o.session.EndpointURL = url
	o.session.Error = ""
	o.session.UpdatedAt = o.now()
	snapshot := o.session
	record := o.record
	started := o.startedAt
	o.mu.Unlock()

	o.progress(ctx, gen, 100, msgActivated)
	o.monitor.Start(pipelineID)
	o.notifyStatus(ctx, snapshot, "")
	o.finishRecord(ctx, record, historyDeployed, "")
	o.metrics.outcome(o.pipelines.Name(), historyDeployed, o.now().Sub(started))
	logger.Info("deployment active", "endpoint", url)
	return nil
}

// poll waits for readiness for at most maxAttempts iterations.
func (o *Orchestrator) poll(ctx context.Context, gen uint64, pipelineID string) (pollResult, string) {
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return pollCancelled, ""
		}
		if !o.stillDeploying(ctx, gen, pipelineID) {
			return pollInvalidated, ""
		}
		run, err := o.pipelines.Status(ctx, pipelineID)
		if err != nil {
			if ctx.Err() != nil {
				return pollCancelled, ""
			}
			o.logger.Warn("pipeline status check failed", "pipeline_id", pipelineID, "attempt", attempt, "error", err)
		} else {
			o.progress(ctx, gen, pollPercentage(attempt, o.maxAttempts), pollMessage(run.Status))
			if run.Terminal() {
				return pollTerminal, run.Status
			}
			if run.Status == domain.PipelineRunning {
				ready, err := o.pipelines.Ready(ctx, pipelineID)
				if err != nil {
					o.logger.Debug("readiness check failed", "pipeline_id", pipelineID, "error", err)
				} else if ready {
					return pollReady, run.Status
				}
			}
		}
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return pollCancelled, ""
		}
	}
	return pollTimeout, ""
}

// stillDeploying checks both the in-memory generation and the persisted flag, so a
// teardown made by another replica stops the loop at its next tick.
func (o *Orchestrator) stillDeploying(ctx context.Context, gen uint64, pipelineID string) bool {
	o.mu.Lock()
	ok := o.generation == gen && o.session.Status == domain.DeploymentDeploying
	o.mu.Unlock()
	if !ok {
		return false
	}
	values, err := o.store.Load(ctx, o.userID)
	if err != nil {
		o.logger.Warn("failed to read deployment state", "error", err)
		return true
	}
	if values[statestore.KeyDeploymentStatus] == string(domain.DeploymentDeploying) && values[statestore.KeyPipelineID] == pipelineID {
		return true
	}
	if err := o.registry.Load(ctx); err != nil {
		o.logger.Warn("failed to reload endpoint", "error", err)
	}
	o.apply(ctx, values)
	return false
}

// Undeploy cancels the active pipeline and resets to Idle. Cancellation failures are
// logged and do not stop the reset. Calling Undeploy when nothing is deployed is safe.
func (o *Orchestrator) Undeploy(ctx context.Context) (err error) {
	o.mu.Lock()
	if o.session.LocalTest {
		o.mu.Unlock()
		return ErrLocalTestActive
	}
	if o.session.Status == domain.DeploymentDeactivating {
		o.mu.Unlock()
		return ErrBusy
	}
	o.generation++
	gen := o.generation
	pipelineID := o.session.PipelineID
	o.session.Status = domain.DeploymentDeactivating
	o.session.Error = ""
	o.session.Progress = domain.Progress{}
	o.session.UpdatedAt = o.now()
	o.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("undeploy panicked", "panic", r)
			o.teardown(detached, gen, domain.Progress{Percentage: 100, Message: msgDeactivated}, historyStopped, "")
			err = nil
		}
	}()

	o.progress(ctx, gen, 0, msgDeactivating)
	o.monitor.Stop()

	if pipelineID == "" {
		o.progress(ctx, gen, 20, msgFindingRun)
		found, err := o.pipelines.LatestRunning(ctx, o.username)
		if err != nil {
			o.logger.Warn("failed to look up running pipeline", "error", err)
		}
		pipelineID = found
	}
	if pipelineID != "" {
		o.progress(ctx, gen, 40, msgStoppingSystem)
		o.cancelQuietly(ctx, pipelineID)
		o.progress(ctx, gen, 80, msgStopped)
	} else {
		o.progress(ctx, gen, 50, msgNoSession)
	}
	_ = o.sleep(ctx, o.settle)

	o.teardown(detached, gen, domain.Progress{Percentage: 100, Message: msgDeactivated}, historyStopped, "")
	o.metrics.undeployed()
	o.logger.Info("deployment deactivated", "pipeline_id", pipelineID)
	return nil
}

// HandleTermination resets a live deployment whose pipeline stopped on its own. It
// reports whether pipelineID was the active deployment.
func (o *Orchestrator) HandleTermination(ctx context.Context, pipelineID, status string) bool {
	o.mu.Lock()
	if pipelineID == "" || o.session.Status != domain.DeploymentDeployed || o.session.PipelineID != pipelineID {
		o.mu.Unlock()
		return false
	}
	o.generation++
	gen := o.generation
	o.mu.Unlock()

	message := closedMessage(domain.TerminationReason(status))
	o.logger.Warn("deployment closed unexpectedly", "pipeline_id", pipelineID, "status", status)
	o.teardown(ctx, gen, domain.Progress{}, historyTerminated, message)

	data, _ := json.Marshal(map[string]string{"pipeline_id": pipelineID, "status": status})
	o.notifier.Notify(ctx, domain.Event{
		UserID:    o.userID,
		Type:      domain.EventDeploymentClosed,
		Status:    domain.DeploymentIdle,
		Message:   message,
		Data:      data,
		CreatedAt: o.now(),
	})
	o.metrics.terminated(status)
	return true
}

// Abandon clears local deployment state without cancelling the pipeline. It is used
// when the user's session ends.
func (o *Orchestrator) Abandon(ctx context.Context) {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.mu.Unlock()
	o.teardown(ctx, gen, domain.Progress{}, historyAbandoned, "")
}

// SetLocalTest toggles local test mode. Enabling it requires an Idle or Failed session.
func (o *Orchestrator) SetLocalTest(ctx context.Context, enabled bool) error {
	o.mu.Lock()
	if enabled == o.session.LocalTest {
		o.mu.Unlock()
		return nil
	}
	if enabled && o.session.Status != domain.DeploymentIdle && o.session.Status != domain.DeploymentFailed {
		o.mu.Unlock()
		return ErrBusy
	}
	o.generation++
	gen := o.generation
	o.mu.Unlock()

	if !enabled {
		o.teardown(ctx, gen, domain.Progress{}, "", "")
		o.logger.Info("local test mode disabled")
		return nil
	}
	if err := o.commit(gen, func() error { return o.registry.UseLocal(ctx) }); err != nil {
		return err
	}
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return ErrInvalidated
	}
	o.session = o.localSession()
	snapshot := o.session
	o.mu.Unlock()
	o.monitor.Stop()
	o.notifyStatus(ctx, snapshot, "")
	o.logger.Info("local test mode enabled", "endpoint", snapshot.EndpointURL)
	return nil
}

// Dismiss acknowledges a failed deploy and returns to Idle.
func (o *Orchestrator) Dismiss(ctx context.Context) {
	o.mu.Lock()
	if o.session.Status != domain.DeploymentFailed {
		o.mu.Unlock()
		return
	}
	o.generation++
	o.session = domain.DeploymentSession{Status: domain.DeploymentIdle, UpdatedAt: o.now()}
	snapshot := o.session
	o.mu.Unlock()
	o.notifyStatus(ctx, snapshot, "")
}

// Restore rebuilds the session from persisted state without calling the CI platform.
// A live deployment re-arms the monitor. When the persisted state shows a deploy that
// is still starting, the returned pipeline id should be passed to Resume.
func (o *Orchestrator) Restore(ctx context.Context) (string, error) {
	values, err := o.store.Load(ctx, o.userID)
	if err != nil {
		return "", fmt.Errorf("restore deployment: %w", err)
	}
	if err := o.registry.Load(ctx); err != nil {
		return "", fmt.Errorf("restore endpoint: %w", err)
	}
	return o.apply(ctx, values), nil
}

// apply converges the session onto persisted values. It returns a pipeline id that
// needs Resume, if any.
func (o *Orchestrator) apply(ctx context.Context, values map[string]string) string {
	status := domain.DeploymentStatus(values[statestore.KeyDeploymentStatus])
	pipelineID := values[statestore.KeyPipelineID]
	subdomain := values[statestore.KeySubdomain]
	local := values[statestore.KeyLocalTestMode] == "true"

	o.mu.Lock()
	current := o.session
	if current.Status == domain.DeploymentDeactivating {
		o.mu.Unlock()
		return ""
	}
	var next domain.DeploymentSession
	watch, resume := "", ""
	switch {
	case local:
		if current.LocalTest {
			o.mu.Unlock()
			return ""
		}
		next = o.localSession()
	case status == domain.DeploymentDeployed && pipelineID != "":
		if current.Status == domain.DeploymentDeployed && current.PipelineID == pipelineID {
			o.mu.Unlock()
			o.monitor.Start(pipelineID)
			return ""
		}
		url := values[statestore.KeyEndpointURL]
		if url == "" {
			url = o.registry.URLFor(subdomain)
		}
		next = domain.DeploymentSession{
			Status:      domain.DeploymentDeployed,
			PipelineID:  pipelineID,
			Subdomain:   subdomain,
			EndpointURL: url,
			Progress:    domain.Progress{Percentage: 100, Message: msgActivated},
		}
		watch = pipelineID
	case status == domain.DeploymentDeploying && pipelineID != "":
		if current.Status == domain.DeploymentDeploying && (current.PipelineID == pipelineID || current.PipelineID == "") {
			o.mu.Unlock()
			return ""
		}
		next = domain.DeploymentSession{
			Status:     domain.DeploymentDeploying,
			PipelineID: pipelineID,
			Subdomain:  subdomain,
			Progress:   domain.Progress{Percentage: 30, Message: msgConnecting},
		}
		resume = pipelineID
	default:
		live := current.LocalTest || current.Status == domain.DeploymentDeployed ||
			(current.Status == domain.DeploymentDeploying && current.PipelineID != "")
		if !live {
			o.mu.Unlock()
			return ""
		}
		next = domain.DeploymentSession{Status: domain.DeploymentIdle}
	}
	o.generation++
	next.UpdatedAt = o.now()
	o.session = next
	o.record = ""
	o.mu.Unlock()

	if watch != "" {
		o.monitor.Start(watch)
	} else {
		o.monitor.Stop()
	}
	o.logger.Info("deployment state restored", "status", next.Status, "pipeline_id", next.PipelineID, "local_test", next.LocalTest)
	o.notifyStatus(ctx, next, "")
	return resume
}

// teardown is the full local reset shared by undeploy, termination and logout.
func (o *Orchestrator) teardown(ctx context.Context, gen uint64, progress domain.Progress, outcome, message string) {
	o.monitor.Stop()
	if err := o.commit(gen, func() error { return o.registry.Clear(ctx) }); err != nil && !errors.Is(err, ErrInvalidated) {
		o.logger.Warn("failed to clear deployment state", "error", err)
	}
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.session = domain.DeploymentSession{Status: domain.DeploymentIdle, Progress: progress, UpdatedAt: o.now()}
	snapshot := o.session
	record := o.record
	o.record = ""
	o.mu.Unlock()

	if progress.Message != "" {
		o.notifyProgress(ctx, snapshot)
	}
	o.finishRecord(ctx, record, outcome, message)
	o.notifyStatus(ctx, snapshot, message)
}

func (o *Orchestrator) rollback(ctx context.Context, gen uint64) {
	if err := o.commit(gen, func() error { return o.registry.Clear(ctx) }); err != nil && !errors.Is(err, ErrInvalidated) {
		o.logger.Warn("failed to roll back deployment state", "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, gen uint64, message string, cause error, outcome string) error {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return ErrInvalidated
	}
	o.session = domain.DeploymentSession{
		Status:    domain.DeploymentFailed,
		Error:     message,
		Progress:  domain.Progress{Percentage: o.session.Progress.Percentage, Message: message},
		UpdatedAt: o.now(),
	}
	snapshot := o.session
	record := o.record
	o.record = ""
	started := o.startedAt
	o.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = o.now().Sub(started)
	}
	o.notifyProgress(ctx, snapshot)
	o.notifyStatus(ctx, snapshot, message)
	o.finishRecord(ctx, record, historyFailed, message)
	o.metrics.outcome(o.pipelines.Name(), outcome, elapsed)
	return &FailedError{Message: message, Err: cause}
}

func (o *Orchestrator) persist(ctx context.Context, gen uint64, pipelineID, url, subdomain string) error {
	return o.commit(gen, func() error {
		if err := o.store.Save(ctx, o.userID, map[string]string{statestore.KeyPipelineID: pipelineID}); err != nil {
			return err
		}
		return o.registry.Publish(ctx, url, subdomain)
	})
}

func (o *Orchestrator) commit(gen uint64, write func() error) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if !o.current(gen) {
		return ErrInvalidated
	}
	return write()
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

func (o *Orchestrator) cancelQuietly(ctx context.Context, pipelineID string) {
	if err := o.pipelines.Cancel(ctx, pipelineID); err != nil {
		o.logger.Warn("failed to cancel pipeline", "pipeline_id", pipelineID, "error", err)
		return
	}
	o.logger.Info("pipeline cancelled", "pipeline_id", pipelineID)
}

// progress advances the indicator without ever moving it backwards.
func (o *Orchestrator) progress(ctx context.Context, gen uint64, percentage int, message string) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	if percentage < o.session.Progress.Percentage {
		percentage = o.session.Progress.Percentage
	}
	o.session.Progress = domain.Progress{Percentage: percentage, Message: message}
	o.session.UpdatedAt = o.now()
	snapshot := o.session
	o.mu.Unlock()
	o.notifyProgress(ctx, snapshot)
}

func (o *Orchestrator) notifyProgress(ctx context.Context, s domain.DeploymentSession) {
	p := s.Progress
	o.notifier.Notify(ctx, domain.Event{
		UserID:    o.userID,
		Type:      domain.EventDeploymentProgress,
		Status:    s.Status,
		Progress:  &p,
		CreatedAt: o.now(),
	})
}

func (o *Orchestrator) notifyStatus(ctx context.Context, s domain.DeploymentSession, message string) {
	if message == "" {
		message = s.Error
	}
	o.notifier.Notify(ctx, domain.Event{
		UserID:      o.userID,
		Type:        domain.EventDeploymentStatus,
		Status:      s.Status,
		EndpointURL: s.EndpointURL,
		Message:     message,
		CreatedAt:   o.now(),
	})
}

func (o *Orchestrator) localSession() domain.DeploymentSession {
	return domain.DeploymentSession{
		Status:      domain.DeploymentDeployed,
		EndpointURL: o.registry.LocalURL(),
		LocalTest:   true,
		Progress:    domain.Progress{Percentage: 100, Message: msgLocalTest},
		UpdatedAt:   o.now(),
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, gen uint64, trig pipeline.Trigger) {
	if o.history == nil {
		return
	}
	record := &domain.DeploymentRecord{
		ID:         uuid.NewString(),
		UserID:     o.userID,
		PipelineID: trig.PipelineID,
		Subdomain:  trig.Subdomain,
		Provider:   o.pipelines.Name(),
		Status:     historyDeploying,
		StartedAt:  o.now().UTC(),
	}
	if err := o.history.CreateDeployment(ctx, record); err != nil {
		o.logger.Warn("failed to record deployment", "pipeline_id", trig.PipelineID, "error", err)
		return
	}
	o.mu.Lock()
	if o.generation == gen {
		o.record = record.ID
	}
	o.mu.Unlock()
}

func (o *Orchestrator) finishRecord(ctx context.Context, id, status, message string) {
	if o.history == nil || id == "" || status == "" {
		return
	}
	if err := o.history.CompleteDeployment(ctx, id, status, message, o.now().UTC()); err != nil {
		o.logger.Warn("failed to update deployment record", "deployment_id", id, "error", err)
	}
}

type noopMonitor struct{}

func (noopMonitor) Start(string) {}
func (noopMonitor) Stop()        {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Event) {}
