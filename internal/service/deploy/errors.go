package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy reports that a deploy or undeploy is already in progress.
	ErrBusy = errors.New("deploy: another deployment action is in progress")
	// ErrAlreadyDeployed reports a deploy request while a backend is live.
	ErrAlreadyDeployed = errors.New("deploy: backend already active")
	// ErrLocalTestActive reports a pipeline action while local test mode is on.
	ErrLocalTestActive = errors.New("deploy: local test mode is active")
	// ErrInvalidated reports that a newer action took over the deployment.
	ErrInvalidated = errors.New("deploy: superseded by a newer action")
)

// ConfirmationRequiredError is returned when a pipeline is already running for the
// account and replacing it needs explicit consent.
type ConfirmationRequiredError struct {
	PipelineID string
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("deploy: pipeline %s is already running; confirm to replace it", e.PipelineID)
}

// FailedError carries the user facing reason of a failed deploy.
type FailedError struct {
	Message string
	Err     error
}

func (e *FailedError) Error() string {
	return e.Message
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
