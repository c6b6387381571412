package pipeline

import (
	"errors"
	"net/http"
)

// Public messages. Upstream error bodies never reach users.
const (
	MsgAccessDenied      = "Access denied. Please contact support."
	MsgConfiguration     = "System configuration error. Please contact support."
	MsgAuthentication    = "Authentication failed. Please contact support."
	MsgInvalidRequest    = "Invalid request. Please contact support."
	MsgSystemError       = "System error occurred. Please try again."
	MsgActivationFailed  = "System activation failed. Please try again."
	MsgActivationTimeout = "System activation timeout. Please try again."
	MsgStopFailed        = "Failed to stop system"
)

var (
	// ErrConfiguration reports missing CI credentials or project coordinates.
	ErrConfiguration = errors.New("pipeline: provider not configured")
	// ErrInvalidUsername reports a username with no usable subdomain characters.
	ErrInvalidUsername = errors.New("pipeline: username has no alphanumeric characters")
	// ErrBranchNotFound reports that none of the candidate refs exist.
	ErrBranchNotFound = errors.New("pipeline: no candidate branch found")
	// ErrNoRun reports that a dispatched workflow produced no visible run.
	ErrNoRun = errors.New("pipeline: dispatched run not found")
)

// UserError carries a message safe to show to users while keeping the cause for logs.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// PublicMessage returns the user-safe text for err.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *UserError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	return MsgSystemError
}

// HTTPError is the internal cause for a non-2xx CI response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return "pipeline: ci responded " + http.StatusText(e.Status)
}

func statusError(status int, body []byte) *UserError {
	cause := &HTTPError{Status: status, Body: truncate(string(body), 512)}
	switch status {
	case http.StatusUnauthorized:
		return &UserError{Message: MsgAuthentication, Err: cause}
	case http.StatusForbidden:
		return &UserError{Message: MsgAccessDenied, Err: cause}
	case http.StatusNotFound:
		return &UserError{Message: MsgConfiguration, Err: cause}
	case http.StatusBadRequest:
		return &UserError{Message: MsgInvalidRequest, Err: cause}
	default:
		return &UserError{Message: MsgSystemError, Err: cause}
	}
}

func configurationError() *UserError {
	return &UserError{Message: MsgConfiguration, Err: ErrConfiguration}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
