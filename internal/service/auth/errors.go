package auth

import (
	"fmt"
	"math"
	"time"
)

// PublicError carries a message that is safe to show to end users.
type PublicError struct {
	Message string
}

func (e *PublicError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials  = &PublicError{Message: "Invalid username or password"}
	ErrInvalidCharacters   = &PublicError{Message: "Invalid characters detected"}
	ErrPasswordMismatch    = &PublicError{Message: "Passwords do not match"}
	ErrUsernameTaken       = &PublicError{Message: "Username already taken. Please choose another."}
	ErrTokenInvalid        = &PublicError{Message: "Invalid access token. Please check and try again."}
	ErrTokenUsed           = &PublicError{Message: "This access token has already been used"}
	ErrAccountInactive     = &PublicError{Message: "Account is inactive. Please contact support."}
	ErrSubscriptionExpired = &PublicError{Message: "Your subscription has expired. Please contact support."}
)

// Reasons reported when a previously valid session stops being valid.
const (
	ReasonUserDeleted         = "Your account has been removed by admin"
	ReasonAccessRevoked       = "Your access has been revoked by admin"
	ReasonSessionExpired      = "Session expired"
	ReasonSubscriptionExpired = "Your subscription has expired"
	ReasonReplaced            = "You have been logged in on another device/tab"
)

// SessionInvalidError reports why a token no longer authenticates.
type SessionInvalidError struct {
	Reason string
}

func (e *SessionInvalidError) Error() string {
	return e.Reason
}

// RateLimitedError reports that too many attempts were made.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	seconds := int(math.Ceil(e.RetryAfter.Seconds()))
	return fmt.Sprintf("Too many %s attempts. Please try again in %d seconds.", e.Action, seconds)
}
