package auth

import (
	"regexp"
	"strings"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	scriptProtocol  = regexp.MustCompile(`(?i)javascript:`)
	eventHandler    = regexp.MustCompile(`(?i)on\w+=`)

	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE)\b`),
		regexp.MustCompile(`--|;|/\*|\*/`),
		regexp.MustCompile(`(?i)\bOR\b.*=.*`),
		regexp.MustCompile(`(?i)\bAND\b.*=.*`),
		regexp.MustCompile(`(?i)('|")\s*(OR|AND)\s*('|")`),
	}
)

// ValidationError reports an input that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Sanitize trims input and strips markup and inline script fragments.
func Sanitize(input string) string {
	out := strings.TrimSpace(input)
	out = strings.NewReplacer("<", "", ">", "").Replace(out)
	out = scriptProtocol.ReplaceAllString(out, "")
	return eventHandler.ReplaceAllString(out, "")
}

// ValidateUsername returns the sanitized username.
func ValidateUsername(username string) (string, error) {
	v := Sanitize(username)
	switch {
	case v == "":
		return "", &ValidationError{Field: "username", Message: "Username is required"}
	case len(v) < 3:
		return "", &ValidationError{Field: "username", Message: "Username must be at least 3 characters"}
	case len(v) > 50:
		return "", &ValidationError{Field: "username", Message: "Username must not exceed 50 characters"}
	case !usernamePattern.MatchString(v):
		return "", &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, underscores, and hyphens"}
	}
	return v, nil
}

// ValidatePassword checks length bounds. Passwords are never sanitized.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return &ValidationError{Field: "password", Message: "Password is required"}
	case len(password) < 8:
		return &ValidationError{Field: "password", Message: "Password must be at least 8 characters"}
	case len(password) > 128:
		return &ValidationError{Field: "password", Message: "Password is too long"}
	}
	return nil
}

// ValidateToken returns the sanitized access token.
func ValidateToken(token string) (string, error) {
	v := Sanitize(token)
	if v == "" {
		return "", &ValidationError{Field: "token", Message: "Token is required"}
	}
	if len(v) < 10 || len(v) > 200 {
		return "", &ValidationError{Field: "token", Message: "Invalid token format"}
	}
	return v, nil
}

// DetectSQLInjection reports input resembling an SQL injection attempt.
func DetectSQLInjection(input string) bool {
	for _, p := range sqlPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
