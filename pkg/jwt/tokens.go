package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims defines JWT payload. Each token is bound to one login session.
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Username  string `json:"username,omitempty"`
	Admin     bool   `json:"admin,omitempty"`
	jwtlib.RegisteredClaims
}

// Subject identifies the holder of a token.
type Subject struct {
	UserID    string
	SessionID string
	Username  string
	Admin     bool
}

// GenerateToken issues a signed JWT with provided secret and ttl.
func GenerateToken(subject Subject, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    subject.UserID,
		SessionID: subject.SessionID,
		Username:  subject.Username,
		Admin:     subject.Admin,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "gkl-panel",
			ID:        subject.SessionID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
