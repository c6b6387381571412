package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("repository: already exists")
	// ErrTokenUsed indicates an access token was already redeemed.
	ErrTokenUsed = errors.New("repository: access token already used")
)
