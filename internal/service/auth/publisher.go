package auth

import (
	"context"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
)

// SessionPublisher announces the user's current session so that other replicas and
// clients holding an older one sign out.
type SessionPublisher interface {
	Publish(ctx context.Context, userID, sessionID string) error
	Clear(ctx context.Context, userID string) error
}

// StorePublisher writes the session key into the user's state scope.
type StorePublisher struct {
	Store statestore.Store
}

// Publish records sessionID as the user's only live session.
func (p StorePublisher) Publish(ctx context.Context, userID, sessionID string) error {
	return p.Store.Save(ctx, userID, map[string]string{statestore.KeySession: sessionID})
}

// Clear removes the session key, signing out every client of the user.
func (p StorePublisher) Clear(ctx context.Context, userID string) error {
	return p.Store.Remove(ctx, userID, statestore.KeySession)
}
