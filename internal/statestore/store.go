// Package statestore persists per-user panel state and broadcasts every change so
// that other replicas and attached clients can mirror it.
package statestore

import "context"

// Persisted keys.
const (
	KeyDeploymentStatus = "deploymentStatus"
	KeyPipelineID       = "pipelineId"
	KeySubdomain        = "backendSubdomain"
	KeyEndpointURL      = "backendUrl"
	KeyLocalTestMode    = "localTestMode"
	KeySession          = "galaxyKickLockSession"
	KeyActiveTab        = "activeTabId"
)

// DeploymentKeys are written together on deploy and cleared together on teardown.
var DeploymentKeys = []string{
	KeyDeploymentStatus,
	KeyPipelineID,
	KeySubdomain,
	KeyEndpointURL,
	KeyLocalTestMode,
}

// IsDeploymentKey reports whether key belongs to the deployment group.
func IsDeploymentKey(key string) bool {
	for _, k := range DeploymentKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Change describes one key mutation within a scope.
type Change struct {
	Scope   string `json:"scope"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

// Store is a scoped key/value store with a change feed.
type Store interface {
	// Origin identifies writes made through this store handle.
	Origin() string
	Load(ctx context.Context, scope string) (map[string]string, error)
	Save(ctx context.Context, scope string, values map[string]string) error
	Remove(ctx context.Context, scope string, keys ...string) error
	// Subscribe delivers every change in scope, including those made through this
	// handle, until cancel is called or ctx ends.
	Subscribe(ctx context.Context, scope string, fn func(Change)) (cancel func(), err error)
}
