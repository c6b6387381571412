// Package endpoint tracks where a user's remote backend can be reached.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/statestore"
)

// Options configures address derivation.
type Options struct {
	// URLTemplate formats a subdomain into a public URL, e.g. "https://%s.loca.lt".
	URLTemplate string
	// LocalURL is used while local test mode is on.
	LocalURL string
	// DefaultURL is an operator supplied fallback. Loopback defaults are always
	// honored; remote ones only while a deployment is active.
	DefaultURL string
}

// Registry is the single source of truth for a user's backend address. Writes go to
// the state store first and then to the in-memory view, so readers in this process
// never observe a cleared endpoint after Clear returns.
type Registry struct {
	store statestore.Store
	scope string
	opts  Options

	mu        sync.RWMutex
	url       string
	subdomain string
	status    domain.DeploymentStatus
	localTest bool
}

// New constructs a registry for scope. Call Load to pick up persisted state.
func New(store statestore.Store, scope string, opts Options) *Registry {
	if opts.URLTemplate == "" {
		opts.URLTemplate = "https://%s.loca.lt"
	}
	if opts.LocalURL == "" {
		opts.LocalURL = "http://localhost:3000"
	}
	return &Registry{store: store, scope: scope, opts: opts, status: domain.DeploymentIdle}
}

// URLFor derives the public address of a subdomain.
func (r *Registry) URLFor(subdomain string) string {
	return fmt.Sprintf(r.opts.URLTemplate, subdomain)
}

// LocalURL returns the local test address.
func (r *Registry) LocalURL() string {
	return r.opts.LocalURL
}

// Load refreshes the in-memory view from the store.
func (r *Registry) Load(ctx context.Context) error {
	values, err := r.store.Load(ctx, r.scope)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.url = values[statestore.KeyEndpointURL]
	r.subdomain = values[statestore.KeySubdomain]
	r.status = parseStatus(values[statestore.KeyDeploymentStatus])
	r.localTest = values[statestore.KeyLocalTestMode] == "true"
	return nil
}

// Publish records url as the address of a deployment that is still starting. It does
// not become resolvable until Activate.
func (r *Registry) Publish(ctx context.Context, url, subdomain string) error {
	err := r.store.Save(ctx, r.scope, map[string]string{
		statestore.KeyEndpointURL:      url,
		statestore.KeySubdomain:        subdomain,
		statestore.KeyDeploymentStatus: string(domain.DeploymentDeploying),
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.url, r.subdomain, r.status = url, subdomain, domain.DeploymentDeploying
	r.mu.Unlock()
	return nil
}

// Activate marks the published endpoint live.
func (r *Registry) Activate(ctx context.Context) error {
	if err := r.store.Save(ctx, r.scope, map[string]string{statestore.KeyDeploymentStatus: string(domain.DeploymentDeployed)}); err != nil {
		return err
	}
	r.mu.Lock()
	r.status = domain.DeploymentDeployed
	r.mu.Unlock()
	return nil
}

// UseLocal points the registry at the local test backend.
func (r *Registry) UseLocal(ctx context.Context) error {
	err := r.store.Save(ctx, r.scope, map[string]string{
		statestore.KeyEndpointURL:      r.opts.LocalURL,
		statestore.KeyLocalTestMode:    "true",
		statestore.KeyDeploymentStatus: string(domain.DeploymentDeployed),
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.url, r.subdomain, r.status, r.localTest = r.opts.LocalURL, "", domain.DeploymentDeployed, true
	r.mu.Unlock()
	return nil
}

// Clear removes the endpoint and every persisted deployment key. The in-memory view
// is reset even when the store write fails.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.url, r.subdomain, r.status, r.localTest = "", "", domain.DeploymentIdle, false
	r.mu.Unlock()
	return r.store.Remove(ctx, r.scope, statestore.DeploymentKeys...)
}

// Resolve returns the address backend calls should use, or "" when there is none.
func (r *Registry) Resolve() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := r.status == domain.DeploymentDeployed
	if active && r.url != "" {
		return r.url
	}
	if r.opts.DefaultURL == "" {
		return ""
	}
	if IsLoopback(r.opts.DefaultURL) || active {
		return r.opts.DefaultURL
	}
	return ""
}

// Active reports whether a deployment or local test is live.
func (r *Registry) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status == domain.DeploymentDeployed
}

// Observe mirrors a change made elsewhere into the in-memory view.
func (r *Registry) Observe(change statestore.Change) {
	if change.Scope != r.scope {
		return
	}
	value := change.Value
	if change.Deleted {
		value = ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch change.Key {
	case statestore.KeyEndpointURL:
		r.url = value
	case statestore.KeySubdomain:
		r.subdomain = value
	case statestore.KeyDeploymentStatus:
		r.status = parseStatus(value)
	case statestore.KeyLocalTestMode:
		r.localTest = value == "true"
	}
}

// IsLoopback reports whether raw addresses this machine.
func IsLoopback(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func parseStatus(raw string) domain.DeploymentStatus {
	switch s := domain.DeploymentStatus(raw); s {
	case domain.DeploymentDeploying, domain.DeploymentDeployed, domain.DeploymentFailed, domain.DeploymentDeactivating:
		return s
	}
	return domain.DeploymentIdle
}
