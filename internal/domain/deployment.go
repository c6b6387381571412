package domain

import "time"

// DeploymentStatus enumerates the lifecycle of a user's backend deployment.
type DeploymentStatus string

const (
	DeploymentIdle         DeploymentStatus = "idle"
	DeploymentDeploying    DeploymentStatus = "deploying"
	DeploymentDeployed     DeploymentStatus = "deployed"
	DeploymentFailed       DeploymentStatus = "failed"
	DeploymentDeactivating DeploymentStatus = "deactivating"
)

// Transient reports whether the status must still resolve to a rest state.
func (s DeploymentStatus) Transient() bool {
	return s == DeploymentDeploying || s == DeploymentDeactivating
}

// Progress is the UI facing progress indicator of a deploy or undeploy cycle.
type Progress struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// DeploymentSession is the in-memory view of a user's deployment.
type DeploymentSession struct {
	Status      DeploymentStatus `json:"status"`
	PipelineID  string           `json:"pipeline_id,omitempty"`
	Subdomain   string           `json:"subdomain,omitempty"`
	EndpointURL string           `json:"endpoint_url,omitempty"`
	Progress    Progress         `json:"progress"`
	LocalTest   bool             `json:"local_test"`
	Error       string           `json:"error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// DeploymentRecord is a persisted deployment attempt.
type DeploymentRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	PipelineID  string     `json:"pipeline_id"`
	Subdomain   string     `json:"subdomain"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
