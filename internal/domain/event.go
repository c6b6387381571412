package domain

import (
	"encoding/json"
	"time"
)

// Event types streamed to panel clients.
const (
	EventDeploymentStatus   = "deployment_status"
	EventDeploymentProgress = "deployment_progress"
	EventDeploymentClosed   = "deployment_closed"
	EventBackendStatus      = "backend_status"
	EventBackendLogs        = "backend_logs"
	EventSessionEnded       = "session_ended"
)

// Event is a user scoped notification.
type Event struct {
	ID          int64            `json:"id,omitempty"`
	UserID      string           `json:"-"`
	Type        string           `json:"type"`
	Status      DeploymentStatus `json:"status,omitempty"`
	EndpointURL string           `json:"endpoint_url,omitempty"`
	Progress    *Progress        `json:"progress,omitempty"`
	Message     string           `json:"message,omitempty"`
	Data        json.RawMessage  `json:"data,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
