package domain

import (
	"encoding/json"
	"time"
)

// BackendSettings is the saved configuration a user pushes to the remote backend.
// The document is opaque to the panel.
type BackendSettings struct {
	UserID    string          `json:"-"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}
