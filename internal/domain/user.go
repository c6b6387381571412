package domain

import "time"

// User represents a panel account.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	Admin        bool
	Active       bool
	TokenID      *string
	AccessUntil  *time.Time
	CreatedAt    time.Time
}

// Session is a single login. Only the newest session of a user stays valid.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// AccessToken gates registration; each token is used by at most one account.
type AccessToken struct {
	ID             string     `json:"id"`
	Value          string     `json:"value"`
	DurationMonths int        `json:"duration_months"`
	UsedBy         *string    `json:"used_by,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// UserSummary is the admin listing view of an account.
type UserSummary struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Admin          bool       `json:"admin"`
	Active         bool       `json:"active"`
	TokenValue     string     `json:"token_value,omitempty"`
	DurationMonths int        `json:"duration_months,omitempty"`
	AccessUntil    *time.Time `json:"access_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
