package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultBaseURL = "http://localhost:4000"

// Client provides typed access to the control panel API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided panel base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL reports the normalised panel address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the API.
type APIError struct {
	Status     int
	Message    string
	Reason     string
	PipelineID string
	RetryAfter time.Duration
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// NeedsConfirmation reports whether err asks the caller to confirm replacing a
// running pipeline, and returns that pipeline's id.
func NeedsConfirmation(err error) (string, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.PipelineID != "" {
		return apiErr.PipelineID, true
	}
	return "", false
}

// Unauthorized reports whether err means the stored token is no longer valid.
func Unauthorized(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if v == nil {
		return nil
	}
	if raw, ok := v.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error      string `json:"error"`
		Reason     string `json:"reason"`
		PipelineID string `json:"pipeline_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Reason = payload.Reason
	apiErr.PipelineID = payload.PipelineID
	return apiErr
}

// User reflects API user payloads.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Admin       bool   `json:"admin"`
	AccessUntil string `json:"access_until,omitempty"`
}

// LoginResponse captures the session payload emitted by the API.
type LoginResponse struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// SignupInput captures the payload for account registration.
type SignupInput struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Token           string `json:"token"`
}

// Signup registers an account with an access token.
func (c *Client) Signup(ctx context.Context, input SignupInput) (User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/signup", input, "", &resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// Logout ends the current session. With all set every session of the user ends.
func (c *Client) Logout(ctx context.Context, token string, all bool) error {
	path := "/auth/logout"
	if all {
		path = "/auth/logout-all"
	}
	return c.do(ctx, http.MethodPost, path, nil, token, nil)
}

// Session validates token and returns its user.
func (c *Client) Session(ctx context.Context, token string) (User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, token, &resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// ClaimTab makes tabID the only live stream of the session.
func (c *Client) ClaimTab(ctx context.Context, token, tabID string) error {
	return c.do(ctx, http.MethodPost, "/session/tab", map[string]string{"tab_id": tabID}, token, nil)
}

// Progress mirrors the deployment progress indicator.
type Progress struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// Deployment is the caller's deployment session.
type Deployment struct {
	Status           string    `json:"status"`
	PipelineID       string    `json:"pipeline_id,omitempty"`
	Subdomain        string    `json:"subdomain,omitempty"`
	EndpointURL      string    `json:"endpoint_url,omitempty"`
	Progress         Progress  `json:"progress"`
	LocalTest        bool      `json:"local_test"`
	Error            string    `json:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	BackendConnected bool      `json:"backend_connected"`
}

// Deployment fetches the current deployment session.
func (c *Client) Deployment(ctx context.Context, token string) (Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodGet, "/deployment", nil, token, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

// Deploy starts a deployment. confirm replaces an already running pipeline.
func (c *Client) Deploy(ctx context.Context, token string, confirm bool) (Deployment, error) {
	var dep Deployment
	body := map[string]bool{"confirm": confirm}
	if err := c.do(ctx, http.MethodPost, "/deployment/deploy", body, token, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

// Undeploy tears the live deployment down.
func (c *Client) Undeploy(ctx context.Context, token string) (Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodPost, "/deployment/undeploy", nil, token, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

// Dismiss clears a failed deployment.
func (c *Client) Dismiss(ctx context.Context, token string) (Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodPost, "/deployment/dismiss", nil, token, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

// SetLocalTest toggles local test mode.
func (c *Client) SetLocalTest(ctx context.Context, token string, enabled bool) (Deployment, error) {
	var dep Deployment
	body := map[string]bool{"enabled": enabled}
	if err := c.do(ctx, http.MethodPost, "/deployment/local", body, token, &dep); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

// DeploymentRecord is one entry of the deployment history.
type DeploymentRecord struct {
	ID          string     `json:"id"`
	PipelineID  string     `json:"pipeline_id"`
	Subdomain   string     `json:"subdomain"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// History lists recent deployments, newest first.
func (c *Client) History(ctx context.Context, token string, limit int) ([]DeploymentRecord, error) {
	path := "/deployment/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var records []DeploymentRecord
	if err := c.do(ctx, http.MethodGet, path, nil, token, &records); err != nil {
		return nil, err
	}
	return records, nil
}

type BackendSettings struct {
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ApplyResult holds the backend's replies to configure and connect.
type ApplyResult struct {
	Configured json.RawMessage `json:"configured"`
	Connected  json.RawMessage `json:"connected"`
}

// Event is a notification streamed or stored by the panel.
type Event struct {
	ID          int64           `json:"id,omitempty"`
	Type        string          `json:"type"`
	Status      string          `json:"status,omitempty"`
	EndpointURL string          `json:"endpoint_url,omitempty"`
	Progress    *Progress       `json:"progress,omitempty"`
	Message     string          `json:"message,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Events lists stored notifications.
func (c *Client) Events(ctx context.Context, token string, limit int) ([]Event, error) {
	path := "/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list []Event
	if err := c.do(ctx, http.MethodGet, path, nil, token, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Watch streams live events over the websocket endpoint until ctx ends, the
// server closes the stream or fn returns false.
func (c *Client) Watch(ctx context.Context, token, tabID string, fn func(Event) bool) error {
	target, err := url.Parse(c.baseURL + "/ws/events")
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	query := target.Query()
	query.Set("access_token", token)
	if tabID != "" {
		query.Set("tab_id", tabID)
	}
	target.RawQuery = query.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		if !fn(event) {
			return nil
		}
	}
}

// Backend issues a proxied backend call. GET operations are health, status and logs;
// everything else is posted. body may be nil.
func (c *Client) Backend(ctx context.Context, token, op string, body any) (json.RawMessage, error) {
	method := http.MethodPost
	switch op {
	case "health", "status", "logs":
		method = http.MethodGet
	}
	var raw json.RawMessage
	if err := c.do(ctx, method, "/backend/"+url.PathEscape(op), body, token, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Settings returns the caller's saved backend configuration.
func (c *Client) Settings(ctx context.Context, token string) (BackendSettings, error) {
	var out BackendSettings
	if err := c.do(ctx, http.MethodGet, "/settings", nil, token, &out); err != nil {
		return BackendSettings{}, err
	}
	return out, nil
}

func (c *Client) SaveSettings(ctx context.Context, token string, config json.RawMessage) (BackendSettings, error) {
	var out BackendSettings
	body := map[string]json.RawMessage{"config": config}
	if err := c.do(ctx, http.MethodPut, "/settings", body, token, &out); err != nil {
		return BackendSettings{}, err
	}
	return out, nil
}

// ApplySettings pushes the saved configuration to the deployed backend and connects.
func (c *Client) ApplySettings(ctx context.Context, token string) (ApplyResult, error) {
	var out ApplyResult
	if err := c.do(ctx, http.MethodPost, "/settings/apply", nil, token, &out); err != nil {
		return ApplyResult{}, err
	}
	return out, nil
}

// AccessToken is a one time signup credential.
type AccessToken struct {
	ID             string     `json:"id"`
	Value          string     `json:"value"`
	DurationMonths int        `json:"duration_months"`
	UsedBy         *string    `json:"used_by,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GenerateToken mints an access token (admin only).
func (c *Client) GenerateToken(ctx context.Context, token string, months int) (AccessToken, error) {
	var out AccessToken
	body := map[string]int{"duration_months": months}
	if err := c.do(ctx, http.MethodPost, "/admin/tokens", body, token, &out); err != nil {
		return AccessToken{}, err
	}
	return out, nil
}

// ListTokens lists access tokens, optionally filtered by duration (admin only).
func (c *Client) ListTokens(ctx context.Context, token string, months int) ([]AccessToken, error) {
	path := "/admin/tokens"
	if months > 0 {
		path += "?duration=" + strconv.Itoa(months)
	}
	var out []AccessToken
	if err := c.do(ctx, http.MethodGet, path, nil, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteToken removes an access token (admin only).
func (c *Client) DeleteToken(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/tokens/"+url.PathEscape(id), nil, token, nil)
}

// UserSummary is the admin view of an account.
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

// ListUsers lists every account (admin only).
func (c *Client) ListUsers(ctx context.Context, token string) ([]UserSummary, error) {
	var out []UserSummary
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteUser removes an account and ends its sessions (admin only).
func (c *Client) DeleteUser(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil, token, nil)
}

// RenewUser extends an account by months and returns the new expiry (admin only).
func (c *Client) RenewUser(ctx context.Context, token, id string, months int) (time.Time, error) {
	var resp struct {
		AccessUntil time.Time `json:"access_until"`
	}
	body := map[string]int{"duration_months": months}
	if err := c.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(id)+"/renew", body, token, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.AccessUntil, nil
}
