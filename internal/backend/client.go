// Package backend talks to the ephemeral backend a deployment exposes.
package backend

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
)

const maxResponseBytes = 4 << 20

var (
	// ErrNoEndpoint reports that no backend is deployed or selected for local testing.
	ErrNoEndpoint = errors.New("backend url not configured: enable local test mode or deploy backend")
	// ErrNetwork reports that the backend could not be reached at all.
	ErrNetwork = errors.New("backend network error")
)

// StatusError is returned when the backend answers with a non 2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend responded with %d", e.Code)
	}
	return fmt.Sprintf("backend responded with %d: %s", e.Code, e.Body)
}

// Resolver yields the base URL requests are sent to. An empty result fails closed.
type Resolver interface {
	Resolve() string
}

// Client issues backend API calls against whatever URL the resolver reports at call time.
type Client struct {
	resolver Resolver
	http     *http.Client
	now      func() time.Time
}

// NewClient constructs a backend client. A nil httpClient uses a 30 second timeout.
func NewClient(resolver Resolver, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{resolver: resolver, http: httpClient, now: time.Now}
}

// SendCommand is the body of a /api/send call.
type SendCommand struct {
	WSNumber int    `json:"wsNumber"`
	Command  string `json:"command"`
}

// Health calls GET /api/health, bypassing caches.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/health", nil)
}

// Status calls GET /api/status, bypassing caches.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/status", nil)
}

// Logs calls GET /api/logs, bypassing caches.
func (c *Client) Logs(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/logs", nil)
}

// Configure pushes a configuration document.
func (c *Client) Configure(ctx context.Context, config json.RawMessage) (json.RawMessage, error) {
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	return c.do(ctx, http.MethodPost, "/api/configure", config)
}

// Connect asks the backend to open its connections.
func (c *Client) Connect(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/connect", nil)
}

// Disconnect asks the backend to close its connections.
func (c *Client) Disconnect(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/disconnect", nil)
}

// Send forwards a command to one of the backend's sockets.
func (c *Client) Send(ctx context.Context, cmd SendCommand) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/send", cmd)
}

// Release calls POST /api/release.
func (c *Client) Release(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/release", nil)
}

// do sends one request. GETs always carry a cache buster and no-cache headers.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	noCache := method == http.MethodGet
	base := ""
	if c.resolver != nil {
		base = strings.TrimRight(strings.TrimSpace(c.resolver.Resolve()), "/")
	}
	if base == "" {
		return nil, ErrNoEndpoint
	}
	target, err := url.Parse(base + path)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if noCache {
		q := target.Query()
		q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
		target.RawQuery = q.Encode()
	}

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case json.RawMessage:
		reader = bytes.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("bypass-tunnel-reminder", "true")
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("backend returned invalid json from %s", path)
	}
	return json.RawMessage(data), nil
}
