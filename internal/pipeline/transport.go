package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 8 << 20

// requester is the shared HTTP plumbing of both providers.
type requester struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decode ci response: %w", err)
	}
	return nil
}

func newRequester(baseURL string, headers map[string]string, s settings) *requester {
	return &requester{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		headers: headers,
		client:  s.httpClient,
		limiter: s.limiter,
		logger:  s.logger,
	}
}

// do performs a request; transport failures are returned as errors while HTTP error
// statuses are returned in the response for provider specific handling.
func (r *requester) do(ctx context.Context, method, path string, body any) (response, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return response{}, err
		}
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return response{}, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		r.logger.Warn("ci request rejected", "method", method, "path", path, "status", resp.StatusCode)
	}
	return response{status: resp.StatusCode, body: data}, nil
}
