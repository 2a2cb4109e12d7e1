// Package backend opens streaming inference calls against the
// model-serving backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks a failed or refused backend call. Retryable by
// the caller; the gateway never retries internally.
var ErrUnavailable = errors.New("backend unavailable")

// DefaultFirstByteTimeout bounds how long a request waits for the
// backend to start responding.
const DefaultFirstByteTimeout = 30 * time.Second

// Request is the inference call forwarded to the backend.
type Request struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	DeploymentID string `json:"deployment_id,omitempty"`
	Stream       bool   `json:"stream"`
}

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	// FirstByteTimeout bounds the wait for response headers. Zero uses
	// DefaultFirstByteTimeout. The body stream itself has no deadline;
	// cancellation comes from the request context.
	FirstByteTimeout time.Duration
}

// Client is a streaming HTTP client for the inference backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a client for the given backend.
func New(cfg Config) *Client {
	timeout := cfg.FirstByteTimeout
	if timeout <= 0 {
		timeout = DefaultFirstByteTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: timeout},
		},
	}
}

// Stream opens the backend call and returns the raw event stream. The
// caller owns the returned body and must close it; cancelling ctx tears
// the read down promptly.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode backend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
