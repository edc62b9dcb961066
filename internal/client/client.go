// SPDX-License-Identifier: MIT

// Package client provides a client for the Glimpser daemon's HTTP API.
//
// This is what glimpsectl and external tooling use to start and stop
// captures, poll health, and fetch snapshots without speaking raw HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the default Glimpser API endpoint.
	DefaultBaseURL = "http://127.0.0.1:8089"

	// DefaultTimeout is the default HTTP request timeout. Snapshot fetches
	// override it because a first frame can take as long as a capture
	// start deadline.
	DefaultTimeout = 5 * time.Second
)

// Client talks to the Glimpser daemon API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// StreamHealth mirrors the per-stream health JSON.
type StreamHealth struct {
	ID             string `json:"id,omitempty"`
	State          string `json:"state"`
	LastFrameAgeMS int64  `json:"last_frame_age_ms"`
	BytesRead      int64  `json:"bytes_read"`
	Frames         int64  `json:"frames"`
	Subscribers    int    `json:"subscribers"`
	StderrTail     string `json:"stderr_tail"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	Failure        string `json:"failure,omitempty"`
}

// DaemonHealth mirrors the aggregate /healthz JSON.
type DaemonHealth struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Encoders  int            `json:"encoders"`
	Streams   []StreamHealth `json:"streams"`
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Message)
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Glimpser API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start asks the daemon to start capturing a stream.
//
// API endpoint: POST /api/stream/{id}/start
func (c *Client) Start(ctx context.Context, id string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/stream/%s/start", c.baseURL, id))
}

// Stop asks the daemon to stop capturing a stream.
//
// API endpoint: POST /api/stream/{id}/stop
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/stream/%s/stop", c.baseURL, id))
}

// StreamHealth fetches one stream's health snapshot.
//
// API endpoint: GET /api/stream/{id}/health
func (c *Client) StreamHealth(ctx context.Context, id string) (*StreamHealth, error) {
	var health StreamHealth
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/stream/%s/health", c.baseURL, id), &health); err != nil {
		return nil, err
	}
	health.ID = id
	return &health, nil
}

// Health fetches the aggregate daemon health.
//
// API endpoint: GET /healthz
func (c *Client) Health(ctx context.Context) (*DaemonHealth, error) {
	var health DaemonHealth
	if err := c.getJSON(ctx, c.baseURL+"/healthz", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Snapshot fetches one JPEG frame from a running capture.
//
// API endpoint: GET /api/stream/{id}/snapshot
func (c *Client) Snapshot(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	url := fmt.Sprintf("%s/api/stream/%s/snapshot", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// A snapshot may block until the next frame; use a per-call client
	// so the default timeout does not cut it short.
	httpClient := &http.Client{Timeout: timeout}
	if timeout <= 0 {
		httpClient = c.httpClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// IsStreamLive reports whether a stream is running and has produced at
// least one frame. The age of the last frame is not checked.
func (c *Client) IsStreamLive(ctx context.Context, id string) (bool, error) {
	health, err := c.StreamHealth(ctx, id)
	if err != nil {
		return false, err
	}
	return health.State == "running" && health.LastFrameAgeMS >= 0, nil
}

func (c *Client) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return decodeAPIError(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// /healthz reports 503 with a full body when degraded; still decode.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
