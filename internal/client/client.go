package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides HTTP client functionality for the sidecar API
type Client struct {
	config     Config
	httpClient *http.Client
}

// Config contains client configuration
type Config struct {
	// BaseURL of the sidecar, e.g. http://localhost:8767
	BaseURL string
	// Timeout for a single request. Transcription of long audio can be
	// slow on constrained hardware; zero means no timeout.
	Timeout time.Duration
}

// TranscribeResult mirrors the /transcribe response payload
type TranscribeResult struct {
	Text           string  `json:"text"`
	Duration       float64 `json:"duration"`
	TranscribeTime float64 `json:"transcribe_time"`
	Model          string  `json:"model"`
	Language       string  `json:"language"`
}

// Health mirrors the /health response payload
type Health struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// SwitchResult mirrors the /switch response payload
type SwitchResult struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// APIError is a non-2xx response from the sidecar
type APIError struct {
	StatusCode int
	Message    string   `json:"error"`
	Status     string   `json:"status,omitempty"`
	Allowed    []string `json:"allowed,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whisper sidecar: HTTP %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a sidecar API client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe posts audio bytes (WAV or raw PCM-16) for transcription
func (c *Client) Transcribe(ctx context.Context, audioData []byte) (*TranscribeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/transcribe", bytes.NewReader(audioData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var result TranscribeResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health fetches the sidecar's model status
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var health Health
	if err := c.do(req, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Switch requests a hot-swap to the named model
func (c *Client) Switch(ctx context.Context, model string) (*SwitchResult, error) {
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/switch?model="+url.QueryEscape(model), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result SwitchResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do performs a request and decodes the JSON response. Non-2xx responses
// are returned as *APIError with the sidecar's error payload attached.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		// Best effort: keep the transport error shape if the payload
		// is not the sidecar's JSON error
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return nil
}
