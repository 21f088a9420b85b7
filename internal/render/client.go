// Package render submits shot prompts to the asynchronous video rendering
// service and polls the resulting jobs at a fixed interval until they settle.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// Provider job statuses
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// Config configures the render client
type Config struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxAttempts  int
	MinDuration  int
	MaxDuration  int
	HTTPTimeout  time.Duration
}

// DefaultConfig returns the reference deployment settings
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		MaxAttempts:  60,
		MinDuration:  5,
		MaxDuration:  10,
		HTTPTimeout:  30 * time.Second,
	}
}

// ProgressFunc is called after every status read while polling
type ProgressFunc func(attempt int, status string)

// JobStatus is one status read from the provider
type JobStatus struct {
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type submitRequest struct {
	Prompt   string           `json:"prompt"`
	Duration int              `json:"duration,omitempty"`
	Kind     types.RenderKind `json:"kind"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Client talks to the rendering service
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewClient creates a render client
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid render base URL %q", cfg.BaseURL)
	}
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = defaults.MinDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaults.MaxDuration
	}
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = cfg.MinDuration
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// ClampDuration forces a requested shot length into the provider's accepted range
func (c *Client) ClampDuration(seconds int) int {
	if seconds < c.cfg.MinDuration {
		return c.cfg.MinDuration
	}
	if seconds > c.cfg.MaxDuration {
		return c.cfg.MaxDuration
	}
	return seconds
}

// Submit starts a video job and returns its id
func (c *Client) Submit(ctx context.Context, prompt string, durationSeconds int) (string, error) {
	return c.submit(ctx, submitRequest{
		Prompt:   prompt,
		Duration: c.ClampDuration(durationSeconds),
		Kind:     types.RenderKindVideo,
	})
}

// SubmitImage starts a still-image preview job and returns its id
func (c *Client) SubmitImage(ctx context.Context, prompt string) (string, error) {
	return c.submit(ctx, submitRequest{Prompt: prompt, Kind: types.RenderKindImage})
}

func (c *Client) submit(ctx context.Context, body submitRequest) (string, error) {
	if strings.TrimSpace(body.Prompt) == "" {
		return "", &SubmitRejectedError{Message: "empty prompt"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &SubmitRejectedError{Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", &SubmitRejectedError{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmitRejectedError{Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &SubmitRejectedError{StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmitRejectedError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var out submitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &SubmitRejectedError{StatusCode: resp.StatusCode, Message: "invalid response body", Cause: err}
	}
	if out.ID == "" {
		return "", &SubmitRejectedError{StatusCode: resp.StatusCode, Message: "response has no job id"}
	}

	c.logger.Debug("render job submitted", "job_id", out.ID, "kind", body.Kind, "duration", body.Duration)
	return out.ID, nil
}

// Status reads a job's current status once
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request returned HTTP %d", resp.StatusCode)
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("invalid status body: %w", err)
	}
	return &status, nil
}

// Poll reads the job status every PollInterval until it succeeds, fails or the
// attempt budget runs out. Status read errors consume an attempt.
func (c *Client) Poll(ctx context.Context, jobID string, onProgress ProgressFunc) (string, error) {
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		status, err := c.Status(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Warn("render status read failed", "job_id", jobID, "attempt", attempt, "error", err)
		case status.Status == StatusSucceeded:
			if onProgress != nil {
				onProgress(attempt, status.Status)
			}
			if status.OutputURL == "" {
				return "", &RenderFailedError{JobID: jobID, Message: "succeeded without an output URL"}
			}
			return status.OutputURL, nil
		case status.Status == StatusFailed:
			if onProgress != nil {
				onProgress(attempt, status.Status)
			}
			return "", &RenderFailedError{JobID: jobID, Message: status.Error}
		default:
			if onProgress != nil {
				onProgress(attempt, status.Status)
			}
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return "", fmt.Errorf("job %s after %d attempts: %w", jobID, c.cfg.MaxAttempts, ErrTimeout)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
