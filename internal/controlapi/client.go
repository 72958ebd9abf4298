package controlapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hanibalsk/trackd/internal/service"
)

// Error is a non-2xx reply from the control API.
type Error struct {
	StatusCode int
	Response
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("control api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("control api: %d: %s", e.StatusCode, e.Message)
}

// IsPermissionDenied reports whether the agent refused to start because
// the location capability is unavailable.
func (e *Error) IsPermissionDenied() bool {
	return e.StatusCode == http.StatusForbidden
}

// Client talks to a running agent.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Start asks the agent to start tracking.
func (c *Client) Start(ctx context.Context) (service.Outcome, error) {
	var out Response
	if err := c.do(ctx, http.MethodPost, "/v1/tracking/start", nil, &out); err != nil {
		return "", err
	}
	return out.Outcome, nil
}

// Stop asks the agent to stop tracking.
func (c *Client) Stop(ctx context.Context) (service.Outcome, error) {
	var out Response
	if err := c.do(ctx, http.MethodPost, "/v1/tracking/stop", nil, &out); err != nil {
		return "", err
	}
	return out.Outcome, nil
}

// SetInterval changes the capture interval.
func (c *Client) SetInterval(ctx context.Context, minutes int) (service.Outcome, error) {
	var out Response
	if err := c.do(ctx, http.MethodPut, "/v1/tracking/interval", IntervalRequest{Minutes: minutes}, &out); err != nil {
		return "", err
	}
	return out.Outcome, nil
}

// Health returns the agent's service health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out)
	return out, err
}

// QueueStats returns upload queue counts.
func (c *Client) QueueStats(ctx context.Context) (QueueStatsResponse, error) {
	var out QueueStatsResponse
	err := c.do(ctx, http.MethodGet, "/v1/queue/stats", nil, &out)
	return out, err
}

// RetryFailed moves every failed upload back to retry.
func (c *Client) RetryFailed(ctx context.Context) (int64, error) {
	var out RetryFailedResponse
	err := c.do(ctx, http.MethodPost, "/v1/queue/retry-failed", nil, &out)
	return out.Reset, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr Response
	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return &Error{StatusCode: resp.StatusCode(), Response: apiErr}
	}
	return nil
}
