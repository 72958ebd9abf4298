// Package ingest is the HTTP client for the location ingestion API.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/model"
)

const (
	DefaultBatchPath = "/api/v1/locations/batch"
	DefaultTimeout   = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL  string
	DeviceID string
	APIKey   string
	Timeout  time.Duration

	// BatchPath defaults to DefaultBatchPath.
	BatchPath string

	// HealthPath is probed by Reachable. Empty disables the probe.
	HealthPath string
}

// Client uploads location batches. Retries are not done here: a failed
// batch is rescheduled by the upload queue.
type Client struct {
	http       *resty.Client
	deviceID   string
	batchPath  string
	healthPath string
	log        *zap.Logger
}

// NewClient creates a client for cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchPath == "" {
		cfg.BatchPath = DefaultBatchPath
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &Client{
		http:       client,
		deviceID:   cfg.DeviceID,
		batchPath:  cfg.BatchPath,
		healthPath: cfg.HealthPath,
		log:        logger.Named("ingest"),
	}
}

// DeviceID is the device the client uploads for.
func (c *Client) DeviceID() string { return c.deviceID }

// UploadBatch sends records in one request. It succeeds only when the
// server reports success for every record; anything else is an *Error.
func (c *Client) UploadBatch(ctx context.Context, records []model.LocationRecord) (BatchResponse, error) {
	if len(records) == 0 {
		return BatchResponse{}, ErrEmptyBatch
	}

	body := NewBatchRequest(c.deviceID, records)
	key := IdempotencyKey(c.deviceID, records)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", key).
		SetBody(body).
		Post(c.batchPath)
	if err != nil {
		c.log.Warn("batch upload failed", zap.Int("records", len(records)), zap.Error(err))
		return BatchResponse{}, &Error{Code: ErrCodeTransport, Err: err}
	}

	var out BatchResponse
	raw := resp.Body()
	if len(raw) > 0 {
		if jerr := json.Unmarshal(raw, &out); jerr != nil && !resp.IsError() {
			return BatchResponse{}, &Error{Code: ErrCodeDecode, StatusCode: resp.StatusCode(), Err: jerr}
		}
	}

	if resp.IsError() || resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		c.log.Warn("batch upload rejected",
			zap.Int("status_code", resp.StatusCode()),
			zap.Int("records", len(records)),
			zap.String("message", out.Message),
		)
		return out, &Error{Code: ErrCodeStatus, StatusCode: resp.StatusCode(), Message: out.Message}
	}
	if !out.Success {
		return out, &Error{Code: ErrCodeRejected, StatusCode: resp.StatusCode(), Message: out.Message}
	}
	if out.ProcessedCount < len(records) {
		return out, &Error{
			Code:       ErrCodePartial,
			StatusCode: resp.StatusCode(),
			Message:    partialMessage(out.ProcessedCount, len(records)),
		}
	}

	c.log.Debug("batch uploaded", zap.Int("records", len(records)), zap.String("idempotency_key", key))
	return out, nil
}

// Reachable probes the health path. It reports true when no probe is
// configured so that uploads are still attempted.
func (c *Client) Reachable(ctx context.Context) bool {
	if c.healthPath == "" {
		return true
	}
	resp, err := c.http.R().SetContext(ctx).Get(c.healthPath)
	if err != nil {
		c.log.Debug("ingest endpoint unreachable", zap.Error(err))
		return false
	}
	return !resp.IsError()
}

func partialMessage(processed, sent int) string {
	return fmt.Sprintf("processed %d of %d records", processed, sent)
}
