package model

import (
	"math"
	"time"
)

// HealthStatus summarises the capture loop's recent results.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthAcquiring HealthStatus = "ACQUIRING"
	HealthNoSignal  HealthStatus = "NO_SIGNAL"
	HealthError     HealthStatus = "ERROR"
)

// ServiceHealth is the observable state of the background tracking worker.
// It has exactly one writer; see package health.
type ServiceHealth struct {
	IsRunning     bool          `json:"is_running"`
	LastCaptureAt time.Time     `json:"last_capture_at,omitzero"`
	LocationCount int64         `json:"location_count"`
	Status        HealthStatus  `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Interval      time.Duration `json:"interval"`
	UpdatedAt     time.Time     `json:"updated_at,omitzero"`
}

// SinceLastCapture returns how long ago the last sample was captured.
// A worker that has never captured is infinitely stale.
func (h ServiceHealth) SinceLastCapture(now time.Time) time.Duration {
	if h.LastCaptureAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(h.LastCaptureAt)
}
