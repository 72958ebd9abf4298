package controlapi

import (
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/service"
)

// Response is the body of every error reply and of control replies.
type Response struct {
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Outcome service.Outcome `json:"outcome,omitempty"`
	Errors  []FieldError    `json:"errors,omitempty"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// IntervalRequest is the body of PUT /v1/tracking/interval.
type IntervalRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=1440"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	model.ServiceHealth
	IntervalMinutes float64 `json:"interval_minutes"`
}

// QueueStatsResponse is the body of GET /v1/queue/stats.
type QueueStatsResponse struct {
	model.QueueStats
	Total       int `json:"total"`
	NeedsUpload int `json:"needs_upload"`
}

// RetryFailedResponse is the body of POST /v1/queue/retry-failed.
type RetryFailedResponse struct {
	Reset int64 `json:"reset"`
}
