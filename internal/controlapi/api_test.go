package controlapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hanibalsk/trackd/internal/health"
	"github.com/hanibalsk/trackd/internal/location"
	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/service"
)

type fakeTracking struct {
	running     bool
	minutes     int
	startErr    error
	intervalErr error
}

func (f *fakeTracking) StartTracking(context.Context) (service.Outcome, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	if f.running {
		return service.OutcomeAlreadyInState, nil
	}
	f.running = true
	return service.OutcomeApplied, nil
}

func (f *fakeTracking) StopTracking(context.Context) (service.Outcome, error) {
	if !f.running {
		return service.OutcomeAlreadyInState, nil
	}
	f.running = false
	return service.OutcomeApplied, nil
}

func (f *fakeTracking) UpdateInterval(_ context.Context, minutes int) (service.Outcome, error) {
	if f.intervalErr != nil {
		return "", f.intervalErr
	}
	f.minutes = minutes
	return service.OutcomeApplied, nil
}

type fakeQueue struct {
	stats model.QueueStats
	reset int64
	err   error
}

func (f *fakeQueue) Stats(context.Context) (model.QueueStats, error) { return f.stats, f.err }
func (f *fakeQueue) ResetFailed(context.Context) (int64, error)      { return f.reset, f.err }

type apiFixture struct {
	tracking *fakeTracking
	queue    *fakeQueue
	writer   *health.Writer
	metrics  *metrics.Metrics
	server   *httptest.Server
	client   *Client
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cell, writer := health.New(model.ServiceHealth{}, health.Options{})
	f := &apiFixture{
		tracking: &fakeTracking{},
		queue:    &fakeQueue{},
		writer:   writer,
		metrics:  metrics.New(),
	}
	f.server = httptest.NewServer(NewHandler(Deps{
		Tracking: f.tracking,
		Health:   cell,
		Queue:    f.queue,
		Metrics:  f.metrics,
	}, zaptest.NewLogger(t)))
	t.Cleanup(f.server.Close)
	f.client = NewClient(f.server.URL, 5*time.Second)
	return f
}

func TestStartStop(t *testing.T) {
	f := newAPIFixture(t)
	ctx := t.Context()

	outcome, err := f.client.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeApplied, outcome)

	outcome, err = f.client.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyInState, outcome)

	outcome, err = f.client.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeApplied, outcome)
	assert.False(t, f.tracking.running)
}

func TestStart_PermissionDenied(t *testing.T) {
	f := newAPIFixture(t)
	f.tracking.startErr = &service.ControlError{
		Code:    service.ErrCodePermission,
		Message: "location capability unavailable",
		Err:     location.NewPermissionError("denied", nil),
	}

	_, err := f.client.Start(t.Context())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.True(t, apiErr.IsPermissionDenied())
	assert.Equal(t, "PERMISSION", apiErr.Code)
}

func TestStart_InternalError(t *testing.T) {
	f := newAPIFixture(t)
	f.tracking.startErr = errors.New("database is locked")

	_, err := f.client.Start(t.Context())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "database is locked")
}

func TestSetInterval(t *testing.T) {
	f := newAPIFixture(t)

	outcome, err := f.client.SetInterval(t.Context(), 15)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeApplied, outcome)
	assert.Equal(t, 15, f.tracking.minutes)

	_, err = f.client.SetInterval(t.Context(), 0)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, "Minutes", apiErr.Errors[0].Field)
}

func TestSetInterval_ControlError(t *testing.T) {
	f := newAPIFixture(t)
	f.tracking.intervalErr = &service.ControlError{Code: service.ErrCodePlatform, Message: "worker unavailable"}

	_, err := f.client.SetInterval(t.Context(), 10)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "PLATFORM", apiErr.Code)
	assert.False(t, apiErr.IsPermissionDenied())
}

func TestSetInterval_BadBody(t *testing.T) {
	f := newAPIFixture(t)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPut, f.server.URL+"/v1/tracking/interval",
		strings.NewReader(`{"minutes":`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := f.writer.Update(t.Context(), func(h *model.ServiceHealth) {
		h.IsRunning = true
		h.LastCaptureAt = at
		h.LocationCount = 42
		h.Interval = 5 * time.Minute
	})
	require.NoError(t, err)

	got, err := f.client.Health(t.Context())
	require.NoError(t, err)
	assert.True(t, got.IsRunning)
	assert.True(t, at.Equal(got.LastCaptureAt))
	assert.EqualValues(t, 42, got.LocationCount)
	assert.Equal(t, model.HealthHealthy, got.Status)
	assert.Equal(t, 5.0, got.IntervalMinutes)
}

func TestQueue(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.stats = model.QueueStats{Pending: 3, RetryPending: 2, Failed: 1, Uploaded: 10}
	f.queue.reset = 1

	stats, err := f.client.QueueStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, f.queue.stats, stats.QueueStats)
	assert.Equal(t, 16, stats.Total)
	assert.Equal(t, 5, stats.NeedsUpload)

	n, err := f.client.RetryFailed(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	f.queue.err = errors.New("disk full")
	_, err = f.client.QueueStats(t.Context())
	assert.ErrorContains(t, err, "disk full")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.stats = model.QueueStats{Failed: 4}
	_, err := f.client.QueueStats(t.Context())
	require.NoError(t, err)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `trackd_queue_items{status="FAILED"} 4`)
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("127.0.0.1:1", time.Second)
	_, err := c.Health(t.Context())
	require.Error(t, err)
	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr))
}
