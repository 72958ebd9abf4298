package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPolicy struct {
	max   int
	delay time.Duration
}

func (p fixedPolicy) MaxRetries() int           { return p.max }
func (p fixedPolicy) Delay(n int) time.Duration { return time.Duration(n) * p.delay }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]QueueStatus]bool{
		{StatusPending, StatusUploading}:      true,
		{StatusRetryPending, StatusUploading}: true,
		{StatusUploading, StatusUploaded}:     true,
		{StatusUploading, StatusRetryPending}: true,
		{StatusUploading, StatusFailed}:       true,
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			assert.Equal(t, allowed[[2]QueueStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestQueueItem_HappyPath(t *testing.T) {
	item := NewQueueItem(7, t0)
	require.NoError(t, item.Validate())
	assert.True(t, item.IsDue(t0))

	item, err := item.BeginUpload(t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusUploading, item.Status)
	assert.Equal(t, t0.Add(time.Second), item.LastAttemptAt)
	assert.False(t, item.IsDue(t0.Add(time.Hour)))

	item, err = item.Succeed()
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, item.Status)
	require.NoError(t, item.Validate())
}

func TestQueueItem_FailSchedulesRetry(t *testing.T) {
	policy := fixedPolicy{max: 5, delay: 30 * time.Second}
	item, err := NewQueueItem(1, t0).BeginUpload(t0)
	require.NoError(t, err)

	item, err = item.Fail(t0, "HTTP 500", policy)
	require.NoError(t, err)

	assert.Equal(t, StatusRetryPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, t0.Add(30*time.Second), item.NextRetryAt)
	assert.Equal(t, "HTTP 500", item.ErrorMessage)
	require.NoError(t, item.Validate())

	assert.False(t, item.IsDue(t0.Add(29*time.Second)))
	assert.True(t, item.IsDue(t0.Add(30*time.Second)))
}

func TestQueueItem_FailsAfterMaxRetries(t *testing.T) {
	policy := fixedPolicy{max: 5, delay: time.Second}
	item := NewQueueItem(1, t0)
	now := t0

	var path []QueueStatus
	for i := 0; i < 5; i++ {
		var err error
		item, err = item.BeginUpload(now)
		require.NoError(t, err)
		item, err = item.Fail(now, "boom", policy)
		require.NoError(t, err)
		path = append(path, item.Status)
		now = now.Add(time.Hour)
	}

	assert.Equal(t, []QueueStatus{
		StatusRetryPending, StatusRetryPending, StatusRetryPending, StatusRetryPending, StatusFailed,
	}, path)
	assert.Equal(t, 5, item.RetryCount)
	assert.True(t, item.NextRetryAt.IsZero())
	assert.False(t, item.IsDue(now.Add(24*time.Hour)))

	_, err := item.BeginUpload(now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestQueueItem_TerminalStatesAreNeverLeft(t *testing.T) {
	uploaded := QueueItem{LocationID: 1, Status: StatusUploaded}
	failed := QueueItem{LocationID: 2, Status: StatusFailed, RetryCount: 5}

	for _, item := range []QueueItem{uploaded, failed} {
		_, err := item.BeginUpload(t0)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = item.Succeed()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = item.Fail(t0, "x", fixedPolicy{max: 5})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}

	var te *TransitionError
	_, err := uploaded.Succeed()
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusUploaded, te.From)
}

func TestQueueItem_Reset(t *testing.T) {
	failed := QueueItem{LocationID: 3, Status: StatusFailed, RetryCount: 5, ErrorMessage: "gone"}

	item, err := failed.Reset(t0)
	require.NoError(t, err)
	assert.Equal(t, StatusRetryPending, item.Status)
	assert.Zero(t, item.RetryCount)
	assert.Equal(t, t0, item.NextRetryAt)
	assert.True(t, item.IsDue(t0))

	_, err = NewQueueItem(4, t0).Reset(t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestQueueItem_Validate(t *testing.T) {
	bad := QueueItem{LocationID: 1, Status: StatusPending, NextRetryAt: t0}
	assert.Error(t, bad.Validate())

	bad = QueueItem{LocationID: 1, Status: StatusRetryPending}
	assert.Error(t, bad.Validate())

	bad = QueueItem{LocationID: 1, Status: "LOST"}
	assert.Error(t, bad.Validate())
}

func TestQueueStats(t *testing.T) {
	s := QueueStats{Pending: 2, Uploading: 1, Uploaded: 10, RetryPending: 3, Failed: 1}
	assert.Equal(t, 17, s.Total())
	assert.Equal(t, 5, s.NeedsUpload())
	assert.Equal(t, 3, s.Count(StatusRetryPending))
}
