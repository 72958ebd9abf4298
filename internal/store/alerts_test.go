package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/trackd/internal/model"
)

func testAlert(id string) model.ProximityAlert {
	return model.ProximityAlert{
		ID:              id,
		TargetDeviceID:  "peer-" + id,
		ThresholdMeters: 100,
		Direction:       model.DirectionEnter,
		Active:          true,
		CreatedAt:       t0,
	}
}

func TestUpsertAlert_PreservesEngineState(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.UpsertAlert(ctx, testAlert("a1")))
	require.NoError(t, s.SetAlertState(ctx, "a1", model.StateNear))
	require.NoError(t, s.MarkAlertTriggered(ctx, "a1", t0.Add(time.Minute)))

	updated := testAlert("a1")
	updated.ThresholdMeters = 250
	updated.CooldownSeconds = 600
	require.NoError(t, s.UpsertAlert(ctx, updated))

	got, err := s.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 250.0, got.ThresholdMeters)
	assert.Equal(t, 600, got.CooldownSeconds)
	assert.Equal(t, model.StateNear, got.LastState)
	assert.Equal(t, t0.Add(time.Minute), got.LastTriggeredAt)
}

func TestListAlerts_ActiveOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	inactive := testAlert("b")
	inactive.Active = false
	require.NoError(t, s.UpsertAlert(ctx, testAlert("a")))
	require.NoError(t, s.UpsertAlert(ctx, inactive))

	all, err := s.ListAlerts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListAlerts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, model.StateUnknown, active[0].LastState)
}

func TestAlertUpdates_MissingAlert(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	assert.ErrorIs(t, s.SetAlertState(ctx, "nope", model.StateFar), ErrNotFound)
	assert.ErrorIs(t, s.MarkAlertTriggered(ctx, "nope", t0), ErrNotFound)
	_, err := s.GetAlert(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.DeleteAlert(ctx, "nope"))
}

func TestUpsertAlert_Invalid(t *testing.T) {
	s := createTestStore(t)
	bad := testAlert("x")
	bad.ThresholdMeters = -1
	assert.Error(t, s.UpsertAlert(t.Context(), bad))
}
