package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/trackd/internal/model"
)

func TestAppendLocation_MonotonicIDs(t *testing.T) {
	s := createTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		id := appendTestLocation(t, s, t0.Add(time.Duration(i)*time.Second))
		assert.Greater(t, id, last)
		last = id
	}

	n, err := s.CountLocations(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestAppendLocation_RoundTripsOptionalFields(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	alt, speed := 134.5, 1.25
	battery := 81
	id, err := s.AppendLocation(ctx, model.LocationRecord{
		DeviceID:     "device-1",
		Latitude:     48.1,
		Longitude:    17.1,
		Accuracy:     12.5,
		Timestamp:    t0,
		Provider:     "fused",
		Altitude:     &alt,
		Speed:        &speed,
		BatteryLevel: &battery,
		NetworkType:  "wifi",
	})
	require.NoError(t, err)

	rec, err := s.GetLocation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, t0, rec.Timestamp)
	require.NotNil(t, rec.Altitude)
	assert.Equal(t, alt, *rec.Altitude)
	assert.Nil(t, rec.Bearing)
	require.NotNil(t, rec.BatteryLevel)
	assert.Equal(t, 81, *rec.BatteryLevel)
	assert.Equal(t, "wifi", rec.NetworkType)

	latest, err := s.LatestLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
}

func TestGetLocations(t *testing.T) {
	s := createTestStore(t)
	a := appendTestLocation(t, s, t0)
	b := appendTestLocation(t, s, t0)

	recs, err := s.GetLocations(t.Context(), []int64{b, a, 999})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, a, recs[0].ID)
	assert.Equal(t, b, recs[1].ID)

	recs, err = s.GetLocations(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLatestLocation_Empty(t *testing.T) {
	s := createTestStore(t)
	_, err := s.LatestLocation(t.Context())
	assert.ErrorIs(t, err, ErrNotFound)
}
