package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hanibalsk/trackd/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appendTestLocation stores a minimal location captured at ts.
func appendTestLocation(t *testing.T, s *Store, ts time.Time) int64 {
	t.Helper()
	id, err := s.AppendLocation(t.Context(), model.LocationRecord{
		DeviceID:  "device-1",
		Latitude:  48.1486,
		Longitude: 17.1077,
		Accuracy:  5,
		Timestamp: ts,
		Provider:  "gps",
	})
	if err != nil {
		t.Fatalf("AppendLocation() failed: %v", err)
	}
	return id
}

// queueTestLocation stores a location and a pending queue row for it.
func queueTestLocation(t *testing.T, s *Store, queuedAt time.Time) int64 {
	t.Helper()
	id := appendTestLocation(t, s, queuedAt)
	if err := s.UpsertQueueItem(t.Context(), model.NewQueueItem(id, queuedAt)); err != nil {
		t.Fatalf("UpsertQueueItem() failed: %v", err)
	}
	return id
}
