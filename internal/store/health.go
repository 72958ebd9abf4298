package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hanibalsk/trackd/internal/model"
)

// SaveHealth replaces the single service_health row.
func (s *Store) SaveHealth(ctx context.Context, h model.ServiceHealth) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_health
		(id, is_running, last_capture_at, location_count, status, error_message, interval_ms, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_running = excluded.is_running,
			last_capture_at = excluded.last_capture_at,
			location_count = excluded.location_count,
			status = excluded.status,
			error_message = excluded.error_message,
			interval_ms = excluded.interval_ms,
			updated_at = excluded.updated_at
	`,
		boolToInt(h.IsRunning),
		nullMillis(h.LastCaptureAt),
		h.LocationCount,
		string(h.Status),
		h.ErrorMessage,
		h.Interval.Milliseconds(),
		toMillis(h.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save health: %w", err)
	}
	return nil
}

// LoadHealth reads the persisted health record. A store that has never
// recorded health returns ErrNotFound.
func (s *Store) LoadHealth(ctx context.Context) (model.ServiceHealth, error) {
	var (
		h           model.ServiceHealth
		running     int
		lastCapture sql.NullInt64
		status      string
		intervalMs  int64
		updatedAt   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT is_running, last_capture_at, location_count, status, error_message, interval_ms, updated_at
		FROM service_health WHERE id = 1
	`).Scan(&running, &lastCapture, &h.LocationCount, &status, &h.ErrorMessage, &intervalMs, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ServiceHealth{}, fmt.Errorf("health: %w", ErrNotFound)
	}
	if err != nil {
		return model.ServiceHealth{}, fmt.Errorf("load health: %w", err)
	}

	h.IsRunning = running != 0
	h.LastCaptureAt = fromNullMillis(lastCapture)
	h.Status = model.HealthStatus(status)
	h.Interval = time.Duration(intervalMs) * time.Millisecond
	h.UpdatedAt = fromMillis(updatedAt)
	return h, nil
}
