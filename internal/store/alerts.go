package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hanibalsk/trackd/internal/model"
)

const alertColumns = `id, target_device_id, target_display_name, threshold_meters, direction,
	last_state, last_triggered_at, cooldown_seconds, active, created_at`

// UpsertAlert creates an alert or replaces its configuration. The
// engine-owned fields (last_state, last_triggered_at) of an existing alert
// are preserved.
func (s *Store) UpsertAlert(ctx context.Context, a model.ProximityAlert) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}
	state := a.LastState
	if state == "" {
		state = model.StateUnknown
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proximity_alerts
		(id, target_device_id, target_display_name, threshold_meters, direction,
		 last_state, last_triggered_at, cooldown_seconds, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_device_id = excluded.target_device_id,
			target_display_name = excluded.target_display_name,
			threshold_meters = excluded.threshold_meters,
			direction = excluded.direction,
			cooldown_seconds = excluded.cooldown_seconds,
			active = excluded.active
	`,
		a.ID,
		a.TargetDeviceID,
		a.TargetDisplayName,
		a.ThresholdMeters,
		string(a.Direction),
		string(state),
		nullMillis(a.LastTriggeredAt),
		a.CooldownSeconds,
		boolToInt(a.Active),
		toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert alert %s: %w", a.ID, err)
	}
	return nil
}

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (model.ProximityAlert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM proximity_alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProximityAlert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ProximityAlert{}, fmt.Errorf("get alert %s: %w", id, err)
	}
	return a, nil
}

// ListAlerts returns alerts ordered by creation time then id.
func (s *Store) ListAlerts(ctx context.Context, activeOnly bool) ([]model.ProximityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM proximity_alerts`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []model.ProximityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("list alerts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// SetAlertState records the last observed proximity state.
func (s *Store) SetAlertState(ctx context.Context, id string, state model.ProximityState) error {
	return s.updateAlert(ctx, id, `UPDATE proximity_alerts SET last_state = ? WHERE id = ?`, string(state), id)
}

// MarkAlertTriggered records when the alert last fired.
func (s *Store) MarkAlertTriggered(ctx context.Context, id string, at time.Time) error {
	return s.updateAlert(ctx, id, `UPDATE proximity_alerts SET last_triggered_at = ? WHERE id = ?`, toMillis(at), id)
}

// DeleteAlert removes an alert. Deleting a missing alert is not an error.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM proximity_alerts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	return nil
}

func (s *Store) updateAlert(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanAlert(sc scanner) (model.ProximityAlert, error) {
	var (
		a           model.ProximityAlert
		direction   string
		state       string
		triggeredAt sql.NullInt64
		active      int
		createdAt   int64
	)
	err := sc.Scan(
		&a.ID,
		&a.TargetDeviceID,
		&a.TargetDisplayName,
		&a.ThresholdMeters,
		&direction,
		&state,
		&triggeredAt,
		&a.CooldownSeconds,
		&active,
		&createdAt,
	)
	if err != nil {
		return model.ProximityAlert{}, err
	}

	if a.Direction, err = model.ParseDirection(direction); err != nil {
		return model.ProximityAlert{}, err
	}
	if a.LastState, err = model.ParseProximityState(state); err != nil {
		return model.ProximityAlert{}, err
	}
	a.LastTriggeredAt = fromNullMillis(triggeredAt)
	a.Active = active != 0
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}
