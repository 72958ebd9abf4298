package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hanibalsk/trackd/internal/model"
)

const locationColumns = `id, device_id, latitude, longitude, accuracy, captured_at, provider,
	altitude, bearing, speed, battery_level, network_type`

// AppendLocation writes a captured sample and returns its assigned id.
// The record's ID field is ignored.
func (s *Store) AppendLocation(ctx context.Context, rec model.LocationRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locations
		(device_id, latitude, longitude, accuracy, captured_at, provider,
		 altitude, bearing, speed, battery_level, network_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.DeviceID,
		rec.Latitude,
		rec.Longitude,
		rec.Accuracy,
		toMillis(rec.Timestamp),
		rec.Provider,
		nullFloat(rec.Altitude),
		nullFloat(rec.Bearing),
		nullFloat(rec.Speed),
		nullInt(rec.BatteryLevel),
		rec.NetworkType,
	)
	if err != nil {
		return 0, fmt.Errorf("append location: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append location: %w", err)
	}
	return id, nil
}

// GetLocation returns one record by id.
func (s *Store) GetLocation(ctx context.Context, id int64) (model.LocationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = ?`, id)
	rec, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationRecord{}, fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.LocationRecord{}, fmt.Errorf("get location %d: %w", id, err)
	}
	return rec, nil
}

// GetLocations returns the records for ids ordered by id. Missing ids are
// skipped.
func (s *Store) GetLocations(ctx context.Context, ids []int64) ([]model.LocationRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id IN (`+placeholders+`) ORDER BY id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get locations: %w", err)
	}
	defer rows.Close()

	var out []model.LocationRecord
	for rows.Next() {
		rec, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("get locations: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get locations: %w", err)
	}
	return out, nil
}

// LatestLocation returns the most recently appended record.
func (s *Store) LatestLocation(ctx context.Context) (model.LocationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY id DESC LIMIT 1`)
	rec, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationRecord{}, fmt.Errorf("latest location: %w", ErrNotFound)
	}
	if err != nil {
		return model.LocationRecord{}, fmt.Errorf("latest location: %w", err)
	}
	return rec, nil
}

// CountLocations returns the number of stored samples.
func (s *Store) CountLocations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(sc scanner) (model.LocationRecord, error) {
	var (
		rec        model.LocationRecord
		capturedAt int64
		altitude   sql.NullFloat64
		bearing    sql.NullFloat64
		speed      sql.NullFloat64
		battery    sql.NullInt64
	)
	err := sc.Scan(
		&rec.ID,
		&rec.DeviceID,
		&rec.Latitude,
		&rec.Longitude,
		&rec.Accuracy,
		&capturedAt,
		&rec.Provider,
		&altitude,
		&bearing,
		&speed,
		&battery,
		&rec.NetworkType,
	)
	if err != nil {
		return model.LocationRecord{}, err
	}
	rec.Timestamp = fromMillis(capturedAt)
	rec.Altitude = fromNullFloat(altitude)
	rec.Bearing = fromNullFloat(bearing)
	rec.Speed = fromNullFloat(speed)
	rec.BatteryLevel = fromNullInt(battery)
	return rec, nil
}
