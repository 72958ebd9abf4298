package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hanibalsk/trackd/internal/model"
)

const queueColumns = `location_id, status, retry_count, last_attempt_at, next_retry_at, error_message, queued_at`

// UpsertQueueItem writes the ledger row for a location. A location has at
// most one row: re-queuing replaces the existing row's status, retry state
// and queued_at with the values of item.
func (s *Store) UpsertQueueItem(ctx context.Context, item model.QueueItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("upsert queue item: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_queue
		(location_id, status, retry_count, last_attempt_at, next_retry_at, error_message, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			last_attempt_at = excluded.last_attempt_at,
			next_retry_at = excluded.next_retry_at,
			error_message = excluded.error_message,
			queued_at = excluded.queued_at
	`,
		item.LocationID,
		string(item.Status),
		item.RetryCount,
		nullMillis(item.LastAttemptAt),
		nullMillis(item.NextRetryAt),
		item.ErrorMessage,
		toMillis(item.QueuedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert queue item %d: %w", item.LocationID, err)
	}
	return nil
}

// DueQueueItems returns up to limit items that may be attempted at now,
// oldest queued first.
func (s *Store) DueQueueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM location_queue
		WHERE status IN ('PENDING', 'RETRY_PENDING')
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY queued_at ASC, location_id ASC
		LIMIT ?
	`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("due queue items: %w", err)
	}
	return collectQueueItems(rows)
}

// StaleUploadingItems returns items left in UPLOADING whose last attempt
// started before cutoff.
func (s *Store) StaleUploadingItems(ctx context.Context, cutoff time.Time) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM location_queue
		WHERE status = 'UPLOADING' AND last_attempt_at < ?
		ORDER BY queued_at ASC, location_id ASC
	`, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("stale uploading items: %w", err)
	}
	return collectQueueItems(rows)
}

// QueueItemsByStatus lists items in one status, oldest queued first.
func (s *Store) QueueItemsByStatus(ctx context.Context, status model.QueueStatus, limit int) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM location_queue
		WHERE status = ?
		ORDER BY queued_at ASC, location_id ASC
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("queue items by status: %w", err)
	}
	return collectQueueItems(rows)
}

// GetQueueItem returns the ledger row for a location.
func (s *Store) GetQueueItem(ctx context.Context, locationID int64) (model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM location_queue WHERE location_id = ?`, locationID)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueueItem{}, fmt.Errorf("queue item %d: %w", locationID, ErrNotFound)
	}
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("get queue item %d: %w", locationID, err)
	}
	return item, nil
}

// Transition is a computed queue row update guarded by the status the row
// had when the update was computed.
type Transition struct {
	From model.QueueStatus
	Item model.QueueItem
}

// ApplyTransitions writes all transitions in one transaction. If any row is
// no longer in its From status nothing is written and the error wraps
// ErrStatusConflict.
func (s *Store) ApplyTransitions(ctx context.Context, ts []Transition) (err error) {
	if len(ts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply transitions: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, t := range ts {
		if err = t.Item.Validate(); err != nil {
			return fmt.Errorf("apply transitions: %w", err)
		}

		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE location_queue
			SET status = ?, retry_count = ?, last_attempt_at = ?, next_retry_at = ?, error_message = ?
			WHERE location_id = ? AND status = ?
		`,
			string(t.Item.Status),
			t.Item.RetryCount,
			nullMillis(t.Item.LastAttemptAt),
			nullMillis(t.Item.NextRetryAt),
			t.Item.ErrorMessage,
			t.Item.LocationID,
			string(t.From),
		)
		if err != nil {
			return fmt.Errorf("apply transition %d: %w", t.Item.LocationID, err)
		}

		var n int64
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("apply transition %d: %w", t.Item.LocationID, err)
		}
		if n == 0 {
			err = fmt.Errorf("location %d expected %s: %w", t.Item.LocationID, t.From, ErrStatusConflict)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("apply transitions: %w", err)
	}
	return nil
}

// ResetFailedQueueItems moves every FAILED row to RETRY_PENDING, due at now,
// with its retry count cleared. Returns the number of rows reset.
func (s *Store) ResetFailedQueueItems(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE location_queue
		SET status = 'RETRY_PENDING', retry_count = 0, next_retry_at = ?, error_message = ''
		WHERE status = 'FAILED'
	`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("reset failed queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed queue items: %w", err)
	}
	return n, nil
}

// DeleteUploadedBefore removes UPLOADED rows whose last attempt is older
// than cutoff. The location records themselves are kept.
func (s *Store) DeleteUploadedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM location_queue
		WHERE status = 'UPLOADED' AND last_attempt_at < ?
	`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete uploaded queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete uploaded queue items: %w", err)
	}
	return n, nil
}

// QueueStats counts rows per status.
func (s *Store) QueueStats(ctx context.Context) (model.QueueStats, error) {
	var st model.QueueStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'PENDING' THEN 1 END),
			COUNT(CASE WHEN status = 'UPLOADING' THEN 1 END),
			COUNT(CASE WHEN status = 'UPLOADED' THEN 1 END),
			COUNT(CASE WHEN status = 'RETRY_PENDING' THEN 1 END),
			COUNT(CASE WHEN status = 'FAILED' THEN 1 END)
		FROM location_queue
	`).Scan(&st.Pending, &st.Uploading, &st.Uploaded, &st.RetryPending, &st.Failed)
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func collectQueueItems(rows *sql.Rows) ([]model.QueueItem, error) {
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

func scanQueueItem(sc scanner) (model.QueueItem, error) {
	var (
		item        model.QueueItem
		status      string
		lastAttempt sql.NullInt64
		nextRetry   sql.NullInt64
		queuedAt    int64
	)
	if err := sc.Scan(&item.LocationID, &status, &item.RetryCount, &lastAttempt, &nextRetry, &item.ErrorMessage, &queuedAt); err != nil {
		return model.QueueItem{}, err
	}

	st, err := model.ParseQueueStatus(status)
	if err != nil {
		return model.QueueItem{}, err
	}
	item.Status = st
	item.LastAttemptAt = fromNullMillis(lastAttempt)
	item.NextRetryAt = fromNullMillis(nextRetry)
	item.QueuedAt = fromMillis(queuedAt)
	return item, nil
}
