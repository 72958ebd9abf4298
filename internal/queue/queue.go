// Package queue implements the durable upload ledger: selection of due
// location records and the state transitions applied around each upload
// attempt.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/store"
)

const (
	DefaultBatchSize      = 50
	DefaultMaxRetries     = 5
	DefaultInterruptGrace = 5 * time.Minute
	DefaultRetention      = 7 * 24 * time.Hour

	// maxErrorMessage bounds the stored error text.
	maxErrorMessage = 512
)

var errInterrupted = errors.New("upload interrupted")

// Options configures a Queue. Zero values select the defaults.
type Options struct {
	Clock      quartz.Clock
	Logger     *zap.Logger
	Backoff    Backoff
	MaxRetries int
	BatchSize  int
}

// Queue is the upload ledger over the store's location_queue table.
// Every method is a single statement or a single transaction, so a Queue
// may be shared by the uploader, the control API and the CLI.
type Queue struct {
	store     *store.Store
	clock     quartz.Clock
	log       *zap.Logger
	policy    policy
	batchSize int
}

// New creates a queue over st.
func New(st *store.Store, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Backoff.Base <= 0 || opts.Backoff.Cap <= 0 {
		r := opts.Backoff.Rand
		opts.Backoff = DefaultBackoff()
		opts.Backoff.Rand = r
	}
	if opts.Backoff.Factor < 1 {
		opts.Backoff.Factor = 2
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Queue{
		store:     st,
		clock:     opts.Clock,
		log:       opts.Logger.Named("queue"),
		policy:    policy{backoff: opts.Backoff, maxRetries: opts.MaxRetries},
		batchSize: opts.BatchSize,
	}
}

// BatchSize is the default limit for DueItems.
func (q *Queue) BatchSize() int { return q.batchSize }

// Now is the queue clock's current time.
func (q *Queue) Now() time.Time { return q.clock.Now() }

// MaxRetries is the failure count at which items become Failed.
func (q *Queue) MaxRetries() int { return q.policy.maxRetries }

// Enqueue writes a Pending row for the location, queued now. Enqueuing a
// location that already has a row replaces it with a fresh Pending row.
func (q *Queue) Enqueue(ctx context.Context, locationID int64) error {
	if err := q.store.UpsertQueueItem(ctx, model.NewQueueItem(locationID, q.clock.Now())); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	q.log.Debug("location queued", zap.Int64("location_id", locationID))
	return nil
}

// DueItems returns at most limit items eligible for upload at now, oldest
// queued first. A non-positive limit uses the batch size.
func (q *Queue) DueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		limit = q.batchSize
	}
	return q.store.DueQueueItems(ctx, now, limit)
}

// MarkUploading moves items to Uploading in one transaction and returns
// their new values. It must be called before the network request.
func (q *Queue) MarkUploading(ctx context.Context, items []model.QueueItem) ([]model.QueueItem, error) {
	now := q.clock.Now()
	return q.apply(ctx, "mark uploading", items, func(it model.QueueItem) (model.QueueItem, error) {
		return it.BeginUpload(now)
	})
}

// MarkUploaded moves uploading items to Uploaded.
func (q *Queue) MarkUploaded(ctx context.Context, items []model.QueueItem) ([]model.QueueItem, error) {
	return q.apply(ctx, "mark uploaded", items, func(it model.QueueItem) (model.QueueItem, error) {
		return it.Succeed()
	})
}

// Fail applies the failure rule to every item: RetryPending with backoff
// while the retry count stays below the limit, Failed once it reaches it.
func (q *Queue) Fail(ctx context.Context, items []model.QueueItem, cause error) ([]model.QueueItem, error) {
	now := q.clock.Now()
	msg := errorMessage(cause)
	out, err := q.apply(ctx, "mark failure", items, func(it model.QueueItem) (model.QueueItem, error) {
		return it.Fail(now, msg, q.policy)
	})
	if err != nil {
		return nil, err
	}
	for _, it := range out {
		if it.Status == model.StatusFailed {
			q.log.Warn("upload gave up",
				zap.Int64("location_id", it.LocationID),
				zap.Int("retry_count", it.RetryCount),
				zap.String("error", it.ErrorMessage),
			)
		}
	}
	return out, nil
}

// MarkRetry moves an uploading item to RetryPending regardless of its
// retry count.
func (q *Queue) MarkRetry(ctx context.Context, item model.QueueItem, cause error) (model.QueueItem, error) {
	now := q.clock.Now()
	out, err := q.apply(ctx, "mark retry", []model.QueueItem{item}, func(it model.QueueItem) (model.QueueItem, error) {
		return it.Retry(now, errorMessage(cause), q.policy.Delay(it.RetryCount+1))
	})
	if err != nil {
		return item, err
	}
	return out[0], nil
}

// MarkFailed moves an uploading item to Failed.
func (q *Queue) MarkFailed(ctx context.Context, item model.QueueItem, cause error) (model.QueueItem, error) {
	out, err := q.apply(ctx, "mark failed", []model.QueueItem{item}, func(it model.QueueItem) (model.QueueItem, error) {
		return it.GiveUp(errorMessage(cause))
	})
	if err != nil {
		return item, err
	}
	return out[0], nil
}

// Stats counts items per status.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	return q.store.QueueStats(ctx)
}

// ResetFailed returns every Failed item to RetryPending, due now, with its
// retry count cleared.
func (q *Queue) ResetFailed(ctx context.Context) (int64, error) {
	n, err := q.store.ResetFailedQueueItems(ctx, q.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Info("reset failed uploads", zap.Int64("count", n))
	}
	return n, nil
}

// RecoverInterrupted treats items stuck in Uploading for longer than grace
// as failed attempts. Such rows are left behind when the process dies
// between MarkUploading and the result transition.
func (q *Queue) RecoverInterrupted(ctx context.Context, grace time.Duration) (int, error) {
	if grace <= 0 {
		grace = DefaultInterruptGrace
	}
	stale, err := q.store.StaleUploadingItems(ctx, q.clock.Now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("recover interrupted: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if _, err := q.Fail(ctx, stale, errInterrupted); err != nil {
		return 0, fmt.Errorf("recover interrupted: %w", err)
	}
	q.log.Info("recovered interrupted uploads", zap.Int("count", len(stale)))
	return len(stale), nil
}

// PurgeUploadedBefore deletes Uploaded rows last attempted before cutoff.
func (q *Queue) PurgeUploadedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.store.DeleteUploadedBefore(ctx, cutoff)
}

// Purge deletes Uploaded rows older than retention.
func (q *Queue) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return q.PurgeUploadedBefore(ctx, q.clock.Now().Add(-retention))
}

func (q *Queue) apply(ctx context.Context, op string, items []model.QueueItem, step func(model.QueueItem) (model.QueueItem, error)) ([]model.QueueItem, error) {
	ts := make([]store.Transition, 0, len(items))
	out := make([]model.QueueItem, 0, len(items))
	for _, it := range items {
		next, err := step(it)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ts = append(ts, store.Transition{From: it.Status, Item: next})
		out = append(out, next)
	}
	if err := q.store.ApplyTransitions(ctx, ts); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}
