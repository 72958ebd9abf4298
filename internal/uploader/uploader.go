// Package uploader drains the upload queue into the ingestion API.
package uploader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hanibalsk/trackd/internal/ingest"
	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/queue"
	"github.com/hanibalsk/trackd/internal/store"
)

// Client sends one batch of records. *ingest.Client implements it.
type Client interface {
	UploadBatch(ctx context.Context, records []model.LocationRecord) (ingest.BatchResponse, error)
	Reachable(ctx context.Context) bool
}

// Options configures an Uploader.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Limiter spaces consecutive batches. Nil means unlimited.
	Limiter *rate.Limiter

	// MaxBatches bounds one Drain call. Zero means no bound.
	MaxBatches int
}

// Result summarises one Drain call.
type Result struct {
	Skipped  bool `json:"skipped"`
	Batches  int  `json:"batches"`
	Uploaded int  `json:"uploaded"`
	Retrying int  `json:"retrying"`
	Failed   int  `json:"failed"`
}

// Uploader moves due queue items through Uploading to their result status.
// Batches are sent one at a time in queue order.
type Uploader struct {
	queue   *queue.Queue
	store   *store.Store
	client  Client
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.Metrics
	max     int
}

// New creates an uploader.
func New(q *queue.Queue, st *store.Store, client Client, opts Options) *Uploader {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Uploader{
		queue:   q,
		store:   st,
		client:  client,
		limiter: opts.Limiter,
		log:     opts.Logger.Named("uploader"),
		metrics: opts.Metrics,
		max:     opts.MaxBatches,
	}
}

// Drain uploads due items until none are left or a batch fails. Stopping
// after a failed batch keeps later items from overtaking the ones that are
// now waiting for their retry time.
//
// Cancelling ctx stops Drain from starting a new batch. A batch already
// marked Uploading is always carried to its result transition.
func (u *Uploader) Drain(ctx context.Context) (Result, error) {
	var res Result

	if !u.client.Reachable(ctx) {
		u.log.Debug("ingest endpoint unreachable, skipping drain")
		res.Skipped = true
		return res, nil
	}

	for u.max == 0 || res.Batches < u.max {
		if err := ctx.Err(); err != nil {
			return res, nil
		}

		items, err := u.queue.DueItems(ctx, u.queue.Now(), u.queue.BatchSize())
		if err != nil {
			return res, fmt.Errorf("drain: %w", err)
		}
		if len(items) == 0 {
			break
		}

		if u.limiter != nil {
			if err := u.limiter.Wait(ctx); err != nil {
				return res, nil
			}
		}

		ok, err := u.uploadBatch(context.WithoutCancel(ctx), items, &res)
		if err != nil {
			return res, fmt.Errorf("drain: %w", err)
		}
		if !ok {
			break
		}
	}

	u.refreshStats(ctx)
	return res, nil
}

func (u *Uploader) uploadBatch(ctx context.Context, items []model.QueueItem, res *Result) (bool, error) {
	claimed, err := u.queue.MarkUploading(ctx, items)
	if err != nil {
		return false, err
	}
	res.Batches++

	records, err := u.records(ctx, claimed)
	if err != nil {
		// Release the claim so the batch is due again after its backoff.
		if _, failErr := u.queue.Fail(ctx, claimed, err); failErr != nil {
			return false, errors.Join(err, failErr)
		}
		res.Retrying += len(claimed)
		return false, err
	}

	_, uploadErr := u.client.UploadBatch(ctx, records)
	if uploadErr == nil {
		if _, err := u.queue.MarkUploaded(ctx, claimed); err != nil {
			return false, err
		}
		res.Uploaded += len(claimed)
		u.metrics.ObserveBatch(true, len(claimed))
		u.log.Info("batch uploaded", zap.Int("records", len(claimed)))
		return true, nil
	}

	u.metrics.ObserveBatch(false, len(claimed))
	failed, err := u.queue.Fail(ctx, claimed, uploadErr)
	if err != nil {
		return false, err
	}
	for _, it := range failed {
		if it.Status == model.StatusFailed {
			res.Failed++
		} else {
			res.Retrying++
		}
	}
	u.log.Warn("batch upload failed",
		zap.Int("records", len(claimed)),
		zap.Int("status_code", ingest.StatusCode(uploadErr)),
		zap.Error(uploadErr),
	)
	return false, nil
}

// records loads the location rows for items, in item order.
func (u *Uploader) records(ctx context.Context, items []model.QueueItem) ([]model.LocationRecord, error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.LocationID
	}
	recs, err := u.store.GetLocations(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.LocationRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]model.LocationRecord, 0, len(items))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("location %d: %w", id, store.ErrNotFound)
		}
		out = append(out, r)
	}
	return out, nil
}

func (u *Uploader) refreshStats(ctx context.Context) {
	if u.metrics == nil {
		return
	}
	stats, err := u.queue.Stats(ctx)
	if err != nil {
		u.log.Debug("queue stats unavailable", zap.Error(err))
		return
	}
	u.metrics.SetQueueStats(stats)
}
