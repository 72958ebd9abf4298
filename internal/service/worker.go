package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/location"
	"github.com/hanibalsk/trackd/internal/model"
)

// worker is the state private to one run of the capture loop.
type worker struct {
	c        *Controller
	log      *zap.Logger
	interval time.Duration
	failures int
	backoff  *backoff.ExponentialBackOff

	// unqueued holds stored samples whose enqueue failed.
	unqueued []int64
}

func (c *Controller) loop(ctx context.Context, r *run, interval time.Duration) {
	defer close(r.done)

	w := &worker{c: c, log: c.log}
	w.setInterval(interval)
	w.housekeeping(ctx)

	timer := c.clock.NewTimer(w.cycle(ctx), "service", "capture")
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.intervals:
			w.setInterval(d)
			// A failing worker keeps its backoff schedule.
			if w.failures == 0 {
				timer.Reset(d, "service", "interval")
			}
		case <-timer.C:
			timer.Reset(w.cycle(ctx), "service", "capture")
		}
	}
}

func (w *worker) setInterval(d time.Duration) {
	w.interval = d
	w.backoff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(max(MaxFailureBackoff, d)),
		backoff.WithMaxElapsedTime(0),
	)
	for range w.failures - 1 {
		w.backoff.NextBackOff()
	}
}

func (w *worker) housekeeping(ctx context.Context) {
	q := w.c.deps.Queue
	if grace := w.c.opts.InterruptGrace; grace > 0 {
		if _, err := q.RecoverInterrupted(ctx, grace); err != nil {
			w.log.Warn("recover interrupted uploads", zap.Error(err))
		}
	}
	if retention := w.c.opts.Retention; retention > 0 {
		n, err := q.Purge(ctx, retention)
		if err != nil {
			w.log.Warn("purge uploaded items", zap.Error(err))
		} else if n > 0 {
			w.log.Info("purged uploaded items", zap.Int64("count", n))
		}
	}
}

// cycle runs one capture, evaluate and upload pass and returns the delay
// until the next one.
func (w *worker) cycle(ctx context.Context) time.Duration {
	rec, err := w.capture(ctx)
	if ctx.Err() != nil {
		return w.interval
	}
	if err != nil {
		w.failed(ctx, err)
	} else {
		w.captured(ctx)
		w.evaluate(ctx, rec.Point())
	}
	w.drain(ctx)

	if w.failures == 0 {
		return w.interval
	}
	return w.backoff.NextBackOff()
}

func (w *worker) capture(ctx context.Context) (model.LocationRecord, error) {
	rec, err := w.c.deps.Provider.Capture(ctx)
	if err != nil {
		return rec, err
	}
	id, err := w.c.deps.Locations.AppendLocation(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("store location: %w", err)
	}
	rec.ID = id

	w.unqueued = append(w.unqueued, id)
	w.enqueue(ctx)
	return rec, nil
}

// enqueue queues every stored sample still waiting, keeping the ones that
// fail for the next cycle.
func (w *worker) enqueue(ctx context.Context) {
	remaining := w.unqueued[:0]
	for _, id := range w.unqueued {
		if err := w.c.deps.Queue.Enqueue(ctx, id); err != nil {
			w.log.Warn("enqueue location", zap.Int64("location_id", id), zap.Error(err))
			remaining = append(remaining, id)
		}
	}
	w.unqueued = remaining
}

func (w *worker) captured(ctx context.Context) {
	if w.failures > 0 {
		w.log.Info("capture recovered", zap.Int("after_failures", w.failures))
	}
	w.failures = 0
	w.backoff.Reset()
	w.c.metrics.ObserveCapture("ok")

	now := w.c.clock.Now()
	w.c.setHealth(ctx, func(h *model.ServiceHealth) {
		h.LastCaptureAt = now
		h.LocationCount++
		h.Status = model.HealthHealthy
		h.ErrorMessage = ""
	})
}

func (w *worker) failed(ctx context.Context, err error) {
	w.failures++

	status, result := model.HealthAcquiring, "error"
	switch {
	case errors.Is(err, location.ErrNoFix):
		status, result = model.HealthNoSignal, "no_fix"
	case location.IsCapabilityError(err):
		status, result = model.HealthError, "denied"
	}
	if w.failures >= w.c.opts.ErrorThreshold {
		status = model.HealthError
	}
	w.c.metrics.ObserveCapture(result)

	w.log.Warn("capture failed",
		zap.Int("consecutive_failures", w.failures),
		zap.String("health", string(status)),
		zap.Error(err),
	)
	w.c.setHealth(ctx, func(h *model.ServiceHealth) {
		h.Status = status
		h.ErrorMessage = err.Error()
	})
}

func (w *worker) evaluate(ctx context.Context, self model.Point) {
	engine := w.c.deps.Proximity
	if engine == nil {
		return
	}
	var ps []model.Peer
	if feed := w.c.deps.Peers; feed != nil {
		var err error
		if ps, err = feed.Peers(ctx); err != nil {
			w.log.Warn("load peers", zap.Error(err))
			return
		}
	}
	if _, err := engine.Evaluate(ctx, self, ps); err != nil {
		w.log.Warn("proximity evaluation", zap.Error(err))
	}
}

func (w *worker) drain(ctx context.Context) {
	up := w.c.deps.Uploader
	if up == nil {
		return
	}
	res, err := up.Drain(ctx)
	if err != nil {
		w.log.Warn("upload drain", zap.Error(err))
		return
	}
	if res.Uploaded > 0 || res.Retrying > 0 || res.Failed > 0 {
		w.log.Debug("upload drain",
			zap.Int("uploaded", res.Uploaded),
			zap.Int("retrying", res.Retrying),
			zap.Int("failed", res.Failed),
		)
	}
}
