// Package service runs the capture and upload worker and exposes the
// start, stop and set-interval control operations.
//
// At most one worker runs at a time. Control calls return once the
// request has been handed to the worker; they never wait for a capture.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/health"
	"github.com/hanibalsk/trackd/internal/location"
	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/peers"
	"github.com/hanibalsk/trackd/internal/proximity"
	"github.com/hanibalsk/trackd/internal/uploader"
)

const (
	// DefaultInterval is the capture cadence when none is configured.
	DefaultInterval = 5 * time.Minute

	// MaxFailureBackoff caps the delay after consecutive capture failures.
	MaxFailureBackoff = 30 * time.Minute

	// DefaultErrorThreshold is the number of consecutive capture failures
	// after which health reports ERROR.
	DefaultErrorThreshold = 5

	// MaxIntervalMinutes bounds UpdateInterval.
	MaxIntervalMinutes = 24 * 60
)

// LocationLog appends captured samples. *store.Store implements it.
type LocationLog interface {
	AppendLocation(ctx context.Context, rec model.LocationRecord) (int64, error)
}

// UploadQueue is the part of the queue the worker drives. *queue.Queue
// implements it.
type UploadQueue interface {
	Enqueue(ctx context.Context, locationID int64) error
	RecoverInterrupted(ctx context.Context, grace time.Duration) (int, error)
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// Drainer uploads due queue items. *uploader.Uploader implements it.
type Drainer interface {
	Drain(ctx context.Context) (uploader.Result, error)
}

// Evaluator runs proximity alerts. *proximity.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, self model.Point, peers []model.Peer) (proximity.Report, error)
}

// Deps are the collaborators of the worker. Proximity, Peers and Uploader
// are optional.
type Deps struct {
	Provider  location.Provider
	Locations LocationLog
	Queue     UploadQueue
	Uploader  Drainer
	Proximity Evaluator
	Peers     peers.Feed
	Health    *health.Writer
}

// Options configures a Controller.
type Options struct {
	Clock   quartz.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Interval is the initial capture cadence.
	Interval time.Duration

	// ErrorThreshold is the consecutive-failure count that flips health
	// to ERROR.
	ErrorThreshold int

	// InterruptGrace and Retention are passed to the queue housekeeping
	// run at every start. Zero skips the step.
	InterruptGrace time.Duration
	Retention      time.Duration
}

// Controller owns the tracking worker.
type Controller struct {
	deps    Deps
	clock   quartz.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	mu       sync.Mutex
	interval time.Duration
	run      *run
}

// run is one worker instance.
type run struct {
	cancel    context.CancelFunc
	done      chan struct{}
	intervals chan time.Duration
}

// New creates a stopped controller.
func New(deps Deps, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = DefaultErrorThreshold
	}
	return &Controller{
		deps:     deps,
		clock:    opts.Clock,
		log:      opts.Logger.Named("service"),
		metrics:  opts.Metrics,
		opts:     opts,
		interval: opts.Interval,
	}
}

// Running reports whether the worker is active in this process.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Interval returns the configured capture cadence.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// StartTracking starts the worker. It fails with a permission ControlError
// when the location capability is unavailable and reports
// OutcomeAlreadyInState when the worker is already running.
func (c *Controller) StartTracking(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return OutcomeAlreadyInState, nil
	}

	if err := c.deps.Provider.Check(ctx); err != nil {
		if location.IsCapabilityError(err) {
			return "", &ControlError{Code: ErrCodePermission, Message: "location capability unavailable", Err: err}
		}
		return "", &ControlError{Code: ErrCodePlatform, Message: "location provider check failed", Err: err}
	}

	interval := c.interval
	c.setHealth(ctx, func(h *model.ServiceHealth) {
		h.IsRunning = true
		h.Status = model.HealthAcquiring
		h.ErrorMessage = ""
		h.Interval = interval
	})

	// The worker outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		cancel:    cancel,
		done:      make(chan struct{}),
		intervals: make(chan time.Duration, 1),
	}
	c.run = r
	go c.loop(runCtx, r, interval)

	c.log.Info("tracking started", zap.Duration("interval", interval))
	return OutcomeApplied, nil
}

// StopTracking cancels the worker and waits for it to exit. It succeeds
// when nothing is running.
func (c *Controller) StopTracking(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := OutcomeAlreadyInState
	if c.run != nil {
		if err := c.halt(ctx); err != nil {
			return "", err
		}
		outcome = OutcomeApplied
		c.log.Info("tracking stopped")
	}

	if c.deps.Health.Cell().Get().IsRunning {
		c.setHealth(ctx, func(h *model.ServiceHealth) {
			h.IsRunning = false
			h.ErrorMessage = ""
		})
		outcome = OutcomeApplied
	}
	return outcome, nil
}

// UpdateInterval changes the capture cadence. A running worker picks up
// the new value without restarting; a stopped one uses it on next start.
func (c *Controller) UpdateInterval(ctx context.Context, minutes int) (Outcome, error) {
	if minutes < 1 || minutes > MaxIntervalMinutes {
		return "", &ControlError{
			Code:    ErrCodePlatform,
			Message: fmt.Sprintf("interval must be between 1 and %d minutes, got %d", MaxIntervalMinutes, minutes),
		}
	}
	d := time.Duration(minutes) * time.Minute

	c.mu.Lock()
	defer c.mu.Unlock()

	if d == c.interval {
		return OutcomeAlreadyInState, nil
	}
	c.interval = d
	if c.run != nil {
		// Only the latest value matters.
		select {
		case <-c.run.intervals:
		default:
		}
		c.run.intervals <- d
	}
	c.setHealth(ctx, func(h *model.ServiceHealth) { h.Interval = d })

	c.log.Info("capture interval updated", zap.Duration("interval", d))
	return OutcomeApplied, nil
}

// Resume starts the worker when the persisted health says it was running
// before the process exited.
func (c *Controller) Resume(ctx context.Context) (Outcome, error) {
	h := c.deps.Health.Cell().Get()
	if !h.IsRunning {
		return OutcomeAlreadyInState, nil
	}
	if h.Interval > 0 {
		c.mu.Lock()
		c.interval = h.Interval
		c.mu.Unlock()
	}
	c.log.Info("resuming tracking")
	return c.StartTracking(ctx)
}

// Shutdown stops the worker without recording a user stop, so Resume
// picks it up again on the next process start.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.halt(ctx)
}

// halt cancels the current run and waits for it. c.mu must be held.
func (c *Controller) halt(ctx context.Context) error {
	r := c.run
	r.cancel()
	select {
	case <-r.done:
		c.run = nil
		return nil
	case <-ctx.Done():
		return &ControlError{Code: ErrCodePlatform, Message: "timed out waiting for worker to stop", Err: ctx.Err()}
	}
}

func (c *Controller) setHealth(ctx context.Context, fn func(h *model.ServiceHealth)) model.ServiceHealth {
	h, err := c.deps.Health.Update(ctx, fn)
	if err != nil {
		c.log.Warn("health update not persisted", zap.Error(err))
	}
	c.metrics.SetHealth(h)
	return h
}
