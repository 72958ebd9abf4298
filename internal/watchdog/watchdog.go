// Package watchdog restarts a tracking worker that claims to be running
// but has stopped capturing.
package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/service"
	"github.com/hanibalsk/trackd/internal/store"
)

const (
	DefaultPeriod    = 15 * time.Minute
	DefaultThreshold = 30 * time.Minute
)

// HealthSource reads the durable health record.
type HealthSource interface {
	Health(ctx context.Context) (model.ServiceHealth, error)
}

// HealthFunc adapts a function to HealthSource.
type HealthFunc func(ctx context.Context) (model.ServiceHealth, error)

// Health calls f.
func (f HealthFunc) Health(ctx context.Context) (model.ServiceHealth, error) { return f(ctx) }

// Controller is the control surface the watchdog drives.
// *service.Controller implements it.
type Controller interface {
	StartTracking(ctx context.Context) (service.Outcome, error)
	StopTracking(ctx context.Context) (service.Outcome, error)
}

// Outcome is the result of one check.
type Outcome string

const (
	OutcomeIdle          Outcome = "idle"
	OutcomeFresh         Outcome = "fresh"
	OutcomeRestarted     Outcome = "restarted"
	OutcomeRestartFailed Outcome = "restart_failed"
	OutcomeNoHealth      Outcome = "health_unavailable"
)

// Options configures a Watchdog.
type Options struct {
	Clock     quartz.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Period    time.Duration
	Threshold time.Duration
}

// Watchdog checks health on a fixed period. At most one schedule exists at
// a time and checks never overlap.
type Watchdog struct {
	health    HealthSource
	ctrl      Controller
	clock     quartz.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
	period    time.Duration
	threshold time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	waiter quartz.Waiter
}

// New creates an unscheduled watchdog.
func New(health HealthSource, ctrl Controller, opts Options) *Watchdog {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Watchdog{
		health:    health,
		ctrl:      ctrl,
		clock:     opts.Clock,
		log:       opts.Logger.Named("watchdog"),
		metrics:   opts.Metrics,
		period:    opts.Period,
		threshold: opts.Threshold,
	}
}

// Schedule starts periodic checks. If a schedule already exists it is
// kept and Schedule returns false.
func (w *Watchdog) Schedule(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.waiter = w.clock.TickerFunc(ctx, w.period, func() error {
		w.Check(ctx)
		return nil
	}, "watchdog")

	w.log.Info("watchdog scheduled",
		zap.Duration("period", w.period),
		zap.Duration("threshold", w.threshold),
	)
	return true
}

// Scheduled reports whether a schedule exists.
func (w *Watchdog) Scheduled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Cancel removes the schedule and waits for a running check to finish.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	_ = w.waiter.Wait()
	w.cancel, w.waiter = nil, nil
	w.log.Info("watchdog cancelled")
}

// Check runs one watchdog pass. Failures are logged and reported through
// the outcome; they are never returned.
func (w *Watchdog) Check(ctx context.Context) Outcome {
	outcome := w.check(ctx)
	w.metrics.ObserveWatchdog(string(outcome))
	return outcome
}

func (w *Watchdog) check(ctx context.Context) Outcome {
	h, err := w.health.Health(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return OutcomeIdle
	case err != nil:
		w.log.Warn("read health", zap.Error(err))
		return OutcomeNoHealth
	}
	if !h.IsRunning {
		return OutcomeIdle
	}

	age := h.SinceLastCapture(w.clock.Now())
	if age <= w.threshold {
		return OutcomeFresh
	}

	log := w.log.With(zap.Duration("threshold", w.threshold))
	if h.LastCaptureAt.IsZero() {
		log = log.With(zap.String("last_capture", "never"))
	} else {
		log = log.With(zap.Time("last_capture", h.LastCaptureAt), zap.Duration("age", age))
	}
	log.Warn("capture pipeline stale, restarting")

	if _, err := w.ctrl.StopTracking(ctx); err != nil {
		log.Error("watchdog stop failed", zap.Error(err))
		return OutcomeRestartFailed
	}
	if _, err := w.ctrl.StartTracking(ctx); err != nil {
		log.Error("watchdog start failed", zap.Error(err))
		return OutcomeRestartFailed
	}
	log.Info("capture pipeline restarted")
	return OutcomeRestarted
}
