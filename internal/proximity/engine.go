// Package proximity turns location observations into edge-triggered
// proximity notifications.
//
// Each alert remembers whether its target was last seen Near or Far. A
// notification is sent only when that state flips in the alert's
// direction; repeated observations in the same state never re-fire. The
// first observation after an alert is created only establishes the state.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/notify"
)

// AlertStore persists alerts. *store.Store implements it.
type AlertStore interface {
	ListAlerts(ctx context.Context, activeOnly bool) ([]model.ProximityAlert, error)
	SetAlertState(ctx context.Context, id string, state model.ProximityState) error
	MarkAlertTriggered(ctx context.Context, id string, at time.Time) error
}

// Options configures an Engine.
type Options struct {
	Clock     quartz.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Formatter notify.Formatter
}

// Engine evaluates every active alert once per capture cycle.
type Engine struct {
	alerts   AlertStore
	notifier notify.Notifier
	format   notify.Formatter
	clock    quartz.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates an engine.
func NewEngine(alerts AlertStore, notifier notify.Notifier, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		alerts:   alerts,
		notifier: notifier,
		format:   opts.Formatter,
		clock:    opts.Clock,
		log:      opts.Logger.Named("proximity"),
		metrics:  opts.Metrics,
	}
}

// Report summarises one evaluation pass.
type Report struct {
	Evaluated  int
	Skipped    int
	Changed    int
	Suppressed int
	Fired      []notify.Notification
}

// Evaluate checks all active alerts against self and the peers' last-known
// locations. Failures on one alert do not stop the others; they are joined
// into the returned error.
func (e *Engine) Evaluate(ctx context.Context, self model.Point, peers []model.Peer) (Report, error) {
	var rep Report

	alerts, err := e.alerts.ListAlerts(ctx, true)
	if err != nil {
		return rep, fmt.Errorf("evaluate proximity: %w", err)
	}

	byDevice := make(map[string]model.Peer, len(peers))
	for _, p := range peers {
		byDevice[p.DeviceID] = p
	}

	now := e.clock.Now()
	var errs []error
	for _, alert := range alerts {
		peer, found := byDevice[alert.TargetDeviceID]
		if !found {
			rep.Skipped++
			continue
		}
		d, ok := Evaluate(alert, self, peer, now)
		if !ok {
			rep.Skipped++
			continue
		}
		rep.Evaluated++

		if err := e.apply(ctx, alert, peer, d, now, &rep); err != nil {
			errs = append(errs, err)
		}
	}
	return rep, errors.Join(errs...)
}

func (e *Engine) apply(ctx context.Context, alert model.ProximityAlert, peer model.Peer, d Decision, now time.Time, rep *Report) error {
	if !d.Changed {
		return nil
	}
	if err := e.alerts.SetAlertState(ctx, alert.ID, d.To); err != nil {
		return fmt.Errorf("alert %s: persist state: %w", alert.ID, err)
	}
	rep.Changed++

	log := e.log.With(
		zap.String("alert_id", alert.ID),
		zap.String("from", string(d.From)),
		zap.String("to", string(d.To)),
		zap.Float64("distance_m", d.Distance),
	)

	if d.Suppressed {
		rep.Suppressed++
		log.Debug("trigger suppressed by cooldown")
		return nil
	}
	if !d.Fire {
		log.Debug("proximity state changed")
		return nil
	}

	n := e.format.Format(notify.Event{
		AlertID:        alert.ID,
		TargetDeviceID: alert.TargetDeviceID,
		TargetName:     targetName(alert, peer),
		DistanceMeters: d.Distance,
		Entered:        d.To == model.StateNear,
	})
	if err := e.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("alert %s: notify: %w", alert.ID, err)
	}
	if err := e.alerts.MarkAlertTriggered(ctx, alert.ID, now); err != nil {
		return fmt.Errorf("alert %s: record trigger: %w", alert.ID, err)
	}

	rep.Fired = append(rep.Fired, n)
	e.metrics.ObserveTrigger(d.From, d.To)
	log.Info("proximity alert fired")
	return nil
}

func targetName(alert model.ProximityAlert, peer model.Peer) string {
	if alert.TargetDisplayName != "" {
		return alert.TargetDisplayName
	}
	if peer.DisplayName != "" {
		return peer.DisplayName
	}
	return alert.TargetDeviceID
}
