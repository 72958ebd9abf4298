// Package metrics exposes Prometheus collectors for the tracking pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanibalsk/trackd/internal/model"
)

const namespace = "trackd"

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	UploadBatches    *prometheus.CounterVec
	UploadedRecords  prometheus.Counter
	Captures         *prometheus.CounterVec
	WatchdogChecks   *prometheus.CounterVec
	AlertTriggers    *prometheus.CounterVec
	QueueItems       *prometheus.GaugeVec
	TrackingRunning  prometheus.Gauge
	CaptureIntervalS prometheus.Gauge
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		UploadBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "batches_total",
			Help:      "Upload batches by result.",
		}, []string{"result"}),
		UploadedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "records_total",
			Help:      "Location records accepted by the ingestion API.",
		}),
		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "attempts_total",
			Help:      "Location capture attempts by result.",
		}, []string{"result"}),
		WatchdogChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "checks_total",
			Help:      "Watchdog ticks by outcome.",
		}, []string{"outcome"}),
		AlertTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proximity",
			Name:      "triggers_total",
			Help:      "Proximity alert notifications by transition.",
		}, []string{"transition"}),
		QueueItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Upload queue rows by status.",
		}, []string{"status"}),
		TrackingRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "running",
			Help:      "1 while the tracking worker runs.",
		}),
		CaptureIntervalS: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "interval_seconds",
			Help:      "Configured capture interval.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveBatch counts one upload batch of n records.
func (m *Metrics) ObserveBatch(ok bool, n int) {
	if m == nil {
		return
	}
	if ok {
		m.UploadBatches.WithLabelValues("success").Inc()
		m.UploadedRecords.Add(float64(n))
		return
	}
	m.UploadBatches.WithLabelValues("failure").Inc()
}

// ObserveCapture counts one capture attempt.
func (m *Metrics) ObserveCapture(result string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(result).Inc()
}

// ObserveWatchdog counts one watchdog tick.
func (m *Metrics) ObserveWatchdog(outcome string) {
	if m == nil {
		return
	}
	m.WatchdogChecks.WithLabelValues(outcome).Inc()
}

// ObserveTrigger counts one fired alert.
func (m *Metrics) ObserveTrigger(from, to model.ProximityState) {
	if m == nil {
		return
	}
	m.AlertTriggers.WithLabelValues(string(from) + "_to_" + string(to)).Inc()
}

// SetQueueStats publishes per-status queue counts.
func (m *Metrics) SetQueueStats(s model.QueueStats) {
	if m == nil {
		return
	}
	for _, st := range model.AllStatuses {
		m.QueueItems.WithLabelValues(string(st)).Set(float64(s.Count(st)))
	}
}

// SetHealth publishes the worker state.
func (m *Metrics) SetHealth(h model.ServiceHealth) {
	if m == nil {
		return
	}
	if h.IsRunning {
		m.TrackingRunning.Set(1)
	} else {
		m.TrackingRunning.Set(0)
	}
	m.CaptureIntervalS.Set(h.Interval.Seconds())
}
