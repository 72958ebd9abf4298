// Package agent assembles the tracking daemon from its configuration and
// runs its long-lived parts until the context is cancelled.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/hanibalsk/trackd/internal/broker"
	"github.com/hanibalsk/trackd/internal/config"
	"github.com/hanibalsk/trackd/internal/controlapi"
	"github.com/hanibalsk/trackd/internal/health"
	"github.com/hanibalsk/trackd/internal/ingest"
	"github.com/hanibalsk/trackd/internal/location"
	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/notify"
	"github.com/hanibalsk/trackd/internal/peers"
	"github.com/hanibalsk/trackd/internal/proximity"
	"github.com/hanibalsk/trackd/internal/queue"
	"github.com/hanibalsk/trackd/internal/service"
	"github.com/hanibalsk/trackd/internal/store"
	"github.com/hanibalsk/trackd/internal/uploader"
	"github.com/hanibalsk/trackd/internal/watchdog"
)

const shutdownTimeout = 10 * time.Second

// Options overrides parts of the assembly. Zero values build everything
// from the configuration.
type Options struct {
	// ConfigPath is watched for interval changes. Empty disables reload.
	ConfigPath string

	Clock  quartz.Clock
	Logger *zap.Logger

	// Provider replaces the configured location source.
	Provider location.Provider

	// Client replaces the ingestion client.
	Client uploader.Client

	// Listener replaces the control API listener.
	Listener net.Listener
}

// Agent is an assembled daemon.
type Agent struct {
	cfg        config.Config
	configPath string
	clock      quartz.Clock
	log        *zap.Logger

	store    *store.Store
	metrics  *metrics.Metrics
	queue    *queue.Queue
	health   *health.Cell
	ctrl     *service.Controller
	watchdog *watchdog.Watchdog
	broker   *broker.Client
	feed     *peers.MQTTFeed
	api      *http.Server
	listener net.Listener
}

// New opens the store and builds every component. Nothing runs until Run.
func New(cfg config.Config, opts Options) (*Agent, error) {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &Agent{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		clock:      opts.Clock,
		log:        log.Named("agent"),
		store:      st,
		metrics:    metrics.New(),
		listener:   opts.Listener,
	}

	a.queue = queue.New(st, queue.Options{
		Clock:  a.clock,
		Logger: log,
		Backoff: queue.Backoff{
			Base:   cfg.Upload.BackoffBase.D(),
			Factor: cfg.Upload.BackoffFactor,
			Cap:    cfg.Upload.BackoffCap.D(),
			Jitter: queue.DefaultBackoff().Jitter,
		},
		MaxRetries: cfg.Upload.MaxRetries,
		BatchSize:  cfg.Upload.BatchSize,
	})

	client := opts.Client
	if client == nil {
		client = ingest.NewClient(ingest.Config{
			BaseURL:    cfg.Upload.BaseURL,
			DeviceID:   cfg.DeviceID,
			APIKey:     cfg.Upload.APIKey,
			Timeout:    cfg.Upload.Timeout.D(),
			HealthPath: cfg.Upload.HealthPath,
		}, log)
	}
	up := uploader.New(a.queue, st, client, uploader.Options{
		Logger:  log,
		Metrics: a.metrics,
		Limiter: batchLimiter(cfg.Upload.BatchesPerMin),
	})

	initial, err := st.LoadHealth(context.Background())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		st.Close()
		return nil, err
	}
	cell, writer := health.New(initial, health.Options{Clock: a.clock, Logger: log, Persister: st})
	a.health = cell

	notifiers := notify.Multi{notify.LogNotifier{Logger: log.Named("notify")}}
	var feed peers.Feed = peers.Static(nil)
	if cfg.MQTT.Enabled() {
		a.broker = broker.New(cfg.MQTT.Config, log)
		a.feed = peers.NewMQTTFeed(peers.MQTTOptions{
			Topic:  cfg.MQTT.PeerTopic,
			Clock:  a.clock,
			Logger: log,
			Self:   cfg.DeviceID,
			Names:  cfg.MQTT.PeerNames,
			MaxAge: cfg.MQTT.PeerMaxAge.D(),
		})
		feed = a.feed
		notifiers = append(notifiers, notify.MQTTNotifier{Publisher: a.broker, Topic: cfg.MQTT.AlertTopic, QoS: 1})
	}

	engine := proximity.NewEngine(st, notifiers, proximity.Options{
		Clock:     a.clock,
		Logger:    log,
		Metrics:   a.metrics,
		Formatter: notify.NewFormatter(language.Make(cfg.Alerts.Language)),
	})

	provider := opts.Provider
	if provider == nil {
		provider = newProvider(cfg, a.clock)
	}

	a.ctrl = service.New(service.Deps{
		Provider:  provider,
		Locations: st,
		Queue:     a.queue,
		Uploader:  up,
		Proximity: engine,
		Peers:     feed,
		Health:    writer,
	}, service.Options{
		Clock:          a.clock,
		Logger:         log,
		Metrics:        a.metrics,
		Interval:       time.Duration(cfg.Capture.IntervalMinutes) * time.Minute,
		ErrorThreshold: cfg.Capture.ErrorThreshold,
		InterruptGrace: cfg.Upload.InterruptGrace.D(),
		Retention:      cfg.Upload.Retention.D(),
	})

	if cfg.Watchdog.Enabled {
		a.watchdog = watchdog.New(watchdog.HealthFunc(st.LoadHealth), a.ctrl, watchdog.Options{
			Clock:     a.clock,
			Logger:    log,
			Metrics:   a.metrics,
			Period:    cfg.Watchdog.Period.D(),
			Threshold: cfg.Watchdog.Threshold.D(),
		})
	}

	if cfg.API.Listen != "" || a.listener != nil {
		a.api = controlapi.NewServer(cfg.API.Listen, controlapi.Deps{
			Tracking: a.ctrl,
			Health:   cell,
			Queue:    a.queue,
			Metrics:  a.metrics,
		}, log)
	}
	return a, nil
}

func newProvider(cfg config.Config, clock quartz.Clock) location.Provider {
	now := func() time.Time { return clock.Now() }
	if cfg.Capture.Provider == "static" {
		return location.NewStatic(cfg.DeviceID, model.Point{Lat: cfg.Capture.Latitude, Lon: cfg.Capture.Longitude}, now)
	}
	return &location.FileProvider{
		Path:     cfg.Capture.FixPath,
		DeviceID: cfg.DeviceID,
		MaxAge:   cfg.Capture.MaxFixAge.D(),
		Now:      now,
	}
}

// batchLimiter spaces uploads to perMinute batches. Zero means unlimited.
func batchLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Controller returns the tracking controller.
func (a *Agent) Controller() *service.Controller { return a.ctrl }

// Health returns the health cell.
func (a *Agent) Health() *health.Cell { return a.health }

// Queue returns the upload queue.
func (a *Agent) Queue() *queue.Queue { return a.queue }

// Run syncs alerts, resumes tracking if it was running, and serves until
// ctx is cancelled or a component fails. The worker is stopped on return
// but its running flag is kept so the next Run resumes it.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.syncAlerts(ctx); err != nil {
		return err
	}

	if a.broker != nil {
		if err := a.feed.Start(a.broker); err != nil {
			return err
		}
	}
	ln := a.listener
	if a.api != nil && ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.API.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", a.cfg.API.Listen, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if a.broker != nil {
		g.Go(func() error {
			if err := a.broker.Connect(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		g.Go(func() error {
			a.publishHealth(ctx)
			return nil
		})
	}

	if _, err := a.ctrl.Resume(ctx); err != nil {
		a.log.Warn("resume tracking failed", zap.Error(err))
	}

	if a.watchdog != nil {
		a.watchdog.Schedule(ctx)
	}

	if a.api != nil {
		g.Go(func() error {
			a.log.Info("control api listening", zap.String("addr", ln.Addr().String()))
			if err := a.api.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return a.api.Shutdown(shutdownCtx)
		})
	}

	if paths := a.watchPaths(); len(paths) > 0 {
		g.Go(func() error {
			return config.Watch(ctx, a.log, paths, func(path string) { a.reload(ctx, path) })
		})
	}

	err := g.Wait()

	if a.watchdog != nil {
		a.watchdog.Cancel()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.ctrl.Shutdown(stopCtx); serr != nil {
		a.log.Warn("stop worker", zap.Error(serr))
	}
	if a.broker != nil {
		a.broker.Close()
	}
	a.log.Info("agent stopped")
	return err
}

// Close releases the store. Call it after Run returns.
func (a *Agent) Close() error {
	return a.store.Close()
}

func (a *Agent) syncAlerts(ctx context.Context) error {
	if a.cfg.Alerts.File == "" {
		return nil
	}
	alerts, err := config.LoadAlerts(a.cfg.Alerts.File)
	if err != nil {
		return err
	}
	res, err := config.SyncAlerts(ctx, a.store, alerts, a.clock.Now())
	if err != nil {
		return err
	}
	a.log.Info("alerts synced", zap.Int("upserted", res.Upserted), zap.Int("deleted", res.Deleted))
	return nil
}

func (a *Agent) watchPaths() []string {
	var paths []string
	for _, p := range []string{a.configPath, a.cfg.Alerts.File} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// reload applies a changed file. Only the capture interval and the alert
// set take effect without a restart.
func (a *Agent) reload(ctx context.Context, path string) {
	if sameFile(path, a.cfg.Alerts.File) {
		if err := a.syncAlerts(ctx); err != nil {
			a.log.Error("reload alerts", zap.Error(err))
		}
		return
	}
	if !sameFile(path, a.configPath) {
		return
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		a.log.Error("reload config", zap.Error(err))
		return
	}
	outcome, err := a.ctrl.UpdateInterval(ctx, cfg.Capture.IntervalMinutes)
	if err != nil {
		a.log.Error("apply interval", zap.Error(err))
		return
	}
	a.log.Info("config reloaded",
		zap.Int("interval_minutes", cfg.Capture.IntervalMinutes),
		zap.String("outcome", string(outcome)),
	)
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// publishHealth mirrors every health change to a retained broker topic so
// peers can see whether this device is tracking.
func (a *Agent) publishHealth(ctx context.Context) {
	updates, cancel := a.health.Subscribe()
	defer cancel()

	topic := "trackd/" + a.cfg.DeviceID + "/health"
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(h)
			if err != nil {
				a.log.Warn("encode health", zap.Error(err))
				continue
			}
			if err := a.broker.Publish(topic, 1, true, payload); err != nil && !errors.Is(err, broker.ErrNotConnected) {
				a.log.Warn("publish health", zap.Error(err))
			}
		}
	}
}
