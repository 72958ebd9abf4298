// Package controlapi serves the local tracking control surface over HTTP
// and provides a client for it.
package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/metrics"
	"github.com/hanibalsk/trackd/internal/model"
	"github.com/hanibalsk/trackd/internal/service"
)

// Tracking is the control surface. *service.Controller implements it.
type Tracking interface {
	StartTracking(ctx context.Context) (service.Outcome, error)
	StopTracking(ctx context.Context) (service.Outcome, error)
	UpdateInterval(ctx context.Context, minutes int) (service.Outcome, error)
}

// HealthReader returns the current health. *health.Cell implements it.
type HealthReader interface {
	Health(ctx context.Context) (model.ServiceHealth, error)
}

// QueueAdmin is the queue maintenance surface. *queue.Queue implements it.
type QueueAdmin interface {
	Stats(ctx context.Context) (model.QueueStats, error)
	ResetFailed(ctx context.Context) (int64, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Tracking Tracking
	Health   HealthReader
	Queue    QueueAdmin
	Metrics  *metrics.Metrics
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type handler struct {
	deps Deps
	log  *zap.Logger
}

// NewHandler returns the router for the control API.
func NewHandler(deps Deps, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{deps: deps, log: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, h.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tracking", func(r chi.Router) {
			r.Post("/start", h.start)
			r.Post("/stop", h.stop)
			r.Put("/interval", h.interval)
		})
		r.Get("/health", h.health)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", h.queueStats)
			r.Post("/retry-failed", h.retryFailed)
		})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	return r
}

// NewServer wraps NewHandler in an http.Server listening on addr.
func NewServer(addr string, deps Deps, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) start(rw http.ResponseWriter, r *http.Request) {
	outcome, err := h.deps.Tracking.StartTracking(r.Context())
	h.control(rw, outcome, err)
}

func (h *handler) stop(rw http.ResponseWriter, r *http.Request) {
	outcome, err := h.deps.Tracking.StopTracking(r.Context())
	h.control(rw, outcome, err)
}

func (h *handler) interval(rw http.ResponseWriter, r *http.Request) {
	var req IntervalRequest
	if !read(rw, r, &req) {
		return
	}
	outcome, err := h.deps.Tracking.UpdateInterval(r.Context(), req.Minutes)
	h.control(rw, outcome, err)
}

func (h *handler) control(rw http.ResponseWriter, outcome service.Outcome, err error) {
	if err == nil {
		write(rw, http.StatusOK, Response{Outcome: outcome})
		return
	}
	var ce *service.ControlError
	if errors.As(err, &ce) {
		status := http.StatusUnprocessableEntity
		if ce.Code == service.ErrCodePermission {
			status = http.StatusForbidden
		}
		write(rw, status, Response{Code: string(ce.Code), Message: ce.Error()})
		return
	}
	h.internal(rw, err)
}

func (h *handler) health(rw http.ResponseWriter, r *http.Request) {
	hs, err := h.deps.Health.Health(r.Context())
	if err != nil {
		h.internal(rw, err)
		return
	}
	write(rw, http.StatusOK, HealthResponse{ServiceHealth: hs, IntervalMinutes: hs.Interval.Minutes()})
}

func (h *handler) queueStats(rw http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Queue.Stats(r.Context())
	if err != nil {
		h.internal(rw, err)
		return
	}
	h.deps.Metrics.SetQueueStats(stats)
	write(rw, http.StatusOK, QueueStatsResponse{
		QueueStats:  stats,
		Total:       stats.Total(),
		NeedsUpload: stats.NeedsUpload(),
	})
}

func (h *handler) retryFailed(rw http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Queue.ResetFailed(r.Context())
	if err != nil {
		h.internal(rw, err)
		return
	}
	write(rw, http.StatusOK, RetryFailedResponse{Reset: n})
}

func (h *handler) internal(rw http.ResponseWriter, err error) {
	h.log.Error("request failed", zap.Error(err))
	write(rw, http.StatusInternalServerError, Response{Message: err.Error()})
}

func write(rw http.ResponseWriter, status int, response any) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(response); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = rw.Write(buf.Bytes())
}

// read decodes and validates a JSON body, writing a 400 on failure.
func read(rw http.ResponseWriter, r *http.Request, value any) bool {
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		write(rw, http.StatusBadRequest, Response{Message: fmt.Sprintf("read body: %s", err)})
		return false
	}
	err := validate.Struct(value)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:  fe.Field(),
				Detail: fmt.Sprintf("validation failed for tag %q with value %v", fe.Tag(), fe.Value()),
			})
		}
		write(rw, http.StatusBadRequest, Response{Message: "validation failed", Errors: fields})
		return false
	}
	if err != nil {
		write(rw, http.StatusInternalServerError, Response{Message: fmt.Sprintf("validation: %s", err)})
		return false
	}
	return true
}
