// Package http exposes the ranking index over HTTP.
package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/NYTimes/gziphandler"
	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	kithttp "github.com/cheeseformice/ranking/kit/transport/http"
	"github.com/cheeseformice/ranking/logger"
	"github.com/cheeseformice/ranking/pkg/api"
	"github.com/cheeseformice/ranking/scheduler"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	prefixRank    = "/api/v1/rank"
	prefixPage    = "/api/v1/page"
	pathUpdate    = "/api/v1/update"
	prefixRebuild = "/api/v1/rebuild"
)

// Scheduler is the part of the scheduler the handler drives.
type Scheduler interface {
	SignalUpdate(ctx context.Context) error
	Trigger(table string) error
	State() scheduler.State
	Status() []scheduler.TableStatus
	Ready() bool
}

// Handler routes requests to the query engine and the scheduler.
type Handler struct {
	chi.Router

	queries   ranking.QueryService
	scheduler Scheduler
	api       *api.API

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHandler returns a handler serving the ranking API. The /metrics endpoint
// is served by metrics.
func NewHandler(log *zap.Logger, queries ranking.QueryService, sched Scheduler, metrics http.Handler) *Handler {
	h := &Handler{
		Router:    chi.NewRouter(),
		queries:   queries,
		scheduler: sched,
		api: api.New(
			api.WithLog(log),
			api.WithErrFn(kithttp.ErrorBody),
		),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Number of http requests received",
		}, []string{"handler", "method", "path", "status", "response_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "http",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Time taken to respond to HTTP request",
		}, []string{"handler", "method", "path", "status", "response_code"}),
	}

	h.Use(
		middleware.Recoverer,
		kithttp.SkipOptions,
		kithttp.Metrics("rankingd", h.requests, h.duration),
		kithttp.Logging(log),
	)

	h.Get("/health", h.handleHealth)
	// The metrics handler compresses its own output.
	h.Handle("/metrics", metrics)

	h.Group(func(r chi.Router) {
		r.Use(gziphandler.GzipHandler)

		r.Get("/ready", h.handleReady)
		r.Get(prefixRank+"/{table}/{stat}", h.handleGetRank)
		r.Get(prefixPage+"/{table}/{stat}", h.handleGetPage)
		r.Post(pathUpdate, h.handlePostUpdate)
		r.Post(prefixRebuild+"/{table}", h.handlePostRebuild)
	})
	return h
}

// PrometheusCollectors returns the request metrics of the handler.
func (h *Handler) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{h.requests, h.duration}
}

func (h *Handler) handleGetRank(w http.ResponseWriter, r *http.Request) {
	value, err := intParam(r, "value")
	if err != nil {
		h.err(w, r, err)
		return
	}

	res, err := h.queries.GetRank(chi.URLParam(r, "table"), chi.URLParam(r, "stat"), value)
	if err != nil {
		h.err(w, r, err)
		return
	}
	h.api.Respond(w, http.StatusOK, res)
}

func (h *Handler) handleGetPage(w http.ResponseWriter, r *http.Request) {
	start, err := intParam(r, "start")
	if err != nil {
		h.err(w, r, err)
		return
	}

	res, err := h.queries.GetPage(chi.URLParam(r, "table"), chi.URLParam(r, "stat"), start)
	if err != nil {
		h.err(w, r, err)
		return
	}
	h.api.Respond(w, http.StatusOK, res)
}

func (h *Handler) handlePostUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.SignalUpdate(r.Context()); err != nil {
		h.err(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Update signaled")
	h.api.Respond(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handlePostRebuild(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if err := h.scheduler.Trigger(table); err != nil {
		h.err(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Rebuild requested", logger.Table(table))
	h.api.Respond(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.api.Respond(w, http.StatusOK, map[string]string{
		"name":   "rankingd",
		"status": "pass",
	})
}

type readyResponse struct {
	Status string                  `json:"status"`
	State  scheduler.State         `json:"state"`
	Tables []scheduler.TableStatus `json:"tables"`
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	res := readyResponse{
		Status: "ready",
		State:  h.scheduler.State(),
		Tables: h.scheduler.Status(),
	}
	status := http.StatusOK
	if !h.scheduler.Ready() {
		res.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	h.api.Respond(w, status, res)
}

func (h *Handler) err(w http.ResponseWriter, r *http.Request, err error) {
	kithttp.ErrorCodeHeader(w, err)
	h.api.Err(w, r, err)
}

// intParam parses a required integer query parameter.
func intParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.Errorf(errors.EInvalid, "http.intParam", "missing %s parameter", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Errorf(errors.EInvalid, "http.intParam", "%s must be an integer, got %q", name, raw)
	}
	return v, nil
}
