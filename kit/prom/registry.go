// Package prom provides a prometheus registry that logs collection errors.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusCollector is implemented by components that expose metrics.
type PrometheusCollector interface {
	PrometheusCollectors() []prometheus.Collector
}

// Registry embeds a prometheus.Registry and logs through zap.
type Registry struct {
	*prometheus.Registry

	log *zap.Logger
}

// NewRegistry returns a new registry logging to log.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		Registry: prometheus.NewRegistry(),
		log:      log,
	}
}

// MustRegisterAll registers the collectors of every component.
func (r *Registry) MustRegisterAll(cs ...PrometheusCollector) {
	for _, c := range cs {
		r.MustRegister(c.PrometheusCollectors()...)
	}
}

// HTTPHandler returns a handler serving the registry in the exposition format.
// Collection errors are logged and the remaining metrics are still served.
func (r *Registry) HTTPHandler() http.Handler {
	opts := promhttp.HandlerOpts{
		ErrorLog:      promLogger{r: r},
		ErrorHandling: promhttp.ContinueOnError,
	}
	return promhttp.HandlerFor(r.Registry, opts)
}

// promLogger satisfies promhttp.Logger.
type promLogger struct {
	r *Registry
}

func (pl promLogger) Println(v ...interface{}) {
	pl.r.log.Sugar().Info(v...)
}
