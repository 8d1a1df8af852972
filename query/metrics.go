package query

import (
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	queries *prometheus.CounterVec
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ranking",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Number of lookups by operation and error code",
		}, []string{"op", "code"}),
	}
}

func (m *engineMetrics) observe(op string, err error) {
	code := "ok"
	if err != nil {
		code = errors.ErrorCode(err)
	}
	m.queries.WithLabelValues(op, code).Inc()
}
