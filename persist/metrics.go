package persist

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace        = "ranking"
	persistSubsystem = "persist"
)

type storeMetrics struct {
	ops   *prometheus.CounterVec
	bytes *prometheus.CounterVec
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: persistSubsystem,
			Name:      "operations_total",
			Help:      "Number of series saves and loads by result",
		}, []string{"op", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: persistSubsystem,
			Name:      "bytes_total",
			Help:      "Number of series bytes written and read",
		}, []string{"op"}),
	}
}

func (m *storeMetrics) observe(op string, n int64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ops.WithLabelValues(op, result).Inc()
	if err == nil {
		m.bytes.WithLabelValues(op).Add(float64(n))
	}
}
