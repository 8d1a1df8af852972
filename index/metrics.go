package index

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ranking"

const indexSubsystem = "index"

type catalogMetrics struct {
	live    prometheus.Gauge
	retired prometheus.Counter
	commits *prometheus.CounterVec
	samples *prometheus.GaugeVec
}

func newCatalogMetrics() *catalogMetrics {
	return &catalogMetrics{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: indexSubsystem,
			Name:      "generations_live",
			Help:      "Number of generations currently held in memory, serving or retiring",
		}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: indexSubsystem,
			Name:      "generations_retired_total",
			Help:      "Number of generations released after being replaced",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: indexSubsystem,
			Name:      "commits_total",
			Help:      "Number of generations committed per table",
		}, []string{"table"}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: indexSubsystem,
			Name:      "samples",
			Help:      "Number of samples in the serving series",
		}, []string{"table", "stat"}),
	}
}

func (m *catalogMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.live, m.retired, m.commits, m.samples}
}
