package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace          = "ranking"
	schedulerSubsystem = "scheduler"
)

type schedulerMetrics struct {
	state         prometheus.Gauge
	builds        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	loads         *prometheus.CounterVec
	saveFailures  *prometheus.CounterVec
	triggers      *prometheus.CounterVec
}

func newSchedulerMetrics() *schedulerMetrics {
	return &schedulerMetrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "state",
			Help:      "Process state: 0 booting, 1 generating, 2 serving, 3 stopped",
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "builds_total",
			Help:      "Number of table builds by result",
		}, []string{"table", "result"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "build_duration_seconds",
			Help:      "Duration of successful table builds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"table"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "boot_loads_total",
			Help:      "Number of tables restored from disk at boot by result",
		}, []string{"table", "result"}),
		saveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "save_failures_total",
			Help:      "Number of committed generations that could not be fully persisted",
		}, []string{"table"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: schedulerSubsystem,
			Name:      "triggers_total",
			Help:      "Number of rebuild triggers by origin",
		}, []string{"origin"}),
	}
}

func (m *schedulerMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.state, m.builds, m.buildDuration, m.loads, m.saveFailures, m.triggers}
}
