package promtest_test

import (
	"testing"

	"github.com/cheeseformice/ranking/kit/prom/promtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestValueAndSum(t *testing.T) {
	builds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_scheduler_builds_total",
		Help: "builds",
	}, []string{"table", "result"})
	builds.WithLabelValues("player", "success").Add(3)
	builds.WithLabelValues("player", "source unreachable").Add(2)
	builds.WithLabelValues("tribe_stats", "success").Inc()

	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ranking_scheduler_build_duration_seconds",
		Help: "durations",
	}, []string{"table"})
	dur.WithLabelValues("player").Observe(1)
	dur.WithLabelValues("player").Observe(2)

	mfs := promtest.Gather(t, nil, builds, dur)

	require.Equal(t, float64(3), promtest.Value(t, mfs, "ranking_scheduler_builds_total",
		promtest.Labels{"table": "player", "result": "success"}))
	require.Equal(t, float64(5), promtest.Sum(t, mfs, "ranking_scheduler_builds_total",
		promtest.Labels{"table": "player"}))
	require.Equal(t, float64(6), promtest.Sum(t, mfs, "ranking_scheduler_builds_total", nil))
	require.Equal(t, float64(2), promtest.Value(t, mfs, "ranking_scheduler_build_duration_seconds",
		promtest.Labels{"table": "player"}))
}
