// Package promtest reads ranking metric values in tests.
package promtest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Labels selects metrics by label value.
type Labels map[string]string

// Scrape requests /metrics from h and decodes every family of the response.
func Scrape(tb testing.TB, h http.Handler) []*dto.MetricFamily {
	tb.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		tb.Fatalf("scrape /metrics: status %d", rec.Code)
	}

	dec := expfmt.NewDecoder(rec.Body, expfmt.ResponseFormat(rec.Header()))
	var mfs []*dto.MetricFamily
	for {
		mf := new(dto.MetricFamily)
		if err := dec.Decode(mf); err == io.EOF {
			return mfs
		} else if err != nil {
			tb.Fatalf("decode /metrics: %v", err)
		}
		mfs = append(mfs, mf)
	}
}

// Gather collects g, or registers cs on a fresh registry and collects it
// when g is nil.
func Gather(tb testing.TB, g prometheus.Gatherer, cs ...prometheus.Collector) []*dto.MetricFamily {
	tb.Helper()

	if g == nil {
		reg := prometheus.NewRegistry()
		for _, c := range cs {
			if err := reg.Register(c); err != nil {
				tb.Fatalf("register collector: %v", err)
			}
		}
		g = reg
	}
	mfs, err := g.Gather()
	if err != nil {
		tb.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

// Value returns the metric of family name whose labels are exactly labels.
// Counters and gauges report their value, histograms their sample count.
func Value(tb testing.TB, mfs []*dto.MetricFamily, name string, labels Labels) float64 {
	tb.Helper()

	fam := family(tb, mfs, name)
	for _, m := range fam.Metric {
		if len(m.Label) == len(labels) && matches(m, labels) {
			return value(m)
		}
	}
	missing(tb, fam, labels)
	return 0
}

// Sum adds up every metric of family name carrying at least labels, such
// as every result of one table. It fails when nothing matches.
func Sum(tb testing.TB, mfs []*dto.MetricFamily, name string, labels Labels) float64 {
	tb.Helper()

	fam := family(tb, mfs, name)
	var (
		sum   float64
		found bool
	)
	for _, m := range fam.Metric {
		if matches(m, labels) {
			sum += value(m)
			found = true
		}
	}
	if !found {
		missing(tb, fam, labels)
	}
	return sum
}

func family(tb testing.TB, mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	tb.Helper()

	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
		names = append(names, mf.GetName())
	}
	sort.Strings(names)
	tb.Fatalf("metric family %q not found; have %s", name, strings.Join(names, ", "))
	return nil
}

func missing(tb testing.TB, fam *dto.MetricFamily, labels Labels) {
	tb.Helper()

	sets := make([]string, len(fam.Metric))
	for i, m := range fam.Metric {
		pairs := make([]string, len(m.Label))
		for j, l := range m.Label {
			pairs[j] = fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
		}
		sets[i] = "{" + strings.Join(pairs, ",") + "}"
	}
	tb.Fatalf("no %s metric with labels %v; have %s", fam.GetName(), labels, strings.Join(sets, " "))
}

func matches(m *dto.Metric, labels Labels) bool {
	n := 0
	for _, l := range m.Label {
		if want, ok := labels[l.GetName()]; ok {
			if want != l.GetValue() {
				return false
			}
			n++
		}
	}
	return n == len(labels)
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return float64(m.Histogram.GetSampleCount())
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}
