// Package query answers rank and page lookups from the serving generations of
// an index catalog. Lookups never block: each one captures a single
// generation, reads its immutable series and releases it.
package query

import (
	"sort"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/index"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var _ ranking.QueryService = (*Engine)(nil)

// Engine implements ranking.QueryService over a Catalog.
type Engine struct {
	catalog *index.Catalog
	metrics *engineMetrics
}

// NewEngine returns an engine reading from catalog.
func NewEngine(catalog *index.Catalog) *Engine {
	return &Engine{
		catalog: catalog,
		metrics: newEngineMetrics(),
	}
}

// GetRank returns the rank of the last sample still greater than or equal to
// value. A value above every sample ranks first. Ranks are multiples of the
// stride the generation was built with.
//
// A series truncated at its first sample holds no values: every query then
// answers rank 0 with a zero Value that was never sampled.
func (e *Engine) GetRank(table, stat string, value int64) (ranking.RankResult, error) {
	res, err := e.getRank(table, stat, value)
	e.metrics.observe("get_rank", err)
	return res, err
}

func (e *Engine) getRank(table, stat string, value int64) (ranking.RankResult, error) {
	const op = "query.GetRank"

	ti, series, g, release, err := e.acquire(op, table, stat)
	if err != nil {
		return ranking.RankResult{}, err
	}
	defer release()

	res := ranking.RankResult{Outdated: ti.Outdated()}
	// Nothing was ranked; rank 0 with no sampled value.
	if len(series) == 0 {
		return res, nil
	}

	// Index of the first sample below value; the one before it is the last
	// sample still reaching value.
	i := sort.Search(len(series), func(i int) bool { return int64(series[i]) < value })
	r := i - 1
	if r < 0 {
		r = 0
	}

	res.Rank = int64(r) * int64(g.Stride)
	res.Value = series[r]
	return res, nil
}

// GetPage returns the sample at startRank rounded down to the stride.
func (e *Engine) GetPage(table, stat string, startRank int64) (ranking.PageResult, error) {
	res, err := e.getPage(table, stat, startRank)
	e.metrics.observe("get_page", err)
	return res, err
}

func (e *Engine) getPage(table, stat string, startRank int64) (ranking.PageResult, error) {
	const op = "query.GetPage"

	if startRank < 0 {
		return ranking.PageResult{}, errors.Errorf(errors.EInvalid, op, "start rank %d is negative", startRank)
	}

	ti, series, g, release, err := e.acquire(op, table, stat)
	if err != nil {
		return ranking.PageResult{}, err
	}
	defer release()

	idx := startRank / int64(g.Stride)
	if idx >= int64(len(series)) {
		return ranking.PageResult{}, ranking.ErrPageTooFar(op, startRank, len(series))
	}

	return ranking.PageResult{
		Rank:     idx * int64(g.Stride),
		Value:    series[idx],
		Outdated: ti.Outdated(),
	}, nil
}

// acquire resolves table and stat and captures the serving generation. The
// returned release func must be called once the series is no longer read.
func (e *Engine) acquire(op, table, stat string) (*index.TableIndex, index.Series, *index.Generation, func(), error) {
	ti, ok := e.catalog.Table(table)
	if !ok {
		return nil, nil, nil, nil, ranking.ErrUnknownTable(op, table)
	}
	if !ti.Table().HasStat(stat) {
		return nil, nil, nil, nil, ranking.ErrUnknownStat(op, table, stat)
	}

	g, ref := ti.Acquire()
	if g == nil {
		return nil, nil, nil, nil, ranking.ErrUnavailable(op, table)
	}
	series, _ := g.Series(stat)
	return ti, series, g, ref.Release, nil
}

// PrometheusCollectors returns the metrics of the engine.
func (e *Engine) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{e.metrics.queries}
}
