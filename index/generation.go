package index

import (
	"sort"
	"time"

	"github.com/cheeseformice/ranking/pkg/lifecycle"
	"go.uber.org/zap"
)

// Generation is one complete set of series for a table, produced by a single
// build pass. Readers must Acquire it before touching its series.
type Generation struct {
	ID      uint64
	Table   string
	Stride  int
	BuiltAt time.Time

	series  map[string]Series
	samples int64
	res     *lifecycle.Resource
}

func newGeneration(id uint64, table string, stride int, builtAt time.Time, series map[string]Series) *Generation {
	var n int64
	for _, s := range series {
		n += int64(len(s))
	}
	return &Generation{
		ID:      id,
		Table:   table,
		Stride:  stride,
		BuiltAt: builtAt,
		series:  series,
		samples: n,
		res:     lifecycle.NewResource(),
	}
}

// Acquire keeps the generation alive until the reference is released.
func (g *Generation) Acquire() (*lifecycle.Reference, error) {
	return g.res.Acquire()
}

// Series returns the series of stat. The caller must hold a reference.
func (g *Generation) Series(stat string) (Series, bool) {
	s, ok := g.series[stat]
	return s, ok
}

// Stats returns the stats held by the generation in sorted order.
func (g *Generation) Stats() []string {
	stats := make([]string, 0, len(g.series))
	for stat := range g.series {
		stats = append(stats, stat)
	}
	sort.Strings(stats)
	return stats
}

// Samples returns the total number of samples across every stat.
func (g *Generation) Samples() int64 { return g.samples }

// release stops new references, waits for outstanding readers and drops the
// series so their memory can be reclaimed.
func (g *Generation) release(drainTimeout time.Duration, log *zap.Logger) {
	g.res.Wait(drainTimeout, func() {
		log.Warn("Generation still referenced after drain timeout",
			zap.Uint64("generation", g.ID),
			zap.String("table", g.Table),
			zap.Int64("refs", g.res.Refs()),
			zap.Duration("timeout", drainTimeout))
	})
	g.series = nil
}
