package index

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/cheeseformice/ranking/pkg/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// DefaultRetireGrace is how long a replaced generation is kept before it
	// stops accepting references.
	DefaultRetireGrace = 5 * time.Second

	// DefaultDrainTimeout is how long a retiring generation may stay
	// referenced before a warning is logged.
	DefaultDrainTimeout = 30 * time.Second
)

var errCatalogClosed = &errors.Error{
	Code: errors.EUnavailable,
	Msg:  "index catalog closed",
}

// TableIndex holds the serving generation of one table.
type TableIndex struct {
	table    ranking.Table
	serving  atomic.Pointer[Generation]
	outdated atomic.Bool
	building atomic.Bool
}

// Table returns the table definition.
func (t *TableIndex) Table() ranking.Table { return t.table }

// Available reports whether a generation is currently serving.
func (t *TableIndex) Available() bool { return t.serving.Load() != nil }

// Outdated reports whether a rebuild is in flight for a serving table.
func (t *TableIndex) Outdated() bool { return t.outdated.Load() }

// Building reports whether a staging build is in flight.
func (t *TableIndex) Building() bool { return t.building.Load() }

// Serving returns the serving generation without taking a reference. The
// result must only be used for its metadata.
func (t *TableIndex) Serving() *Generation { return t.serving.Load() }

// Acquire captures the serving generation for the duration of a query. It
// returns nil if the table has no serving generation. The reference must be
// released once the query is done with the generation.
func (t *TableIndex) Acquire() (*Generation, *lifecycle.Reference) {
	for {
		g := t.serving.Load()
		if g == nil {
			return nil, nil
		}
		ref, err := g.Acquire()
		if err == nil {
			return g, ref
		}
		// g started retiring after it was swapped out; the pointer has
		// already moved on, so load it again.
		if t.serving.Load() == g {
			return nil, nil
		}
	}
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock sets the clock used to time retirement grace periods.
func WithClock(clk clock.Clock) Option {
	return func(c *Catalog) { c.clock = clk }
}

// WithRetireGrace sets how long a replaced generation keeps accepting readers.
func WithRetireGrace(d time.Duration) Option {
	return func(c *Catalog) { c.grace = d }
}

// WithDrainTimeout sets when a warning is logged for a generation that is
// still referenced after retirement.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Catalog) { c.drainTimeout = d }
}

// WithLogger sets the logger on the catalog.
func WithLogger(log *zap.Logger) Option {
	return func(c *Catalog) { c.log = log.With(zap.String("service", "index-catalog")) }
}

// Catalog owns every live generation. Reads go through TableIndex without
// locks; mu only serializes commits against Close.
type Catalog struct {
	tables map[string]*TableIndex
	order  []*TableIndex

	clock        clock.Clock
	grace        time.Duration
	drainTimeout time.Duration
	log          *zap.Logger
	metrics      *catalogMetrics

	nextID atomic.Uint64

	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	retiring sync.WaitGroup
}

// NewCatalog returns a catalog for the given tables. Table and stat names
// must be valid identifiers and unique.
func NewCatalog(tables []ranking.Table, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		tables:       make(map[string]*TableIndex, len(tables)),
		clock:        clock.New(),
		grace:        DefaultRetireGrace,
		drainTimeout: DefaultDrainTimeout,
		log:          zap.NewNop(),
		metrics:      newCatalogMetrics(),
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	for _, t := range tables {
		if !ranking.ValidIdentifier(t.Name) {
			return nil, errors.Errorf(errors.EInvalid, "index.NewCatalog", "invalid table name %q", t.Name)
		}
		if _, ok := c.tables[t.Name]; ok {
			return nil, errors.Errorf(errors.EInvalid, "index.NewCatalog", "duplicate table %q", t.Name)
		}
		if len(t.Stats) == 0 {
			return nil, errors.Errorf(errors.EInvalid, "index.NewCatalog", "table %q has no stats", t.Name)
		}
		seen := make(map[string]bool, len(t.Stats))
		for _, s := range t.Stats {
			if !ranking.ValidIdentifier(s) || seen[s] {
				return nil, errors.Errorf(errors.EInvalid, "index.NewCatalog", "invalid or duplicate stat %q for table %q", s, t.Name)
			}
			seen[s] = true
		}

		ti := &TableIndex{table: ranking.Table{Name: t.Name, Stats: append([]string(nil), t.Stats...)}}
		c.tables[t.Name] = ti
		c.order = append(c.order, ti)
	}
	return c, nil
}

// Table returns the index of the named table.
func (c *Catalog) Table(name string) (*TableIndex, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns every table index in configuration order.
func (c *Catalog) Tables() []*TableIndex { return c.order }

// Stage starts a build for table. Only one build per table may be staged at a
// time. If the table is serving, it is flagged outdated until the staging is
// committed or discarded.
func (c *Catalog) Stage(table string) (*Staging, error) {
	const op = "index.Stage"

	ti, ok := c.tables[table]
	if !ok {
		return nil, ranking.ErrUnknownTable(op, table)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errCatalogClosed
	}

	if !ti.building.CompareAndSwap(false, true) {
		return nil, errors.Errorf(errors.EInvalid, op, "a build is already staged for table %q", table)
	}
	if ti.Available() {
		ti.outdated.Store(true)
	}

	return &Staging{
		catalog: c,
		ti:      ti,
		series:  make(map[string]Series, len(ti.table.Stats)),
	}, nil
}

// commit swaps g in as the serving generation of ti and retires the previous one.
func (c *Catalog) commit(ti *TableIndex, g *Generation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errCatalogClosed
	}

	prev := ti.serving.Swap(g)
	ti.outdated.Store(false)

	c.metrics.live.Inc()
	c.metrics.commits.WithLabelValues(ti.table.Name).Inc()
	for stat, s := range g.series {
		c.metrics.samples.WithLabelValues(ti.table.Name, stat).Set(float64(len(s)))
	}

	if prev != nil {
		c.retire(prev, false)
	}
	return nil
}

// retire releases g once the grace period has passed and every reader that
// captured it is done. c.mu must be held.
func (c *Catalog) retire(g *Generation, immediate bool) {
	c.retiring.Add(1)
	go func() {
		defer c.retiring.Done()

		if !immediate && c.grace > 0 {
			t := c.clock.Timer(c.grace)
			select {
			case <-t.C:
			case <-c.stop:
				t.Stop()
			}
		}

		g.release(c.drainTimeout, c.log)
		c.metrics.live.Dec()
		c.metrics.retired.Inc()
		c.log.Debug("Released generation",
			zap.String("table", g.Table),
			zap.Uint64("generation", g.ID))
	}()
}

// Close releases every live generation. Queries issued afterwards see every
// table as unavailable. It is safe to call multiple times.
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)

	for _, ti := range c.order {
		if g := ti.serving.Swap(nil); g != nil {
			c.retire(g, true)
		}
		ti.outdated.Store(false)
	}
	c.mu.Unlock()

	c.retiring.Wait()
	return nil
}

// PrometheusCollectors returns the metrics of the catalog.
func (c *Catalog) PrometheusCollectors() []prometheus.Collector {
	return c.metrics.collectors()
}

// Staging is a private, in-progress generation for one table. It is not
// safe for concurrent use.
type Staging struct {
	catalog *Catalog
	ti      *TableIndex
	series  map[string]Series
	done    bool
}

// Table returns the table being built.
func (s *Staging) Table() ranking.Table { return s.ti.table }

// Put records the finished series of stat.
func (s *Staging) Put(stat string, series Series) error {
	if s.done {
		return fmt.Errorf("staging for table %q already finished", s.ti.table.Name)
	}
	if !s.ti.table.HasStat(stat) {
		return ranking.ErrUnknownStat("index.Put", s.ti.table.Name, stat)
	}
	s.series[stat] = series
	return nil
}

// Commit publishes the staged series as the serving generation of the table.
// Every stat of the table must have been Put.
func (s *Staging) Commit(stride int, builtAt time.Time) (*Generation, error) {
	const op = "index.Commit"

	if s.done {
		return nil, errors.Errorf(errors.EInternal, op, "staging for table %q already finished", s.ti.table.Name)
	}
	if stride <= 0 {
		return nil, errors.Errorf(errors.EInvalid, op, "invalid stride %d", stride)
	}
	for _, stat := range s.ti.table.Stats {
		if _, ok := s.series[stat]; !ok {
			return nil, errors.Errorf(errors.EInternal, op, "stat %q of table %q was not built", stat, s.ti.table.Name)
		}
	}

	g := newGeneration(s.catalog.nextID.Add(1), s.ti.table.Name, stride, builtAt, s.series)
	if err := s.catalog.commit(s.ti, g); err != nil {
		return nil, err
	}

	s.done = true
	s.series = nil
	s.ti.building.Store(false)
	return g, nil
}

// Discard drops the staged series, leaving the serving generation untouched.
// It is a no-op after Commit and safe to call multiple times.
func (s *Staging) Discard() {
	if s.done {
		return
	}
	s.done = true
	s.series = nil
	s.ti.outdated.Store(false)
	s.ti.building.Store(false)
}
