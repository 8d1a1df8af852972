// Package scheduler owns the life cycle of every table index: it restores or
// builds them at boot, rebuilds them daily and on demand, persists committed
// generations and shuts everything down.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/bolt"
	"github.com/cheeseformice/ranking/index"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/cheeseformice/ranking/logger"
	"github.com/cheeseformice/ranking/pkg/wg_timeout"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight builds
// to observe cancellation before releasing the index anyway.
const DefaultShutdownTimeout = 10 * time.Second

// Store persists the series of committed generations.
type Store interface {
	SaveAll(ctx context.Context, table string, series map[string]index.Series) error
	LoadAll(ctx context.Context, table string, stats []string) (map[string]index.Series, error)
}

// Manifest records which tables were completely persisted.
type Manifest interface {
	Get(table string) (bolt.Record, bool, error)
	Put(table string, rec bolt.Record) error
	Delete(table string) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger on the scheduler.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) { s.log = log.With(zap.String("service", "scheduler")) }
}

// WithClock sets the clock used for the daily trigger and build timestamps.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clock = clk }
}

// WithPersistence enables restoring tables at boot and saving every commit.
func WithPersistence(store Store, manifest Manifest) Option {
	return func(s *Scheduler) {
		s.store = store
		s.manifest = manifest
	}
}

// WithNotifier sets where update and rebuild events are published.
func WithNotifier(n ranking.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithQualification restricts the rows of table eligible for ranking.
func WithQualification(table string, q ranking.Qualification) Option {
	return func(s *Scheduler) {
		s.qualTable = table
		s.qual = q
	}
}

// WithSchedule sets the daily rebuild trigger. A nil schedule disables it.
func WithSchedule(sched *Schedule) Option {
	return func(s *Scheduler) { s.schedule = sched }
}

// WithShutdownTimeout sets how long Shutdown waits for in-flight builds.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.shutdownTimeout = d }
}

// Scheduler drives builds for every table of a catalog. Builds of different
// tables run concurrently; builds of one table are serialized.
type Scheduler struct {
	catalog  *index.Catalog
	builder  *index.Builder
	store    Store
	manifest Manifest
	notifier ranking.Notifier
	schedule *Schedule

	qualTable string
	qual      ranking.Qualification

	clock           clock.Clock
	shutdownTimeout time.Duration
	log             *zap.Logger
	metrics         *schedulerMetrics

	state   atomic.Int32
	booted  chan struct{}
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	openOnce     sync.Once
	shutdownOnce sync.Once
}

// New returns a scheduler building catalog tables with builder.
func New(catalog *index.Catalog, builder *index.Builder, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog:         catalog,
		builder:         builder,
		notifier:        ranking.NopNotifier{},
		clock:           clock.New(),
		shutdownTimeout: DefaultShutdownTimeout,
		log:             zap.NewNop(),
		metrics:         newSchedulerMetrics(),
		booted:          make(chan struct{}),
		workers:         make(map[string]*worker),
	}
	for _, o := range opts {
		o(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, ti := range catalog.Tables() {
		s.workers[ti.Table().Name] = &worker{
			ti:      ti,
			trigger: make(chan string, 1),
		}
	}
	s.setState(StateBooting)
	return s
}

// Open starts the boot sequence in the background and returns immediately.
// Queries report tables as unavailable until they are restored or built.
func (s *Scheduler) Open(ctx context.Context) error {
	s.openOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	})
	return nil
}

// Close shuts the scheduler down.
func (s *Scheduler) Close() error {
	s.Shutdown()
	return nil
}

// Booted is closed once every table was restored or had its first build
// attempted.
func (s *Scheduler) Booted() <-chan struct{} { return s.booted }

// State returns the process state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.state.Set(float64(st))
}

func (s *Scheduler) run() {
	if !s.boot(s.ctx) {
		return
	}

	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(s.ctx, w)
		}()
	}

	if s.schedule != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick(s.ctx)
		}()
	}
}

// boot restores every table from disk, or builds it when its files are not
// usable. It reports false if the scheduler was shut down meanwhile.
func (s *Scheduler) boot(ctx context.Context) bool {
	log, done := logger.NewOperation(s.log, "Booting index", "index_boot")
	defer done()

	var g errgroup.Group
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			name := w.ti.Table().Name
			if s.restore(ctx, w) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.state.CompareAndSwap(int32(StateBooting), int32(StateGenerating))
			s.metrics.state.Set(float64(s.State()))
			if err := s.rebuild(ctx, w); err != nil {
				log.Error("Initial build failed; table stays unavailable until the next trigger",
					logger.Table(name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return false
	}
	s.setState(StateServing)
	close(s.booted)
	log.Info("Index serving", zap.Int("tables", len(s.workers)))
	return true
}

// restore loads the persisted generation of a table if the manifest vouches
// for a complete save matching the current stride and stats.
func (s *Scheduler) restore(ctx context.Context, w *worker) bool {
	if s.store == nil || s.manifest == nil {
		return false
	}

	table := w.ti.Table()
	log := s.log.With(logger.Table(table.Name))

	rec, ok, err := s.manifest.Get(table.Name)
	switch {
	case err != nil:
		log.Warn("Unable to read manifest", zap.Error(err))
		s.metrics.loads.WithLabelValues(table.Name, "failure").Inc()
		return false
	case !ok:
		log.Info("No persisted generation")
		s.metrics.loads.WithLabelValues(table.Name, "missing").Inc()
		return false
	case !rec.Covers(s.builder.Stride, table.Stats):
		log.Info("Persisted generation does not match the configuration",
			zap.Int("stride", rec.Stride),
			zap.Strings("stats", rec.Stats()))
		s.metrics.loads.WithLabelValues(table.Name, "stale").Inc()
		return false
	}

	series, err := s.store.LoadAll(ctx, table.Name, table.Stats)
	if err == nil {
		err = checkSamples(rec, series)
	}
	if err == nil {
		err = s.commit(w, series, rec.BuiltAt)
	}
	if err != nil {
		log.Warn("Unable to restore persisted generation", zap.Error(err))
		s.metrics.loads.WithLabelValues(table.Name, "failure").Inc()
		return false
	}

	s.metrics.loads.WithLabelValues(table.Name, "success").Inc()
	log.Info("Restored persisted generation",
		zap.Time("built_at", rec.BuiltAt),
		zap.String("age", humanize.RelTime(rec.BuiltAt, s.clock.Now(), "old", "from now")))
	return true
}

func checkSamples(rec bolt.Record, series map[string]index.Series) error {
	for stat, want := range rec.Samples {
		if got := len(series[stat]); got != want {
			return errors.Errorf(errors.EPersistenceFailure, "scheduler.restore",
				"stat %s has %d samples, manifest recorded %d", stat, got, want)
		}
		if sum, ok := rec.Checksums[stat]; ok && series[stat].Checksum() != sum {
			return errors.Errorf(errors.EPersistenceFailure, "scheduler.restore",
				"stat %s does not match its recorded checksum", stat)
		}
	}
	return nil
}

// commit publishes already built series as the generation of a table.
func (s *Scheduler) commit(w *worker, series map[string]index.Series, builtAt time.Time) error {
	st, err := s.catalog.Stage(w.ti.Table().Name)
	if err != nil {
		return err
	}
	defer st.Discard()

	for stat, ser := range series {
		if err := st.Put(stat, ser); err != nil {
			return err
		}
	}
	_, err = st.Commit(s.builder.Stride, builtAt)
	return err
}

// rebuild builds a fresh generation of a table from the source, commits it
// and persists it. On failure the serving generation is left untouched.
func (s *Scheduler) rebuild(ctx context.Context, w *worker) error {
	table := w.ti.Table()
	log, done := logger.NewOperation(s.log, "Building table", "index_build", logger.Table(table.Name))
	defer done()

	start := s.clock.Now()
	g, err := s.build(ctx, table)
	w.setErr(err)
	if err != nil {
		s.metrics.builds.WithLabelValues(table.Name, errors.ErrorCode(err)).Inc()
		if errors.ErrorCode(err) == errors.ECanceled {
			log.Info("Build canceled")
		} else {
			log.Error("Build failed; previous generation kept", zap.Error(err))
		}
		return err
	}

	s.metrics.builds.WithLabelValues(table.Name, "success").Inc()
	s.metrics.buildDuration.WithLabelValues(table.Name).Observe(s.clock.Since(start).Seconds())
	log.Info("Committed generation",
		logger.Generation(g.ID),
		zap.String("size", humanize.IBytes(uint64(g.Samples()*index.SampleSize))))

	s.save(ctx, g, log)

	if err := s.notifier.Notify(ctx, ranking.Event{
		Kind:       ranking.EventRebuilt,
		Table:      table.Name,
		Generation: g.ID,
		Time:       g.BuiltAt,
	}); err != nil {
		log.Warn("Unable to announce rebuild", zap.Error(err))
	}
	return nil
}

func (s *Scheduler) build(ctx context.Context, table ranking.Table) (*index.Generation, error) {
	st, err := s.catalog.Stage(table.Name)
	if err != nil {
		return nil, err
	}
	defer st.Discard()

	var q ranking.Qualification
	if table.Name == s.qualTable {
		q = s.qual
	}
	if err := s.builder.BuildTable(ctx, st, q); err != nil {
		return nil, err
	}
	return st.Commit(s.builder.Stride, s.clock.Now())
}

// save writes every series of g to disk. The manifest entry is dropped first
// and only written back once every stat was saved, so an interrupted save is
// never trusted at boot.
func (s *Scheduler) save(ctx context.Context, g *index.Generation, log *zap.Logger) {
	if s.store == nil || s.manifest == nil {
		return
	}

	ref, err := g.Acquire()
	if err != nil {
		// Already replaced and retired; a newer generation will be saved.
		return
	}
	defer ref.Release()

	if err := s.manifest.Delete(g.Table); err != nil {
		s.metrics.saveFailures.WithLabelValues(g.Table).Inc()
		log.Warn("Unable to clear manifest; generation not persisted", zap.Error(err))
		return
	}

	series := make(map[string]index.Series)
	samples := make(map[string]int)
	checksums := make(map[string]uint64)
	for _, stat := range g.Stats() {
		ser, _ := g.Series(stat)
		series[stat] = ser
		samples[stat] = len(ser)
		checksums[stat] = ser.Checksum()
	}
	if err := s.store.SaveAll(ctx, g.Table, series); err != nil {
		s.metrics.saveFailures.WithLabelValues(g.Table).Inc()
		log.Warn("Generation served but not persisted", zap.Error(err))
		return
	}

	if err := s.manifest.Put(g.Table, bolt.Record{
		Generation: g.ID,
		Stride:     g.Stride,
		Samples:    samples,
		BuiltAt:    g.BuiltAt,
		SavedAt:    s.clock.Now(),
		Checksums:  checksums,
	}); err != nil {
		s.metrics.saveFailures.WithLabelValues(g.Table).Inc()
		log.Warn("Unable to record persisted generation", zap.Error(err))
	}
}

// work rebuilds its table every time it is triggered. Triggers arriving
// during a build collapse into a single follow-up build.
func (s *Scheduler) work(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case origin := <-w.trigger:
			s.log.Debug("Rebuild triggered", logger.Table(w.ti.Table().Name), zap.String("origin", origin))
			_ = s.rebuild(ctx, w)
		}
	}
}

// tick triggers every table at each firing of the schedule. The next firing
// is recomputed from the clock after every wake.
func (s *Scheduler) tick(ctx context.Context) {
	for {
		now := s.clock.Now()
		next, err := s.schedule.Next(now)
		if err != nil {
			s.log.Error("Daily rebuild disabled", zap.Error(err))
			return
		}
		s.log.Info("Next daily rebuild scheduled", zap.Time("at", next), zap.Duration("in", next.Sub(now)))

		t := s.clock.Timer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			s.triggerAll("schedule")
		}
	}
}

func (s *Scheduler) triggerAll(origin string) {
	s.metrics.triggers.WithLabelValues(origin).Inc()
	for _, w := range s.workers {
		w.trig(origin)
	}
}

// Trigger requests a rebuild of one table. It returns immediately.
func (s *Scheduler) Trigger(table string) error {
	const op = "scheduler.Trigger"

	w, ok := s.workers[table]
	if !ok {
		return ranking.ErrUnknownTable(op, table)
	}
	if err := s.ready(op); err != nil {
		return err
	}
	s.metrics.triggers.WithLabelValues("manual").Inc()
	w.trig("manual")
	return nil
}

// SignalUpdate announces that the source data changed. Once boot finished,
// every table is queued for a rebuild. It returns without waiting for builds.
func (s *Scheduler) SignalUpdate(ctx context.Context) error {
	const op = "scheduler.SignalUpdate"

	if s.ctx.Err() != nil {
		return errors.Errorf(errors.EUnavailable, op, "scheduler is shut down")
	}
	if err := s.notifier.Notify(ctx, ranking.Event{Kind: ranking.EventUpdate, Time: s.clock.Now()}); err != nil {
		s.log.Warn("Unable to broadcast update", zap.Error(err))
	}

	select {
	case <-s.booted:
		s.triggerAll("update")
	default:
		s.log.Info("Update signaled during boot; no rebuild queued")
	}
	return nil
}

func (s *Scheduler) ready(op string) error {
	if s.ctx.Err() != nil {
		return errors.Errorf(errors.EUnavailable, op, "scheduler is shut down")
	}
	select {
	case <-s.booted:
		return nil
	default:
		return errors.Errorf(errors.EUnavailable, op, "index is booting")
	}
}

// Shutdown cancels in-flight builds, waits a bounded time for them to stop
// and releases every generation. Calls after the first are no-ops.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.log.Info("Shutting down")
		s.cancel()

		wg_timeout.WaitGroupTimeout(&s.wg, s.shutdownTimeout, func() {
			s.log.Warn("Builds still running after shutdown timeout; releasing index",
				zap.Duration("timeout", s.shutdownTimeout))
		})

		if err := s.catalog.Close(); err != nil {
			s.log.Error("Unable to release index", zap.Error(err))
		}
		s.setState(StateStopped)
	})
}

// PrometheusCollectors returns the metrics of the scheduler.
func (s *Scheduler) PrometheusCollectors() []prometheus.Collector {
	return s.metrics.collectors()
}

type worker struct {
	ti      *index.TableIndex
	trigger chan string

	mu      sync.Mutex
	lastErr error
}

// trig queues a build unless one is already queued.
func (w *worker) trig(origin string) {
	select {
	case w.trigger <- origin:
	default:
	}
}

func (w *worker) setErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *worker) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}
