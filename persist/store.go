// Package persist caches committed series on disk as flat files of
// little-endian 4-byte signed integers, one file per table and stat.
package persist

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cheeseformice/ranking/index"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/cheeseformice/ranking/logger"
	"github.com/cheeseformice/ranking/pkg/file"
	"github.com/cheeseformice/ranking/pkg/mmap"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of files read or written at once.
const DefaultConcurrency = 4

// Store saves and loads series files.
type Store struct {
	Template    Template
	Concurrency int
	Logger      *zap.Logger

	metrics *storeMetrics
}

// NewStore returns a store writing to paths derived from tmpl.
func NewStore(tmpl Template) *Store {
	return &Store{
		Template:    tmpl,
		Concurrency: DefaultConcurrency,
		Logger:      zap.NewNop(),
		metrics:     newStoreMetrics(),
	}
}

// Save replaces the file of table and stat with the samples of s. The file is
// written to a temporary path first so a concurrent or crashed save never
// leaves a truncated series behind.
func (s *Store) Save(table, stat string, series index.Series) error {
	const op = "persist.Save"

	path, err := s.Template.Path(table, stat)
	if err != nil {
		return err
	}

	err = file.WriteAtomic(path, 0644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := binary.Write(bw, binary.LittleEndian, []int32(series)); err != nil {
			return err
		}
		return bw.Flush()
	})
	s.metrics.observe("save", series.Bytes(), err)
	if err != nil {
		return errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("save %s.%s", table, stat))
	}

	s.Logger.Debug("Saved series",
		logger.Table(table),
		logger.Stat(stat),
		zap.String("path", path),
		zap.String("size", humanize.IBytes(uint64(series.Bytes()))))
	return nil
}

// Load reads the file of table and stat. A missing, unreadable or malformed
// file is a persistence failure; the caller is expected to rebuild instead.
func (s *Store) Load(table, stat string) (index.Series, error) {
	series, err := s.load(table, stat)
	s.metrics.observe("load", series.Bytes(), err)
	return series, err
}

func (s *Store) load(table, stat string) (index.Series, error) {
	const op = "persist.Load"

	path, err := s.Template.Path(table, stat)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("no index file for %s.%s", table, stat))
	} else if err != nil {
		return nil, errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("map %s", path))
	}
	defer mmap.Unmap(data)

	if len(data)%index.SampleSize != 0 {
		return nil, errors.Errorf(errors.EPersistenceFailure, op,
			"index file %s has size %d, not a multiple of %d", path, len(data), index.SampleSize)
	}

	series := make(index.Series, len(data)/index.SampleSize)
	for i := range series {
		series[i] = int32(binary.LittleEndian.Uint32(data[i*index.SampleSize:]))
	}
	if err := series.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("corrupt index file %s", path))
	}
	return series, nil
}

// SaveAll saves every series of a table concurrently. A failing stat does not
// stop the others; every failure is returned combined.
func (s *Store) SaveAll(ctx context.Context, table string, series map[string]index.Series) error {
	log, done := logger.NewOperation(s.Logger, "Saving table", "persist_save", logger.Table(table))
	defer done()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(s.concurrency())
	for stat, ser := range series {
		stat, ser := stat, ser
		g.Go(func() error {
			var err error
			if err = ctx.Err(); err == nil {
				err = s.Save(table, stat, ser)
			}
			if err != nil {
				log.Warn("Failed to save series", logger.Stat(stat), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// LoadAll loads every stat of a table concurrently. The first failure cancels
// the remaining loads since the table will be rebuilt anyway.
func (s *Store) LoadAll(ctx context.Context, table string, stats []string) (map[string]index.Series, error) {
	log, done := logger.NewOperation(s.Logger, "Loading table", "persist_load", logger.Table(table))
	defer done()

	var mu sync.Mutex
	loaded := make(map[string]index.Series, len(stats))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for _, stat := range stats {
		stat := stat
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, errors.ECanceled, "persist.LoadAll", "load canceled")
			}
			series, err := s.Load(table, stat)
			if err != nil {
				return err
			}
			mu.Lock()
			loaded[stat] = series
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Info("Index files unusable", zap.Error(err))
		return nil, err
	}

	var n int64
	for _, series := range loaded {
		n += series.Bytes()
	}
	log.Info("Loaded index files", zap.String("size", humanize.IBytes(uint64(n))))
	return loaded, nil
}

// PrometheusCollectors returns the metrics of the store.
func (s *Store) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{s.metrics.ops, s.metrics.bytes}
}

func (s *Store) concurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}
