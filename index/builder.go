package index

import (
	"context"
	"fmt"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/cheeseformice/ranking/logger"
	"go.uber.org/zap"
)

const (
	// DefaultMaxSamples bounds the samples a single series may allocate.
	DefaultMaxSamples = 1 << 26

	// DefaultCheckInterval is the number of samples taken between two
	// cancellation checks.
	DefaultCheckInterval = 4096
)

// Builder samples source streams into series.
type Builder struct {
	Source ranking.Source
	Stride int
	Policy ranking.TruncationPolicy

	// MaxSamples is the allocation ceiling of one series. A build whose row
	// count would need more fails with an allocation failure.
	MaxSamples int64

	// CheckInterval is how many samples are taken between cancellation checks.
	CheckInterval int

	Logger *zap.Logger
}

// NewBuilder returns a builder reading from src with the default stride,
// truncation policy and limits.
func NewBuilder(src ranking.Source) *Builder {
	return &Builder{
		Source:        src,
		Stride:        ranking.DefaultStride,
		Policy:        ranking.TruncateNullOrZero,
		MaxSamples:    DefaultMaxSamples,
		CheckInterval: DefaultCheckInterval,
		Logger:        zap.NewNop(),
	}
}

// BuildTable counts the eligible rows of the staged table once and builds
// every stat into the staging. Cancellation is checked after each stat. On
// error the staging holds a partial set and must be discarded.
func (b *Builder) BuildTable(ctx context.Context, st *Staging, q ranking.Qualification) error {
	table := st.Table()

	count, err := b.Source.Count(ctx, table.Name, q)
	if err != nil {
		return errors.Wrap(err, sourceCode(err), "index.BuildTable", fmt.Sprintf("count rows of %s", table.Name))
	}
	b.Logger.Debug("Counted eligible rows", logger.Table(table.Name), zap.Int64("rows", count))

	for _, stat := range table.Stats {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ECanceled, "index.BuildTable", "build canceled")
		}

		series, err := b.Build(ctx, table.Name, stat, count, q)
		if err != nil {
			return err
		}
		if err := st.Put(stat, series); err != nil {
			return err
		}
		b.Logger.Debug("Built series",
			logger.Table(table.Name),
			logger.Stat(stat),
			zap.Int("samples", len(series)))
	}
	return nil
}

// Build samples the descending stream of stat, keeping every Stride-th value
// starting with the first. Rows between two samples are skipped without being
// read. The series ends early at the first sample the truncation policy
// rejects, and never holds more than rowCount/Stride samples.
func (b *Builder) Build(ctx context.Context, table, stat string, rowCount int64, q ranking.Qualification) (Series, error) {
	const op = "index.Build"

	stride := b.Stride
	if stride <= 0 {
		return nil, errors.Errorf(errors.EInvalid, op, "invalid stride %d", stride)
	}
	if rowCount < 0 {
		rowCount = 0
	}

	capacity := rowCount / int64(stride)
	if b.MaxSamples > 0 && capacity > b.MaxSamples {
		return nil, errors.Errorf(errors.EAllocationFailure, op,
			"%s.%s needs %d samples, above the limit of %d", table, stat, capacity, b.MaxSamples)
	}
	if capacity == 0 {
		return Series{}, nil
	}

	cur, err := b.Source.Stream(ctx, table, stat, q)
	if err != nil {
		return nil, errors.Wrap(err, sourceCode(err), op, fmt.Sprintf("stream %s.%s", table, stat))
	}
	defer cur.Close()

	checkEvery := b.CheckInterval
	if checkEvery <= 0 {
		checkEvery = DefaultCheckInterval
	}

	series := make(Series, 0, capacity)
sampling:
	for int64(len(series)) < capacity {
		if len(series)%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.ECanceled, op, "build canceled")
			}
		}

		if !cur.Next() {
			break
		}
		v, valid, err := cur.Value()
		if err != nil {
			return nil, errors.Wrap(err, errors.ESourceUnreachable, op, fmt.Sprintf("read %s.%s", table, stat))
		}
		if b.Policy.Truncates(v, valid) {
			break
		}
		if n := len(series); n > 0 && v > series[n-1] {
			return nil, errors.Errorf(errors.EInternal, op,
				"%s.%s is not sorted descending at sample %d", table, stat, n)
		}
		series = append(series, v)

		for i := 1; i < stride; i++ {
			if !cur.Next() {
				break sampling
			}
		}
	}

	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, sourceCode(err), op, fmt.Sprintf("stream %s.%s", table, stat))
	}
	return series, nil
}

// sourceCode classifies a source failure, keeping codes the source already set.
func sourceCode(err error) string {
	switch code := errors.ErrorCode(err); code {
	case errors.EInternal:
		return errors.ESourceUnreachable
	default:
		return code
	}
}
