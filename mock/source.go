package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cheeseformice/ranking"
)

var _ ranking.Source = (*Source)(nil)

// Source is an in-memory ranking.Source. Rows hold descending values per
// table and stat; a nil entry is a NULL. CountF and StreamF override the
// default behaviour when set.
type Source struct {
	mu   sync.Mutex
	rows map[string]map[string][]*int32

	CountF  func(ctx context.Context, table string, q ranking.Qualification) (int64, error)
	StreamF func(ctx context.Context, table, stat string, q ranking.Qualification) (ranking.Cursor, error)

	// Reads counts the values materialized through Cursor.Value.
	Reads atomic.Int64
	// Streams counts the streams opened.
	Streams atomic.Int64
}

// NewSource returns an empty Source.
func NewSource() *Source {
	return &Source{rows: make(map[string]map[string][]*int32)}
}

// Set stores non-null values for table and stat.
func (s *Source) Set(table, stat string, values ...int32) {
	rows := make([]*int32, len(values))
	for i := range values {
		v := values[i]
		rows[i] = &v
	}
	s.SetNullable(table, stat, rows)
}

// SetNullable stores values for table and stat; nil entries are NULL.
func (s *Source) SetNullable(table, stat string, values []*int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[table] == nil {
		s.rows[table] = make(map[string][]*int32)
	}
	s.rows[table][stat] = values
}

// Count returns the longest stat column of table.
func (s *Source) Count(ctx context.Context, table string, q ranking.Qualification) (int64, error) {
	if s.CountF != nil {
		return s.CountF(ctx, table, q)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, rows := range s.rows[table] {
		if len(rows) > n {
			n = len(rows)
		}
	}
	return int64(n), nil
}

// Stream returns a cursor over the stored values of table and stat.
func (s *Source) Stream(ctx context.Context, table, stat string, q ranking.Qualification) (ranking.Cursor, error) {
	s.Streams.Add(1)
	if s.StreamF != nil {
		return s.StreamF(ctx, table, stat, q)
	}
	s.mu.Lock()
	rows := s.rows[table][stat]
	s.mu.Unlock()
	return &Cursor{Rows: rows, FailAt: -1, reads: &s.Reads}, nil
}

// Int32 returns a pointer to v.
func Int32(v int32) *int32 { return &v }

// Cursor walks Rows. When FailAt is non-negative, Next fails once FailAt rows
// have been walked and Err returns Failure.
type Cursor struct {
	Rows    []*int32
	FailAt  int
	Failure error

	pos    int
	err    error
	closed bool
	reads  *atomic.Int64
}

// NewCursor returns a cursor over rows that never fails.
func NewCursor(rows []*int32) *Cursor {
	return &Cursor{Rows: rows, FailAt: -1}
}

func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.FailAt >= 0 && c.pos >= c.FailAt {
		c.err = c.Failure
		return false
	}
	if c.pos >= len(c.Rows) {
		return false
	}
	c.pos++
	return true
}

func (c *Cursor) Value() (int32, bool, error) {
	if c.reads != nil {
		c.reads.Add(1)
	}
	v := c.Rows[c.pos-1]
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}

func (c *Cursor) Err() error { return c.err }

func (c *Cursor) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Cursor) Closed() bool { return c.closed }
