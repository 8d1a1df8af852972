package ranking

import (
	"context"
)

// Condition restricts eligible rows to those whose Field is at least Minimum.
type Condition struct {
	Field   string
	Minimum int64
}

// Qualification is a conjunction of conditions narrowing the rows of a table
// that take part in a ranking. An empty Qualification accepts every row.
type Qualification []Condition

// Source supplies the rows an index is built from.
type Source interface {
	// Count returns the number of eligible rows in table.
	Count(ctx context.Context, table string, q Qualification) (int64, error)

	// Stream returns the eligible values of stat in table, sorted descending.
	Stream(ctx context.Context, table, stat string, q Qualification) (Cursor, error)
}

// Cursor walks a descending stream of nullable values. Next must be called
// before each Value; rows may be skipped by calling Next without Value.
type Cursor interface {
	Next() bool
	Value() (v int32, valid bool, err error)
	Err() error
	Close() error
}
