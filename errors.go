package ranking

import (
	"fmt"

	"github.com/cheeseformice/ranking/kit/platform/errors"
)

// ErrUnknownTable is returned for a table that is not indexed.
func ErrUnknownTable(op, table string) error {
	return &errors.Error{
		Code: errors.EUnknownTable,
		Op:   op,
		Msg:  fmt.Sprintf("unknown table %q", table),
	}
}

// ErrUnknownStat is returned for a stat that is not indexed for its table.
func ErrUnknownStat(op, table, stat string) error {
	return &errors.Error{
		Code: errors.EUnknownStat,
		Op:   op,
		Msg:  fmt.Sprintf("unknown stat %q for table %q", stat, table),
	}
}

// ErrUnavailable is returned while a table has never completed a generation.
func ErrUnavailable(op, table string) error {
	return &errors.Error{
		Code: errors.EUnavailable,
		Op:   op,
		Msg:  fmt.Sprintf("index for table %q is currently unavailable", table),
	}
}

// ErrPageTooFar is returned when a rank lies beyond the indexed range.
func ErrPageTooFar(op string, rank int64, indexed int) error {
	return &errors.Error{
		Code: errors.EPageTooFar,
		Op:   op,
		Msg:  fmt.Sprintf("page too far: rank %d is beyond the %d indexed samples", rank, indexed),
	}
}
