// Package ranking serves approximate leaderboard positions for ranked stat
// columns. Each stat of a table is reduced to a sampled, descending series
// holding every Stride-th value of the source; queries read those series
// without locks while a scheduler rebuilds them in the background.
package ranking

import (
	"regexp"
)

// DefaultStride is the default sampling interval. Every DefaultStride-th
// source row is retained, so ranks are exact to within DefaultStride-1.
const DefaultStride = 39

// DefaultStats are the ranked stat columns shared by every default table.
var DefaultStats = []string{
	"round_played",
	"cheese_gathered",
	"first",
	"bootcamp",
	"score_stats",
	"score_shaman",
	"score_survivor",
	"score_racing",
	"score_defilante",
	"score_overall",
}

// DefaultQualificationTable is the table a qualification filter applies to
// unless configured otherwise.
const DefaultQualificationTable = "player"

// Table describes one ranked source table and the stat columns indexed for it.
type Table struct {
	Name  string   `toml:"name"`
	Stats []string `toml:"stats"`
}

// HasStat reports whether stat is indexed for the table.
func (t Table) HasStat(stat string) bool {
	for _, s := range t.Stats {
		if s == stat {
			return true
		}
	}
	return false
}

// DefaultTables returns the player and tribe tables with the default stats.
func DefaultTables() []Table {
	return []Table{
		{Name: "player", Stats: append([]string(nil), DefaultStats...)},
		{Name: "tribe_stats", Stats: append([]string(nil), DefaultStats...)},
	}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidIdentifier reports whether name is safe to use as a table, column or
// file name component.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// TruncationPolicy decides which sampled values end a series.
type TruncationPolicy int

const (
	// TruncateNullOrZero ends a series at the first sampled null or zero value.
	TruncateNullOrZero TruncationPolicy = iota
	// TruncateNull ends a series only at a sampled null; zero is a valid score.
	TruncateNull
)

// Truncates reports whether a sampled value ends the series.
func (p TruncationPolicy) Truncates(v int32, valid bool) bool {
	if !valid {
		return true
	}
	return p == TruncateNullOrZero && v == 0
}

func (p TruncationPolicy) String() string {
	switch p {
	case TruncateNull:
		return "null"
	default:
		return "null-or-zero"
	}
}

// RankResult answers "what position does this value hold". When the stat
// has no samples Rank and Value are both zero and Value is not a sample.
type RankResult struct {
	Outdated bool  `json:"outdated"`
	Rank     int64 `json:"rank"`
	Value    int32 `json:"value"`
}

// PageResult answers "what value does this position hold".
type PageResult struct {
	Rank     int64 `json:"rank"`
	Value    int32 `json:"value"`
	Outdated bool  `json:"outdated"`
}

// QueryService answers rank and page lookups against the serving index.
type QueryService interface {
	// GetRank returns the approximate rank of value in the stat's ranking
	// and the sampled value that rank was derived from.
	GetRank(table, stat string, value int64) (RankResult, error)

	// GetPage returns the sampled value at startRank rounded down to the
	// nearest sample boundary.
	GetPage(table, stat string, startRank int64) (PageResult, error)
}
