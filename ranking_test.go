package ranking_test

import (
	"testing"

	"github.com/cheeseformice/ranking"
	"github.com/stretchr/testify/require"
)

func TestTruncationPolicy(t *testing.T) {
	tests := []struct {
		policy ranking.TruncationPolicy
		v      int32
		valid  bool
		want   bool
	}{
		{ranking.TruncateNullOrZero, 0, false, true},
		{ranking.TruncateNullOrZero, 0, true, true},
		{ranking.TruncateNullOrZero, 7, true, false},
		{ranking.TruncateNull, 0, false, true},
		{ranking.TruncateNull, 0, true, false},
		{ranking.TruncateNull, -3, true, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.policy.Truncates(tt.v, tt.valid), "%s(%d, %v)", tt.policy, tt.v, tt.valid)
	}
}

func TestValidIdentifier(t *testing.T) {
	for _, ok := range []string{"player", "score_overall", "_x", "T1"} {
		require.True(t, ranking.ValidIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "1abc", "a-b", "a b", "x;DROP", "../etc", "`x`"} {
		require.False(t, ranking.ValidIdentifier(bad), bad)
	}
}

func TestDefaultTables(t *testing.T) {
	tables := ranking.DefaultTables()
	require.Len(t, tables, 2)
	require.Equal(t, "player", tables[0].Name)
	require.True(t, tables[1].HasStat("score_overall"))
	require.False(t, tables[1].HasStat("experience"))

	// Tables must not share the backing array of DefaultStats.
	tables[0].Stats[0] = "mutated"
	require.Equal(t, "round_played", ranking.DefaultStats[0])
}
