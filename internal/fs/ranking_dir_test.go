package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankingDir(t *testing.T) {
	dir, err := RankingDir()
	require.NoError(t, err)
	require.Equal(t, ".ranking", filepath.Base(dir))
	require.True(t, filepath.IsAbs(dir))
}
