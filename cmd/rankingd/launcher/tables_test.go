package launcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cheeseformice/ranking"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadTables(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		tables, err := loadTables("")
		require.NoError(t, err)
		if diff := cmp.Diff(ranking.DefaultTables(), tables); diff != "" {
			t.Fatalf("unexpected tables (-want +got):\n%s", diff)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tables.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[table]]
name = "player"
stats = ["first", "bootcamp"]

[[table]]
name = "tribe_stats"
`), 0600))

		tables, err := loadTables(path)
		require.NoError(t, err)
		want := []ranking.Table{
			{Name: "player", Stats: []string{"first", "bootcamp"}},
			{Name: "tribe_stats", Stats: ranking.DefaultStats},
		}
		if diff := cmp.Diff(want, tables); diff != "" {
			t.Fatalf("unexpected tables (-want +got):\n%s", diff)
		}
	})

	for name, content := range map[string]string{
		"unknown key": "[[table]]\nname = \"player\"\ncolumns = [\"first\"]\n",
		"no tables":   "# nothing\n",
		"malformed":   "[[table]\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tables.toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0600))
			_, err := loadTables(path)
			require.Error(t, err)
		})
	}
}
