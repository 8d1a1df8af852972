package launcher_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/cmd/rankingd/launcher"
	"github.com/cheeseformice/ranking/scheduler"
	"github.com/cheeseformice/ranking/source"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newSourceDB writes a sqlite database holding ten players with first
// counts 100, 90, ..., 10.
func newSourceDB(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "source.db")
	ctx := context.Background()
	src, err := source.Open(ctx, source.DriverSQLite, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer src.Close()

	src.DB.MustExecContext(ctx, "CREATE TABLE `player` (`id` INTEGER PRIMARY KEY, `first` INTEGER)")
	for i := 1; i <= 10; i++ {
		src.DB.MustExecContext(ctx, "INSERT INTO `player` (`id`, `first`) VALUES (?, ?)", i, 110-i*10)
	}
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func get(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func RunTestLauncherOrFail(t *testing.T, ctx context.Context, args ...string) *launcher.Launcher {
	t.Helper()

	dir := t.TempDir()
	dbPath := newSourceDB(t, dir)
	tablesPath := filepath.Join(dir, "tables.toml")
	writeFile(t, tablesPath, "[[table]]\nname = \"player\"\nstats = [\"first\"]\n")

	l := launcher.NewLauncher()
	l.Stdout = io.Discard
	args = append([]string{
		"--db-driver", source.DriverSQLite,
		"--db-dsn", dbPath,
		"--tables-config", tablesPath,
		"--index-path-template", filepath.Join(dir, "index", "{table}_{stat}.bin"),
		"--manifest-path", filepath.Join(dir, "manifest.bolt"),
		"--stride", "2",
		"--http-bind-address", "127.0.0.1:0",
		"--log-level", "error",
	}, args...)
	require.NoError(t, l.Run(ctx, args...))
	return l
}

func TestLauncher_Serve(t *testing.T) {
	ctx := context.Background()
	l := RunTestLauncherOrFail(t, ctx)

	require.Eventually(t, func() bool {
		return get(t, l.URL()+"/ready", nil) == http.StatusOK
	}, 10*time.Second, 10*time.Millisecond)

	var rank ranking.RankResult
	require.Equal(t, http.StatusOK, get(t, l.URL()+"/api/v1/rank/player/first?value=65", &rank))
	require.Equal(t, ranking.RankResult{Rank: 2, Value: 80}, rank)

	var page ranking.PageResult
	require.Equal(t, http.StatusOK, get(t, l.URL()+"/api/v1/page/player/first?start=9", &page))
	require.Equal(t, ranking.PageResult{Rank: 8, Value: 20}, page)

	require.Equal(t, http.StatusNotFound, get(t, l.URL()+"/api/v1/page/player/first?start=10", nil))
	require.Equal(t, http.StatusNotFound, get(t, l.URL()+"/api/v1/rank/player/cheese_gathered?value=1", nil))

	resp, err := http.Post(l.URL()+"/api/v1/update", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Equal(t, http.StatusOK, get(t, l.URL()+"/metrics", nil))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	l.Shutdown(shutdownCtx)
	require.Equal(t, scheduler.StateStopped, l.Scheduler().State())
}

func TestLauncher_PersistsIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := RunTestLauncherOrFail(t, ctx, "--index-path-template", filepath.Join(dir, "{table}_{stat}.bin"))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		l.Shutdown(shutdownCtx)
	}()

	path := filepath.Join(dir, "player_first.bin")
	require.Eventually(t, func() bool {
		fi, err := os.Stat(path)
		return err == nil && fi.Size() == 5*4
	}, 10*time.Second, 10*time.Millisecond, fmt.Sprintf("%s not written", path))
}

func shutdown(t *testing.T, l *launcher.Launcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.Shutdown(ctx)
}

func TestLauncher_RestoresWithSourceDown(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	persisted := []string{
		"--index-path-template", filepath.Join(dir, "{table}_{stat}.bin"),
		"--manifest-path", filepath.Join(dir, "manifest.bolt"),
	}

	l := RunTestLauncherOrFail(t, ctx, persisted...)
	require.Eventually(t, func() bool {
		return get(t, l.URL()+"/ready", nil) == http.StatusOK
	}, 10*time.Second, 10*time.Millisecond)
	shutdown(t, l)

	unreachable := "file:" + filepath.Join(dir, "gone", "source.db") + "?mode=ro"
	l = RunTestLauncherOrFail(t, ctx, append(persisted, "--db-dsn", unreachable)...)
	defer shutdown(t, l)

	require.Eventually(t, func() bool {
		return get(t, l.URL()+"/ready", nil) == http.StatusOK
	}, 10*time.Second, 10*time.Millisecond)
	require.Equal(t, scheduler.StateServing, l.Scheduler().State())

	var rank ranking.RankResult
	require.Equal(t, http.StatusOK, get(t, l.URL()+"/api/v1/rank/player/first?value=65", &rank))
	require.Equal(t, ranking.RankResult{Rank: 2, Value: 80}, rank)
}

func TestLauncher_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "template without stat", args: []string{"--index-path-template", filepath.Join(t.TempDir(), "{table}.bin")}},
		{name: "zero stride", args: []string{"--stride", "0"}},
		{name: "bad rebuild time", args: []string{"--rebuild-at", "25:00:00"}},
		{name: "unsupported driver", args: []string{"--db-driver", "postgres"}},
		{name: "missing qualification file", args: []string{"--qualification-file", filepath.Join(t.TempDir(), "nope.cfg")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := launcher.NewLauncher()
			l.Stdout = io.Discard
			args := append([]string{
				"--db-driver", source.DriverSQLite,
				"--db-dsn", filepath.Join(t.TempDir(), "source.db"),
				"--manifest-path", filepath.Join(t.TempDir(), "manifest.bolt"),
				"--http-bind-address", "127.0.0.1:0",
			}, tt.args...)
			require.Error(t, l.Run(context.Background(), args...))
		})
	}
}
