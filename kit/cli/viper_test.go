package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type testOpts struct {
	dsn      string
	stride   int
	samples  int64
	truncate bool
	grace    time.Duration
	tables   []string
	level    zapcore.Level
}

func (o *testOpts) program(run func() error) *Program {
	return &Program{
		Run:  run,
		Name: "testd",
		Opts: []Opt{
			NewOpt(&o.dsn, "db-dsn", "file::memory:", "source dsn"),
			NewOpt(&o.stride, "stride", 39, "sampling stride"),
			NewOpt(&o.samples, "max-samples", int64(1<<20), "samples ceiling"),
			NewOpt(&o.truncate, "truncate-zero", true, "truncate at zero"),
			NewOpt(&o.grace, "retire-grace", 5*time.Second, "retire grace"),
			NewOpt(&o.tables, "tables", []string{"player"}, "tables"),
			NewOpt(&o.level, "log-level", zapcore.InfoLevel, "log level"),
		},
	}
}

func writeTomlConfig(t *testing.T, dir string, config map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, toml.NewEncoder(f).Encode(config))
	return path
}

func TestNewCommand_Defaults(t *testing.T) {
	var o testOpts
	ran := false
	cmd, err := NewCommand(viper.New(), o.program(func() error {
		ran = true
		return nil
	}))
	require.NoError(t, err)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	require.True(t, ran)
	require.Equal(t, "file::memory:", o.dsn)
	require.Equal(t, 39, o.stride)
	require.Equal(t, int64(1<<20), o.samples)
	require.True(t, o.truncate)
	require.Equal(t, 5*time.Second, o.grace)
	require.Equal(t, []string{"player"}, o.tables)
	require.Equal(t, zapcore.InfoLevel, o.level)
}

func TestNewCommand_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeTomlConfig(t, dir, map[string]interface{}{
		"db-dsn":        "from-config",
		"stride":        10,
		"truncate-zero": false,
		"log-level":     "warn",
	})
	t.Setenv("TESTD_CONFIG_PATH", dir)
	t.Setenv("TESTD_STRIDE", "20")
	t.Setenv("TESTD_RETIRE_GRACE", "1m")

	var o testOpts
	cmd, err := NewCommand(viper.New(), o.program(func() error { return nil }))
	require.NoError(t, err)
	cmd.SetArgs([]string{"--retire-grace=2s", "--log-level=debug"})
	require.NoError(t, cmd.Execute())

	require.Equal(t, "from-config", o.dsn)
	require.Equal(t, 20, o.stride, "env overrides config")
	require.False(t, o.truncate)
	require.Equal(t, 2*time.Second, o.grace, "flag overrides env")
	require.Equal(t, zapcore.DebugLevel, o.level)
}

func TestNewCommand_ConfigFile(t *testing.T) {
	path := writeTomlConfig(t, t.TempDir(), map[string]interface{}{
		"max-samples": 12,
		"log-level":   "error",
	})
	t.Setenv("TESTD_CONFIG_PATH", path)

	var o testOpts
	cmd, err := NewCommand(viper.New(), o.program(func() error { return nil }))
	require.NoError(t, err)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	require.Equal(t, int64(12), o.samples)
	require.Equal(t, zapcore.ErrorLevel, o.level)
}

func TestNewCommand_MissingConfigFile(t *testing.T) {
	t.Setenv("TESTD_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.toml"))

	var o testOpts
	_, err := NewCommand(viper.New(), o.program(func() error { return nil }))
	require.Error(t, err)
}

func TestNewCommand_InvalidLevel(t *testing.T) {
	t.Setenv("TESTD_LOG_LEVEL", "loud")

	var o testOpts
	_, err := NewCommand(viper.New(), o.program(func() error { return nil }))
	require.Error(t, err)
}

func TestNewCommand_Required(t *testing.T) {
	var dsn string
	program := &Program{
		Run:  func() error { return nil },
		Name: "testd",
		Opts: []Opt{{DestP: &dsn, Flag: "db-dsn", Desc: "source dsn", Required: true}},
	}

	cmd, err := NewCommand(viper.New(), program)
	require.NoError(t, err)
	cmd.SetArgs([]string{})
	require.Error(t, cmd.Execute())

	t.Setenv("TESTD_DB_DSN", "from-env")
	cmd, err = NewCommand(viper.New(), program)
	require.NoError(t, err)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "from-env", dsn)
}

func TestBindOptions_UnknownType(t *testing.T) {
	var f float32
	program := &Program{
		Run:  func() error { return nil },
		Name: "testd",
		Opts: []Opt{NewOpt(&f, "ratio", float32(1), "ratio")},
	}
	_, err := NewCommand(viper.New(), program)
	require.Error(t, err)
}
