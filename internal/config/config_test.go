package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "knolsched.db", cfg.DBPath)
	assert.Equal(t, "repos", cfg.ReposDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "Local", cfg.Timezone)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knolsched.yaml")
	yaml := "db_path: /var/lib/knolsched.db\nworkers: 2\ntimezone: Europe/Dublin\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("KNOLSCHED_WORKERS", "8")
	t.Setenv("KNOLSCHED_MAX_RETRIES", "5")

	cfg, err := Load(newFlags(t, "--config", path, "--max-retries", "1"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/knolsched.db", cfg.DBPath, "file overrides defaults")
	assert.Equal(t, 8, cfg.Workers, "environment overrides the file")
	assert.Equal(t, 1, cfg.MaxRetries, "explicit flags override the environment")
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Dublin", loc.String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"log level", []string{"--log-level", "loud"}},
		{"workers", []string{"--workers", "0"}},
		{"timezone", []string{"--timezone", "Mars/Olympus"}},
		{"addr", []string{"--addr", "not an address"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tc.args...))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}
