package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("HG_TEST_USER", "user-42")
	path := writeFile(t, "config.yaml", `
user_id: ${HG_TEST_USER}
timezone: America/New_York
remote:
  driver: postgres
  dsn: postgres://alice@db.example.com/habits?sslmode=require
cache:
  driver: file
  path: envelope
sync:
  reconcile_interval: 1m
  drain_interval: 5s
logging:
  debug: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user-42", cfg.UserID)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, DriverPostgres, cfg.Remote.Driver)
	assert.Equal(t, DriverFile, cfg.Cache.Driver)
	assert.Equal(t, time.Minute, cfg.Sync.ReconcileInterval)
	assert.Equal(t, 5*time.Second, cfg.Sync.DrainInterval)
	assert.Equal(t, 10*time.Second, cfg.Sync.ProbeInterval, "omitted keys keep defaults")
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "envelope"), cfg.ResolvePath(cfg.Cache.Path))
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
user_id = "u1"

[remote]
driver = "sqlite"
path = "/tmp/remote.db"

[sync]
probe_interval = "0s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, "Local", cfg.Timezone)
	assert.Equal(t, "/tmp/remote.db", cfg.ResolvePath(cfg.Remote.Path))
	assert.Equal(t, DriverSQLite, cfg.Cache.Driver)
	assert.Zero(t, cfg.Sync.ProbeInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user", "timezone: UTC\n"},
		{"bad timezone", "user_id: u\ntimezone: Mars/Olympus\n"},
		{"bad remote driver", "user_id: u\nremote:\n  driver: mysql\n"},
		{"bad cache driver", "user_id: u\ncache:\n  driver: redis\n"},
		{"bad duration", "user_id: u\nsync:\n  drain_interval: soon\n"},
		{"zero reconcile", "user_id: u\nsync:\n  reconcile_interval: 0s\n"},
		{"password in dsn", "user_id: u\nremote:\n  driver: postgres\n  dsn: postgres://a:secret@h/db\n"},
		{"malformed yaml", "user_id: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "nested", name)

			cfg := Default(dir)
			cfg.UserID = "u-round"
			cfg.Timezone = "UTC"
			cfg.Sync.DrainInterval = 42 * time.Second
			cfg.Metrics.Addr = "127.0.0.1:9464"
			require.NoError(t, Save(path, cfg))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "u-round", got.UserID)
			assert.Equal(t, 42*time.Second, got.Sync.DrainInterval)
			assert.Equal(t, cfg.Sync.ReconcileInterval, got.Sync.ReconcileInterval)
			assert.Equal(t, "127.0.0.1:9464", got.Metrics.Addr)
			assert.Equal(t, filepath.Dir(path), got.Dir)
		})
	}
}

func TestRemoteDSNPrecedence(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Remote.DSN = "postgres://file@h/db"
	t.Setenv("HABITGARDEN_REMOTE_DSN", "postgres://env@h/db")

	dsn, err := cfg.RemoteDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://file@h/db", dsn)

	cfg.Remote.DSN = ""
	dsn, err = cfg.RemoteDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@h/db", dsn)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".config/x"), ExpandHome("~/.config/x"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}
