package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worktally/internal/blob"
	"worktally/internal/core"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "worktally.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, core.StorageDriver(cfg.Storage.Driver), core.StorageMemory)
}

func TestFileOverridesDefaults(t *testing.T) {
	p := writeFile(t, `
storage:
  driver: sqlite
  path: /var/lib/worktally/store.db
  lock_timeout: 250ms
notify:
  queue_capacity: 16
blob:
  driver: s3
  s3:
    bucket: tally-backups
    endpoint: http://localhost:9000
    path_style: true
log:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, 250*time.Millisecond, cfg.Storage.LockTimeout)
	require.Equal(t, 16, cfg.Notify.QueueCapacity)
	require.True(t, cfg.Storage.OrphanCheck, "unset keys keep their defaults")

	bc := cfg.BlobStore()
	require.Equal(t, blob.DriverS3, bc.Driver)
	require.Equal(t, "tally-backups", bc.S3.Bucket)
	require.True(t, bc.S3.PathStyle)

	be := cfg.Backend(nil)
	require.Equal(t, "/var/lib/worktally/store.db", be.Path)
}

func TestEnvironmentWins(t *testing.T) {
	p := writeFile(t, "storage:\n  driver: xml\n  path: a.xml\n")
	t.Setenv("WORKTALLY_STORAGE_PATH", "b.xml")
	t.Setenv("WORKTALLY_STORAGE_LOCK_TIMEOUT", "2s")
	t.Setenv("WORKTALLY_METRICS_ENABLED", "true")
	t.Setenv("WORKTALLY_NOTIFY_QUEUE_CAPACITY", "8")
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "b.xml", cfg.Storage.Path)
	require.Equal(t, 2*time.Second, cfg.Storage.LockTimeout)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, 8, cfg.Notify.QueueCapacity)
}

func TestMalformedEnvironmentIsReported(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"WORKTALLY_STORAGE_LOCK_TIMEOUT":  "soon",
		"WORKTALLY_BLOB_S3_PATH_STYLE":    "maybe",
		"WORKTALLY_NOTIFY_QUEUE_CAPACITY": "lots",
	}
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	for name := range env {
		require.Contains(t, err.Error(), name)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown storage driver": func(c *Config) { c.Storage.Driver = "floppy" },
		"xml without path":       func(c *Config) { c.Storage.Driver = "xml" },
		"postgres without dsn":   func(c *Config) { c.Storage.Driver = "postgres" },
		"zero lock timeout":      func(c *Config) { c.Storage.LockTimeout = 0 },
		"empty queue":            func(c *Config) { c.Notify.QueueCapacity = 0 },
		"s3 without bucket":      func(c *Config) { c.Blob.Driver = "s3" },
		"fs without root":        func(c *Config) { c.Blob.FSRoot = "" },
		"bad endpoint":           func(c *Config) { c.Blob.S3.Endpoint = "not a url" },
		"bad log level":          func(c *Config) { c.Log.Level = "chatty" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestUnknownKeysAreRejected(t *testing.T) {
	p := writeFile(t, "storage:\n  drvier: xml\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestWriteRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "badger"
	cfg.Storage.Path = "data"
	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	p := writeFile(t, buf.String())
	got, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestLoggerHonoursLevelAndFormat(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	var buf bytes.Buffer
	l := cfg.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown", slog.String("k", "v"))
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}
