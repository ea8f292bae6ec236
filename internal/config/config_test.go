package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
)

// isolate runs the test from an empty directory with a fake home so that no
// stray config or .env file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("PROFSYNC_REMOTE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "backups"), cfg.Backup.Dir)
	assert.Equal(t, DriverMemory, cfg.Remote.Driver)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.PullOnReconnect)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.PollInterval)
	assert.True(t, cfg.Connectivity.Initial)
	assert.Equal(t, time.Duration(0), cfg.Backup.Interval)
	assert.Equal(t, 7, cfg.Backup.Retention)
	assert.Equal(t, "127.0.0.1:8090", cfg.API.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "development", cfg.Telemetry.Environment)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PROFSYNC_REMOTE_DRIVER", "memory")
	t.Setenv("PROFSYNC_USER_ID", "teacher-1")
	t.Setenv("PROFSYNC_SYNC_INTERVAL", "10s")
	t.Setenv("PROFSYNC_SYNC_BATCH_SIZE", "20")
	t.Setenv("PROFSYNC_CONNECTIVITY_SIGNAL_FILE", "/tmp/net")
	t.Setenv("PROFSYNC_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", cfg.UserID)
	assert.Equal(t, 10*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, "/tmp/net", cfg.Connectivity.SignalFile)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "profsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/profsync
remote:
  driver: rest
  url: https://school.example.co
sync:
  interval: 1m
backup:
  interval: 1h
  retention: 3
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PROFSYNC_REMOTE_API_KEY=anon-key\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PROFSYNC_REMOTE_API_KEY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/profsync", cfg.DataDir)
	assert.Equal(t, "/var/lib/profsync/backups", cfg.Backup.Dir)
	assert.Equal(t, "https://school.example.co", cfg.Remote.URL)
	assert.Equal(t, "anon-key", cfg.Remote.APIKey)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, time.Hour, cfg.Backup.Interval)
	assert.Equal(t, 3, cfg.Backup.Retention)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)

	assert.NoError(t, loadDotEnv(filepath.Join(dir, "missing.env")))

	bad := filepath.Join(dir, "bad.env")
	require.NoError(t, os.WriteFile(bad, []byte("BAD-KEY=1\n"), 0o600))
	err := loadDotEnv(bad)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))

	// An unreadable .env is reported but does not stop loading.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BAD-KEY=1\n"), 0o600))
	t.Setenv("PROFSYNC_REMOTE_DRIVER", "memory")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Remote.Driver)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"rest without url", map[string]string{"PROFSYNC_REMOTE_DRIVER": "rest"}},
		{"rest with bad url", map[string]string{
			"PROFSYNC_REMOTE_URL": "not a url", "PROFSYNC_REMOTE_API_KEY": "k",
		}},
		{"postgres without dsn", map[string]string{"PROFSYNC_REMOTE_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"PROFSYNC_REMOTE_DRIVER": "mongo"}},
		{"zero batch", map[string]string{"PROFSYNC_REMOTE_DRIVER": "memory", "PROFSYNC_SYNC_BATCH_SIZE": "0"}},
		{"bad level", map[string]string{"PROFSYNC_REMOTE_DRIVER": "memory", "PROFSYNC_LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfig), err.Error())
		})
	}
}
