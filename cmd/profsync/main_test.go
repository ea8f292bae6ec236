package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/config"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/memory"
)

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version)
}

// TestBuildProbeNeverDialsRemote verifies the default configuration decides
// connectivity without connecting to the remote store.
func TestBuildProbeNeverDialsRemote(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			conn.Close()
		}
	}()

	cfg := &config.Config{Remote: config.RemoteConfig{
		Driver: config.DriverREST,
		URL:    "http://" + ln.Addr().String(),
		APIKey: "k",
	}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buildProbe(cfg)(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, accepted.Load())

	// Naming the address explicitly opts in to dialing it.
	cfg.Connectivity.ProbeAddr = ln.Addr().String()
	assert.True(t, buildProbe(cfg)(ctx))
	assert.Eventually(t, func() bool { return accepted.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBuildRemote(t *testing.T) {
	client, closer, err := buildRemote(config.RemoteConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Client{}, client)
	assert.Nil(t, closer)

	client, _, err = buildRemote(config.RemoteConfig{Driver: config.DriverREST, URL: "https://school.example.co", APIKey: "k", Timeout: time.Second})
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, _, err = buildRemote(config.RemoteConfig{Driver: "mongo"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

// setupEnv points the CLI at a fresh data directory with the in-memory
// remote.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("PROFSYNC_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("PROFSYNC_REMOTE_DRIVER", "memory")
	t.Setenv("PROFSYNC_LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "status")
	require.NoError(t, err)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Contains(t, status, "is_online")

	out, err = execute(t, "queue", "list", "--status", "failed")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = execute(t, "backup", "save")
	require.NoError(t, err)
	assert.Contains(t, out, "profsync_")

	out, err = execute(t, "backup", "list")
	require.NoError(t, err)
	var files []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	assert.Len(t, files, 1)

	_, err = execute(t, "queue", "remove", "abc")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = execute(t, "pull")
	assert.Error(t, err, "pull needs a user id")
}

func TestAppWritesThroughQueue(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("PROFSYNC_USER_ID", "u1")
	t.Setenv("PROFSYNC_CONNECTIVITY_INITIAL", "false")
	loaded, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "backups"), loaded.Backup.Dir)

	ctx := context.Background()
	a, err := newApp(ctx, loaded)
	require.NoError(t, err)
	defer a.Close()

	result, err := a.entities.Create(ctx, &models.Student{Base: models.Base{ID: "s1", UserID: "u1"}, Name: "Ana"})
	require.NoError(t, err)
	assert.True(t, result.Queued)

	a.monitor.Set(true, "test")
	drained, err := a.scheduler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drained.Succeeded)

	_, ok := a.remote.(*memory.Client).Row(models.TableStudents, "s1")
	assert.True(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	setupEnv(t)
	t.Setenv("PROFSYNC_BACKUP_INTERVAL", "1h")
	loaded, err := config.Load("")
	require.NoError(t, err)

	a, err := newApp(context.Background(), loaded)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, a.run(ctx, false))

	// The backup scheduler takes one backup as soon as it starts.
	files, err := a.sink.List()
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}
