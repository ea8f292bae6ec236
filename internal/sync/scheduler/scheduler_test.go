package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/memory"
	syncpkg "github.com/MrBigodon205/app-de-professor-sub003/internal/sync"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/reconcile"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

type harness struct {
	store   *db.Store
	queue   *queue.SyncQueue
	remote  *memory.Client
	monitor *connectivity.Monitor
	engine  *syncpkg.SyncEngine
	sched   *Scheduler
}

func newHarness(t *testing.T, online bool, config *SchedulerConfig) *harness {
	t.Helper()
	conn, err := db.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	h := &harness{
		store:   db.NewStore(conn),
		remote:  memory.New(),
		monitor: connectivity.NewMonitor(online),
	}
	h.queue = queue.NewSyncQueue(h.store, queue.DefaultMaxRetries)
	h.engine = syncpkg.NewSyncEngine(h.queue, h.remote, h.monitor, 0)
	if config == nil {
		config = &SchedulerConfig{UserID: "u1", SyncInterval: time.Hour, PullOnReconnect: true}
	}
	h.sched = NewScheduler(h.engine, h.queue, reconcile.NewPuller(h.store, h.remote), h.monitor, config)
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) createOffline(t *testing.T, id, name string) {
	t.Helper()
	ctx := context.Background()
	s := &models.Student{Base: models.Base{ID: id, UserID: "u1"}, Name: name}
	m, err := queue.NewMutation(models.OpInsert, s)
	require.NoError(t, err)
	require.NoError(t, h.store.InTx(ctx, func(sess *db.Session) error {
		if _, _, err := sess.PutEntity(ctx, s, models.StatusPendingCreate); err != nil {
			return err
		}
		return h.queue.Enqueue(ctx, sess, m)
	}))
}

func (h *harness) queueEmpty() bool {
	n, err := h.queue.Size(context.Background())
	return err == nil && n == 0
}

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	require.NotNil(t, config)
	assert.Equal(t, 30*time.Second, config.SyncInterval)
	assert.True(t, config.PullOnReconnect)
	assert.True(t, config.PullOnStart)
}

// TestNewSchedulerDefaults verifies zero intervals fall back to defaults.
func TestNewSchedulerDefaults(t *testing.T) {
	h := newHarness(t, false, &SchedulerConfig{})
	assert.Equal(t, 30*time.Second, h.sched.syncInterval)
	assert.Equal(t, 5*time.Minute, h.sched.passTimeout)
	assert.False(t, h.sched.IsRunning())
}

// TestStartStop verifies start and stop are idempotent.
func TestStartStop(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	require.NoError(t, h.sched.Start(ctx))
	require.NoError(t, h.sched.Start(ctx))
	assert.True(t, h.sched.IsRunning())

	h.sched.Stop()
	h.sched.Stop()
	assert.False(t, h.sched.IsRunning())
}

// TestReconnectDrainsThenPulls walks the offline create of one student
// through a reconnect.
func TestReconnectDrainsThenPulls(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.createOffline(t, "s1", "Ana")

	require.NoError(t, h.sched.Start(ctx))
	assert.Equal(t, 0, h.remote.Calls("upsert"))

	h.monitor.Set(true, "test")

	require.Eventually(t, func() bool {
		return h.sched.GetStatus(ctx).LastPullTime != nil
	}, waitFor, tick)

	assert.True(t, h.queueEmpty())
	rec, ok := h.remote.Row(models.TableStudents, "s1")
	require.True(t, ok)
	assert.Equal(t, "Ana", rec["name"])

	row, err := h.store.Get(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, row.SyncStatus)
	assert.Positive(t, h.remote.Calls("select"))
}

// TestTickerDrainsWhileOnline verifies writes queued while online are
// drained by the interval timer.
func TestTickerDrainsWhileOnline(t *testing.T) {
	h := newHarness(t, true, &SchedulerConfig{SyncInterval: 20 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, h.sched.Start(ctx))

	h.createOffline(t, "s1", "Ana")
	require.Eventually(t, h.queueEmpty, waitFor, tick)
	assert.NotNil(t, h.sched.GetStatus(ctx).LastSyncTime)
}

// TestTickerIdleWhileOffline verifies nothing is sent while offline.
func TestTickerIdleWhileOffline(t *testing.T) {
	h := newHarness(t, false, &SchedulerConfig{SyncInterval: 10 * time.Millisecond})
	require.NoError(t, h.sched.Start(context.Background()))
	h.createOffline(t, "s1", "Ana")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.remote.Calls("upsert"))
	assert.False(t, h.queueEmpty())
}

// TestTriggerSync verifies a trigger drains without waiting for the timer
// and that triggers never block.
func TestTriggerSync(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	require.NoError(t, h.sched.Start(ctx))

	h.createOffline(t, "s1", "Ana")
	h.sched.MutationQueued()
	for i := 0; i < 10; i++ {
		h.sched.TriggerSync()
	}
	require.Eventually(t, h.queueEmpty, waitFor, tick)
	assert.Equal(t, 0, h.engine.PendingChanges())
}

// TestStartRecoversInterruptedMutations verifies mutations left in
// processing by a crash are pending again after start.
func TestStartRecoversInterruptedMutations(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.createOffline(t, "s1", "Ana")

	batch, err := h.queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, h.queue.Begin(ctx, batch[0]))
	assert.True(t, h.queueEmpty())

	require.NoError(t, h.sched.Start(ctx))
	assert.False(t, h.queueEmpty())
	assert.Equal(t, 1, h.engine.PendingChanges())
}

// TestSyncNow verifies the manual drain path.
func TestSyncNow(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.createOffline(t, "s1", "Ana")

	_, err := h.sched.SyncNow(ctx)
	assert.True(t, errors.Is(err, errors.ErrSyncOffline))

	h.monitor.Set(true, "test")
	result, err := h.sched.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.NotNil(t, h.sched.GetStatus(ctx).LastSyncTime)
}

// TestPullNow verifies the manual pull path drains first.
func TestPullNow(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.createOffline(t, "s1", "Ana")
	h.remote.Seed(models.TableClasses, map[string]interface{}{"id": "c1", "user_id": "u1", "name": "7A"})

	result, err := h.sched.PullNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Tables["students"].Written)
	assert.Equal(t, 1, result.Tables["classes"].Written)

	row, err := h.store.Get(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, row.SyncStatus)
}

// TestPullNowRequiresUser verifies a scheduler without a user refuses pulls.
func TestPullNowRequiresUser(t *testing.T) {
	h := newHarness(t, true, &SchedulerConfig{})
	_, err := h.sched.PullNow(context.Background())
	assert.True(t, errors.Is(err, errors.ErrSyncNotConfigured))
}

// TestGetStatus verifies the status snapshot reflects queue and engine.
func TestGetStatus(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()
	h.createOffline(t, "s1", "Ana")
	h.createOffline(t, "s2", "Bruno")

	status := h.sched.GetStatus(ctx)
	assert.False(t, status.IsRunning)
	assert.False(t, status.IsOnline)
	assert.Equal(t, syncpkg.SyncStatusIdle, status.EngineStatus)
	assert.Equal(t, 2, status.PendingItems)
	assert.Equal(t, 2, status.QueueStats["total"])
	assert.Nil(t, status.LastSyncTime)
	assert.Empty(t, status.LastError)
}
