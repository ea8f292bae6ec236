package services

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/memory"
	syncpkg "github.com/MrBigodon205/app-de-professor-sub003/internal/sync"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/reconcile"
)

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) MutationQueued() { c.n.Add(1) }

type env struct {
	store    *db.Store
	queue    *queue.SyncQueue
	remote   *memory.Client
	conn     *connectivity.Monitor
	svc      *EntityService
	engine   *syncpkg.SyncEngine
	notifier *countingNotifier
}

func newEnv(t *testing.T, online bool) *env {
	t.Helper()
	conn, err := db.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	e := &env{
		store:    db.NewStore(conn),
		remote:   memory.New(),
		conn:     connectivity.NewMonitor(online),
		notifier: &countingNotifier{},
	}
	e.queue = queue.NewSyncQueue(e.store, queue.DefaultMaxRetries)
	e.svc = NewEntityService(e.store, e.queue, e.remote, e.conn)
	e.svc.SetNotifier(e.notifier)
	e.engine = syncpkg.NewSyncEngine(e.queue, e.remote, e.conn, 0)
	return e
}

func (e *env) mutations(t *testing.T) []*models.QueuedMutation {
	t.Helper()
	ms, err := e.queue.List(context.Background())
	require.NoError(t, err)
	return ms
}

func (e *env) status(t *testing.T, tbl models.Table, id string) models.SyncStatus {
	t.Helper()
	row, err := e.store.Get(context.Background(), tbl, id)
	require.NoError(t, err)
	return row.SyncStatus
}

func ana() *models.Student {
	return &models.Student{Base: models.Base{ID: "s1", UserID: "u1"}, Name: "Ana"}
}

// TestCreateOfflineThenReconnect follows an offline create through the
// drain that runs on reconnect and a later pull.
func TestCreateOfflineThenReconnect(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)

	res, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)
	assert.Equal(t, "s1", res.ID)
	assert.Equal(t, models.StatusPendingCreate, res.Status)
	assert.True(t, res.Queued)
	assert.Equal(t, int32(1), e.notifier.n.Load())
	assert.Equal(t, models.StatusPendingCreate, e.status(t, models.TableStudents, "s1"))

	ms := e.mutations(t)
	require.Len(t, ms, 1)
	assert.Equal(t, models.TableStudents, ms[0].Table)
	assert.Equal(t, models.OpInsert, ms[0].Operation)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(ms[0].Payload, &payload))
	assert.Equal(t, "s1", payload["id"])
	assert.Equal(t, "Ana", payload["name"])
	assert.Equal(t, 0, e.remote.Calls("insert"))

	e.conn.Set(true, "test")
	result, err := e.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, e.mutations(t))

	_, err = reconcile.NewPuller(e.store, e.remote).Pull(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, e.status(t, models.TableStudents, "s1"))
}

// TestCreateOnline verifies an online create is confirmed directly.
func TestCreateOnline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	s := &models.Student{Base: models.Base{UserID: "u1"}, Name: "Ana"}
	res, err := e.svc.Create(ctx, s)
	require.NoError(t, err)
	assert.Len(t, res.ID, 36)
	assert.Equal(t, res.ID, s.ID)
	assert.Equal(t, models.StatusSynced, res.Status)
	assert.False(t, res.Queued)

	assert.Equal(t, 1, e.remote.Calls("insert"))
	_, ok := e.remote.Row(models.TableStudents, res.ID)
	assert.True(t, ok)
	assert.Empty(t, e.mutations(t))
	assert.Equal(t, int32(0), e.notifier.n.Load())
}

// TestCreateDirectFailureIsQueued verifies a refused direct create keeps
// the row and queues it.
func TestCreateDirectFailureIsQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	e.remote.FailNext(1, apperrors.New(apperrors.ErrRemoteRejected, "constraint violated"))

	res, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingCreate, res.Status)
	assert.True(t, res.Queued)
	assert.Equal(t, models.StatusPendingCreate, e.status(t, models.TableStudents, "s1"))

	ms := e.mutations(t)
	require.Len(t, ms, 1)
	assert.Equal(t, models.OpInsert, ms[0].Operation)

	result, err := e.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, models.StatusSynced, e.status(t, models.TableStudents, "s1"))
}

// TestUpdateDirectFailureIsQueued verifies the same for updates.
func TestUpdateDirectFailureIsQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	e.remote.FailNext(1, apperrors.New(apperrors.ErrRemoteUnavailable, "timeout"))
	s := ana()
	s.Name = "Ana Maria"
	res, err := e.svc.Update(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingUpdate, res.Status)

	ms := e.mutations(t)
	require.Len(t, ms, 1)
	assert.Equal(t, models.OpUpdate, ms[0].Operation)

	got, status, err := e.svc.Get(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingUpdate, status)
	assert.Equal(t, "Ana Maria", got.(*models.Student).Name)

	_, err = e.engine.Drain(ctx)
	require.NoError(t, err)
	rec, _ := e.remote.Row(models.TableStudents, "s1")
	assert.Equal(t, "Ana Maria", rec["name"])
}

// TestUpdateOnline verifies a synced row is updated directly.
func TestUpdateOnline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	s := ana()
	s.Number = 7
	res, err := e.svc.Update(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, res.Status)
	assert.Equal(t, 1, e.remote.Calls("update"))
	rec, _ := e.remote.Row(models.TableStudents, "s1")
	assert.EqualValues(t, 7, rec["number"])
}

// TestUpdateOfUnsentRowStaysPendingCreate verifies an offline edit of an
// offline-created row keeps it pending_create and replays in order.
func TestUpdateOfUnsentRowStaysPendingCreate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	s := ana()
	s.Name = "Ana Maria"
	res, err := e.svc.Update(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingCreate, res.Status)
	assert.Len(t, e.mutations(t), 2)

	e.conn.Set(true, "test")
	_, err = e.engine.Drain(ctx)
	require.NoError(t, err)
	rec, _ := e.remote.Row(models.TableStudents, "s1")
	assert.Equal(t, "Ana Maria", rec["name"])
	assert.Equal(t, models.StatusSynced, e.status(t, models.TableStudents, "s1"))
}

// TestWriteBehindQueuedWriteIsQueued verifies an online write for an
// entity with queued writes waits behind them.
func TestWriteBehindQueuedWriteIsQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	e.conn.Set(true, "test")
	s := ana()
	s.Name = "Ana Maria"
	res, err := e.svc.Update(ctx, s)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, 0, e.remote.Calls("update"))
	assert.Equal(t, 0, e.remote.Calls("insert"))
	assert.Len(t, e.mutations(t), 2)
}

// TestNaturalKeyKeepsOneRow verifies two attendance writes for the same
// student, date, subject and period leave one local row.
func TestNaturalKeyKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)

	first := &models.AttendanceRecord{
		Base: models.Base{ID: "a1", UserID: "u1"}, StudentID: "s1",
		Date: "2024-03-01", Status: "P", Subject: "math", Period: 2,
	}
	second := &models.AttendanceRecord{
		Base: models.Base{ID: "a2", UserID: "u1"}, StudentID: "s1",
		Date: "2024-03-01", Status: "F", Subject: "math", Period: 2,
	}
	_, err := e.svc.Create(ctx, first)
	require.NoError(t, err)
	res, err := e.svc.Create(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "a1", res.ID)

	n, err := e.store.Count(ctx, models.TableAttendance, db.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _, err := e.svc.Get(ctx, models.TableAttendance, "a1")
	require.NoError(t, err)
	assert.Equal(t, "F", got.(*models.AttendanceRecord).Status)

	// A different period is a different fact.
	third := *second
	third.ID = ""
	third.Period = 3
	_, err = e.svc.Create(ctx, &third)
	require.NoError(t, err)
	n, err = e.store.Count(ctx, models.TableAttendance, db.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e.conn.Set(true, "test")
	_, err = e.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, e.remote.Rows(models.TableAttendance), 2)
}

// TestDeleteUnsentRowPurges verifies a row the remote never saw is removed
// outright along with its queued writes.
func TestDeleteUnsentRowPurges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	res, err := e.svc.Delete(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.False(t, res.Queued)
	assert.Empty(t, e.mutations(t))

	_, err = e.store.Get(ctx, models.TableStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestDeleteOffline verifies a synced row becomes a hidden tombstone with
// a queued delete, removed once the drain confirms it.
func TestDeleteOffline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)
	e.conn.Set(false, "test")

	res, err := e.svc.Delete(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingDelete, res.Status)
	assert.True(t, res.Queued)

	_, _, err = e.svc.Get(ctx, models.TableStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	list, err := e.svc.List(ctx, models.TableStudents, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, models.StatusPendingDelete, e.status(t, models.TableStudents, "s1"))

	// Deleting again is a no-op.
	again, err := e.svc.Delete(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingDelete, again.Status)
	assert.Len(t, e.mutations(t), 1)

	e.conn.Set(true, "test")
	_, err = e.engine.Drain(ctx)
	require.NoError(t, err)
	_, ok := e.remote.Row(models.TableStudents, "s1")
	assert.False(t, ok)
	_, err = e.store.Get(ctx, models.TableStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestDeleteStaysHiddenAfterTerminalFailure verifies an entity the user
// deleted does not come back when its queued DELETE is given up on.
func TestDeleteStaysHiddenAfterTerminalFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)
	e.conn.Set(false, "test")
	_, err = e.svc.Delete(ctx, models.TableStudents, "s1")
	require.NoError(t, err)

	e.conn.Set(true, "test")
	e.remote.FailAlways(apperrors.New(apperrors.ErrRemoteUnavailable, "down"))
	for i := 0; i < 4; i++ {
		_, err = e.engine.Drain(ctx)
		require.NoError(t, err)
	}

	ms := e.mutations(t)
	require.Len(t, ms, 1)
	assert.Equal(t, models.QueueFailed, ms[0].Status)
	assert.Equal(t, models.StatusPendingDelete, e.status(t, models.TableStudents, "s1"))

	_, _, err = e.svc.Get(ctx, models.TableStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	list, err := e.svc.List(ctx, models.TableStudents, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	e.remote.FailAlways(nil)
	_, err = e.queue.RetryAll(ctx)
	require.NoError(t, err)
	_, err = e.engine.Drain(ctx)
	require.NoError(t, err)
	_, ok := e.remote.Row(models.TableStudents, "s1")
	assert.False(t, ok)
	_, err = e.store.Get(ctx, models.TableStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestDeleteOnline verifies a direct delete removes both copies.
func TestDeleteOnline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	res, err := e.svc.Delete(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.False(t, res.Queued)

	_, ok := e.remote.Row(models.TableStudents, "s1")
	assert.False(t, ok)
	_, err = e.store.Get(ctx, models.TableStudents, "s1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestDeleteDirectFailureIsQueued verifies a refused delete goes through
// the queue like any other write.
func TestDeleteDirectFailureIsQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)
	e.remote.FailNext(1, apperrors.New(apperrors.ErrRemoteUnavailable, "reset by peer"))

	res, err := e.svc.Delete(ctx, models.TableStudents, "s1")
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.False(t, res.Removed)

	ms := e.mutations(t)
	require.Len(t, ms, 1)
	assert.Equal(t, models.OpDelete, ms[0].Operation)
	assert.Equal(t, int32(1), e.notifier.n.Load())
}

// TestWriteSupersedesFailedMutation verifies a new write for a row whose
// earlier write was given up on replaces the failed mutation.
func TestWriteSupersedesFailedMutation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)

	e.conn.Set(true, "test")
	e.remote.FailAlways(apperrors.New(apperrors.ErrRemoteRejected, "bad row"))
	for i := 0; i <= queue.DefaultMaxRetries; i++ {
		_, err := e.engine.Drain(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, models.StatusFailed, e.status(t, models.TableStudents, "s1"))

	e.remote.FailAlways(nil)
	s := ana()
	s.Name = "Ana Maria"
	res, err := e.svc.Update(ctx, s)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, models.StatusPendingUpdate, res.Status)

	ms := e.mutations(t)
	require.Len(t, ms, 1)
	assert.Equal(t, models.QueuePending, ms[0].Status)

	_, err = e.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, e.status(t, models.TableStudents, "s1"))
}

// TestValidation verifies invalid entities are rejected before any write.
func TestValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	_, err := e.svc.Create(ctx, &models.Student{Base: models.Base{UserID: "u1"}})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "name")

	_, err = e.svc.Create(ctx, &models.AttendanceRecord{
		Base: models.Base{UserID: "u1"}, StudentID: "s1", Date: "01/03/2024", Status: "X",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")
	assert.Contains(t, err.Error(), "status")

	n, err := e.store.Count(ctx, models.TableStudents, db.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, e.remote.Calls("insert"))
}

// TestUpdateMissing verifies updates need an existing live row.
func TestUpdateMissing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	_, err := e.svc.Update(ctx, ana())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = e.svc.Update(ctx, &models.Student{Base: models.Base{UserID: "u1"}, Name: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = e.svc.Delete(ctx, models.TableStudents, "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestListByOwner verifies listings are limited to one owner.
func TestListByOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	_, err := e.svc.Create(ctx, ana())
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, &models.Student{Base: models.Base{UserID: "u2"}, Name: "Bia"})
	require.NoError(t, err)

	list, err := e.svc.List(ctx, models.TableStudents, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ana", list[0].(*models.Student).Name)

	all, err := e.svc.List(ctx, models.TableStudents, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
