// Package sync replays queued mutations against the remote store.
package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/telemetry"
)

// DefaultBatchSize is the number of mutations loaded per drain pass.
const DefaultBatchSize = 50

const maxErrorHistory = 100

// SyncStatus represents the current engine status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// Reasons a drain pass did not run.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
	SkipEmpty      = "empty"
)

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	Online() bool
}

// DrainResult summarises one drain pass.
type DrainResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Retrying  int           `json:"retrying"`
	Failed    int           `json:"failed"`
	Remaining int           `json:"remaining"`
	Skipped   string        `json:"skipped,omitempty"`
}

// SyncErrorEntry is one remembered mutation failure.
type SyncErrorEntry struct {
	MutationID int64     `json:"mutation_id"`
	Table      string    `json:"table"`
	Operation  string    `json:"operation"`
	EntityID   string    `json:"entity_id"`
	Code       string    `json:"code"`
	Error      string    `json:"error"`
	Terminal   bool      `json:"terminal"`
	At         time.Time `json:"at"`
}

// SyncEngine is the mutation queue processor. At most one drain pass runs
// at a time; a pass started while another is running returns immediately.
type SyncEngine struct {
	queue     *queue.SyncQueue
	remote    remote.Client
	conn      Connectivity
	batchSize int

	inProgress atomic.Bool

	mu        stdsync.RWMutex
	status    SyncStatus
	lastSync  *time.Time
	pending   int
	lastErr   error
	handler   SyncEventHandler
	errorsLog []SyncErrorEntry
}

// NewSyncEngine creates a SyncEngine. A batch size of zero uses
// DefaultBatchSize.
func NewSyncEngine(q *queue.SyncQueue, client remote.Client, conn Connectivity, batchSize int) *SyncEngine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SyncEngine{
		queue:     q,
		remote:    client,
		conn:      conn,
		batchSize: batchSize,
		status:    SyncStatusIdle,
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// InProgress reports whether a drain pass is running.
func (e *SyncEngine) InProgress() bool {
	return e.inProgress.Load()
}

// LastSync returns the end time of the last completed pass.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// PendingChanges returns the last known number of pending mutations.
func (e *SyncEngine) PendingChanges() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending
}

// LastError returns the last error seen by a pass.
func (e *SyncEngine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// GetErrorHistory returns a copy of the recent mutation failures.
func (e *SyncEngine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errorsLog))
	copy(out, e.errorsLog)
	return out
}

// ClearErrorHistory forgets recorded failures.
func (e *SyncEngine) ClearErrorHistory() {
	e.mu.Lock()
	e.errorsLog = nil
	e.mu.Unlock()
}

func (e *SyncEngine) recordError(m *models.QueuedMutation, err error, terminal bool) {
	entry := SyncErrorEntry{
		MutationID: m.ID,
		Table:      m.Table.String(),
		Operation:  string(m.Operation),
		EntityID:   m.EntityID,
		Code:       string(apperrors.Code(err)),
		Error:      err.Error(),
		Terminal:   terminal,
		At:         time.Now(),
	}
	e.mu.Lock()
	e.errorsLog = append(e.errorsLog, entry)
	if len(e.errorsLog) > maxErrorHistory {
		e.errorsLog = e.errorsLog[len(e.errorsLog)-maxErrorHistory:]
	}
	e.lastErr = err
	e.mu.Unlock()
}

func (e *SyncEngine) emitEvent(event SyncEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

func (e *SyncEngine) setPending(n int) {
	e.mu.Lock()
	changed := e.pending != n
	e.pending = n
	e.mu.Unlock()
	if changed {
		e.emitEvent(SyncEvent{Type: SyncEventPendingChanged, Data: map[string]interface{}{"pending": n}})
	}
}

// RefreshPending recounts pending mutations and publishes the count.
func (e *SyncEngine) RefreshPending(ctx context.Context) (int, error) {
	n, err := e.queue.Size(ctx)
	if err != nil {
		return 0, err
	}
	e.setPending(n)
	return n, nil
}

// Drain runs one pass: it loads the oldest pending mutations up to the
// batch size and replays them one at a time. A mutation that fails stays
// queued with its counter bumped and the pass moves on to the next one.
// Passes are skipped while offline or while another pass is running.
func (e *SyncEngine) Drain(ctx context.Context) (*DrainResult, error) {
	result := &DrainResult{StartTime: time.Now()}
	finish := func() *DrainResult {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result
	}

	if e.conn != nil && !e.conn.Online() {
		result.Skipped = SkipOffline
		e.emitEvent(SyncEvent{Type: SyncEventSkipped, Message: SkipOffline})
		return finish(), nil
	}
	if !e.inProgress.CompareAndSwap(false, true) {
		result.Skipped = SkipInProgress
		logging.Debug("drain skipped, pass already running")
		e.emitEvent(SyncEvent{Type: SyncEventSkipped, Message: SkipInProgress})
		return finish(), nil
	}
	defer e.inProgress.Store(false)

	pending, err := e.queue.Size(ctx)
	if err != nil {
		return finish(), e.fail(err)
	}
	if pending == 0 {
		result.Skipped = SkipEmpty
		e.setPending(0)
		return finish(), nil
	}

	batch, err := e.queue.Dequeue(ctx, e.batchSize)
	if err != nil {
		return finish(), e.fail(err)
	}

	e.mu.Lock()
	e.status = SyncStatusSyncing
	e.mu.Unlock()
	e.emitEvent(SyncEvent{Type: SyncEventStarted, Data: map[string]interface{}{
		"pending": pending,
		"batch":   len(batch),
	}})
	logging.Info("drain started", map[string]interface{}{"pending": pending, "batch": len(batch)})

	for _, m := range batch {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		if err := e.process(ctx, m, result); err != nil {
			// Local bookkeeping failed; the store is unusable for this pass.
			e.finishPass(ctx, result, err)
			return finish(), e.fail(err)
		}
	}

	e.finishPass(ctx, result, nil)
	finish()
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Data: map[string]interface{}{
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"retrying":  result.Retrying,
		"failed":    result.Failed,
		"remaining": result.Remaining,
	}})
	logging.Info("drain completed", map[string]interface{}{
		"attempted":   result.Attempted,
		"succeeded":   result.Succeeded,
		"retrying":    result.Retrying,
		"failed":      result.Failed,
		"remaining":   result.Remaining,
		"duration_ms": result.Duration.Milliseconds(),
	})
	telemetry.RecordTiming("sync.drain", result.Duration, map[string]string{"status": string(e.Status())})
	return result, nil
}

// process attempts one mutation. Only local store failures are returned.
func (e *SyncEngine) process(ctx context.Context, m *models.QueuedMutation, result *DrainResult) error {
	if err := e.queue.Begin(ctx, m); err != nil {
		return err
	}

	applyErr := e.apply(ctx, m)
	if applyErr == nil {
		if err := e.queue.Complete(ctx, m); err != nil {
			return err
		}
		result.Succeeded++
		return nil
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown rather than refused by the remote:
		// put it back untouched.
		return e.queue.Requeue(context.WithoutCancel(ctx), m)
	}

	terminal, err := e.queue.Failed(ctx, m, applyErr)
	if err != nil {
		return err
	}
	e.recordError(m, applyErr, terminal)

	data := map[string]interface{}{
		"mutation_id": m.ID,
		"table":       m.Table.String(),
		"operation":   string(m.Operation),
		"entity_id":   m.EntityID,
		"retry_count": m.RetryCount,
		"code":        string(apperrors.Code(applyErr)),
	}
	if terminal {
		result.Failed++
		e.emitEvent(SyncEvent{Type: SyncEventItemTerminal, Message: applyErr.Error(), Data: data})
		telemetry.TrackError(applyErr, data)
	} else {
		result.Retrying++
		e.emitEvent(SyncEvent{Type: SyncEventItemFailed, Message: applyErr.Error(), Data: data})
	}
	return nil
}

// apply replays m. Inserts and updates are both sent as an upsert keyed by
// id, and deletes target the id, so replaying a mutation whose earlier
// attempt already reached the remote store is harmless.
func (e *SyncEngine) apply(ctx context.Context, m *models.QueuedMutation) error {
	switch m.Operation {
	case models.OpInsert, models.OpUpdate:
		rec, err := m.Record()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "decode mutation payload", err)
		}
		if _, ok := rec["id"]; !ok {
			rec["id"] = m.EntityID
		}
		return e.remote.Upsert(ctx, m.Table, rec)
	case models.OpDelete:
		return e.remote.Delete(ctx, m.Table, m.EntityID)
	}
	return apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", m.Operation)
}

func (e *SyncEngine) finishPass(ctx context.Context, result *DrainResult, err error) {
	remaining, countErr := e.queue.Size(context.WithoutCancel(ctx))
	if countErr == nil {
		result.Remaining = remaining
		e.setPending(remaining)
	}
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.lastSync = &now
		if result.Failed == 0 && result.Retrying == 0 {
			e.lastErr = nil
		}
	}
	if result.Failed > 0 || err != nil {
		e.status = SyncStatusFailed
	} else {
		e.status = SyncStatusIdle
	}
}

func (e *SyncEngine) fail(err error) error {
	wrapped := apperrors.Wrap(apperrors.ErrSyncFailed, "drain pass aborted", err)
	e.mu.Lock()
	e.status = SyncStatusFailed
	e.lastErr = wrapped
	e.mu.Unlock()
	logging.ErrorWithCode("drain pass aborted", string(apperrors.Code(err)), err)
	return wrapped
}
