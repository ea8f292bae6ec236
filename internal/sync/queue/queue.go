// Package queue is the durable mutation queue: writes that have not yet
// been confirmed by the remote store, with their retry bookkeeping.
package queue

import (
	"context"
	"encoding/json"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

// DefaultMaxRetries is the number of retries after the first attempt; a
// mutation is marked failed on its fourth failed attempt.
const DefaultMaxRetries = 3

// SyncQueue manages queued mutations and keeps the sync status of the
// rows they belong to consistent with the queue.
type SyncQueue struct {
	store      *db.Store
	maxRetries int
}

// NewSyncQueue creates a queue over the local store.
func NewSyncQueue(store *db.Store, maxRetries int) *SyncQueue {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &SyncQueue{store: store, maxRetries: maxRetries}
}

// MaxRetries returns the retry threshold.
func (q *SyncQueue) MaxRetries() int {
	return q.maxRetries
}

// NewMutation builds an INSERT or UPDATE carrying e's full state.
func NewMutation(op models.Operation, e models.Entity) (*models.QueuedMutation, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode mutation payload", err)
	}
	return &models.QueuedMutation{
		Table:     e.Table(),
		Operation: op,
		EntityID:  e.EntityID(),
		Payload:   payload,
		Status:    models.QueuePending,
	}, nil
}

// NewDelete builds a DELETE for one row.
func NewDelete(t models.Table, id string) *models.QueuedMutation {
	payload, _ := json.Marshal(map[string]string{"id": id})
	return &models.QueuedMutation{
		Table:     t,
		Operation: models.OpDelete,
		EntityID:  id,
		Payload:   payload,
		Status:    models.QueuePending,
	}
}

// Enqueue appends m inside sess, so callers can pair it with the local
// write it records.
func (q *SyncQueue) Enqueue(ctx context.Context, sess *db.Session, m *models.QueuedMutation) error {
	if err := sess.Enqueue(ctx, m); err != nil {
		return err
	}
	logging.Debug("mutation enqueued", map[string]interface{}{
		"mutation_id": m.ID,
		"table":       m.Table.String(),
		"operation":   string(m.Operation),
		"entity_id":   m.EntityID,
	})
	return nil
}

// Dequeue returns up to limit pending mutations, oldest first.
func (q *SyncQueue) Dequeue(ctx context.Context, limit int) ([]*models.QueuedMutation, error) {
	return q.store.PendingMutations(ctx, limit)
}

// Begin marks m as being attempted.
func (q *SyncQueue) Begin(ctx context.Context, m *models.QueuedMutation) error {
	m.Status = models.QueueProcessing
	return q.store.UpdateMutation(ctx, m)
}

// Requeue returns m to pending without counting an attempt.
func (q *SyncQueue) Requeue(ctx context.Context, m *models.QueuedMutation) error {
	m.Status = models.QueuePending
	return q.store.UpdateMutation(ctx, m)
}

// Complete removes a confirmed mutation and settles its row: a confirmed
// DELETE removes the tombstone, and a row with no remaining queued writes
// becomes synced.
func (q *SyncQueue) Complete(ctx context.Context, m *models.QueuedMutation) error {
	return q.store.InTx(ctx, func(sess *db.Session) error {
		if err := sess.DeleteMutation(ctx, m.ID); err != nil {
			return err
		}
		row, err := sess.Get(ctx, m.Table, m.EntityID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		remaining, err := sess.CountEntityMutations(ctx, m.Table, m.EntityID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		switch {
		case m.Operation == models.OpDelete && row.SyncStatus == models.StatusPendingDelete:
			return sess.DeleteRow(ctx, m.Table, m.EntityID)
		case m.Operation != models.OpDelete && (row.SyncStatus == models.StatusPendingCreate || row.SyncStatus == models.StatusPendingUpdate):
			return sess.SetStatus(ctx, m.Table, m.EntityID, models.StatusSynced)
		}
		return nil
	})
}

// Failed records a failed attempt. Once the retry counter passes the
// threshold the mutation is marked failed and terminal is true; otherwise
// the mutation goes back to pending for the next pass. A terminal INSERT
// or UPDATE marks its row failed. A terminal DELETE leaves its row in
// pending_delete so the entity stays hidden.
func (q *SyncQueue) Failed(ctx context.Context, m *models.QueuedMutation, cause error) (terminal bool, err error) {
	m.RetryCount++
	if cause != nil {
		m.LastError = cause.Error()
	}
	terminal = m.RetryCount > q.maxRetries
	if terminal {
		m.Status = models.QueueFailed
	} else {
		m.Status = models.QueuePending
	}

	err = q.store.InTx(ctx, func(sess *db.Session) error {
		if err := sess.UpdateMutation(ctx, m); err != nil {
			return err
		}
		if !terminal || m.Operation == models.OpDelete {
			return nil
		}
		err := sess.SetStatus(ctx, m.Table, m.EntityID, models.StatusFailed)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return terminal, err
	}

	fields := map[string]interface{}{
		"mutation_id": m.ID,
		"table":       m.Table.String(),
		"operation":   string(m.Operation),
		"entity_id":   m.EntityID,
		"retry_count": m.RetryCount,
		"max_retries": q.maxRetries,
	}
	if terminal {
		logging.ErrorWithCode("mutation failed permanently", string(apperrors.Code(cause)), cause, fields)
	} else {
		logging.Warn("mutation attempt failed, will retry", fields, map[string]interface{}{"error": m.LastError})
	}
	return terminal, nil
}

// RetryAll resets every failed mutation to pending with a fresh counter
// and puts its row back into the matching pending status.
func (q *SyncQueue) RetryAll(ctx context.Context) (int, error) {
	count := 0
	err := q.store.InTx(ctx, func(sess *db.Session) error {
		failed, err := sess.Mutations(ctx, models.QueueFailed)
		if err != nil {
			return err
		}
		for _, m := range failed {
			m.Status = models.QueuePending
			m.RetryCount = 0
			m.LastError = ""
			if err := sess.UpdateMutation(ctx, m); err != nil {
				return err
			}
			row, err := sess.Get(ctx, m.Table, m.EntityID)
			if err == nil && row.SyncStatus == models.StatusFailed {
				if err := sess.SetStatus(ctx, m.Table, m.EntityID, m.Operation.PendingStatus()); err != nil {
					return err
				}
			} else if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logging.Info("failed mutations reset for retry", map[string]interface{}{"count": count})
	}
	return count, nil
}

// Remove discards one mutation without replaying it.
func (q *SyncQueue) Remove(ctx context.Context, id int64) error {
	if _, err := q.store.GetMutation(ctx, id); err != nil {
		return err
	}
	return q.store.DeleteMutation(ctx, id)
}

// Recover returns mutations interrupted mid-attempt to pending.
func (q *SyncQueue) Recover(ctx context.Context) (int, error) {
	n, err := q.store.RequeueProcessing(ctx)
	if err == nil && n > 0 {
		logging.Info("interrupted mutations requeued", map[string]interface{}{"count": n})
	}
	return n, err
}

// Size returns the number of pending mutations.
func (q *SyncQueue) Size(ctx context.Context) (int, error) {
	return q.store.CountMutations(ctx, models.QueuePending)
}

// List returns mutations in the given statuses, or all of them.
func (q *SyncQueue) List(ctx context.Context, statuses ...models.QueueStatus) ([]*models.QueuedMutation, error) {
	return q.store.Mutations(ctx, statuses...)
}

// GetStats returns queue counts by status.
func (q *SyncQueue) GetStats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{"total": 0}
	for _, st := range []models.QueueStatus{models.QueuePending, models.QueueProcessing, models.QueueFailed} {
		n, err := q.store.CountMutations(ctx, st)
		if err != nil {
			return nil, err
		}
		stats[string(st)] = n
		stats["total"] += n
	}
	return stats, nil
}
