// Package services is the write path application code uses for mirrored
// entities. Writes land in the local store first; the remote store is
// written directly when possible and through the mutation queue otherwise.
package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/uuid"
)

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	Online() bool
}

// Notifier is told whenever a write was queued instead of confirmed.
type Notifier interface {
	MutationQueued()
}

// WriteResult describes where a write stands after the call returns.
type WriteResult struct {
	Table   models.Table      `json:"table"`
	ID      string            `json:"id"`
	Status  models.SyncStatus `json:"sync_status,omitempty"`
	Queued  bool              `json:"queued"`
	Removed bool              `json:"removed"`
}

// EntityService performs optimistic writes on mirrored entities. Remote
// failures never reach the caller: they leave the row in a pending status
// with a queued mutation. Only local store and validation errors are
// returned.
type EntityService struct {
	store    *db.Store
	queue    *queue.SyncQueue
	remote   remote.Client
	conn     Connectivity
	validate *validator.Validate

	mu       sync.RWMutex
	notifier Notifier
}

// NewEntityService creates an EntityService.
func NewEntityService(store *db.Store, q *queue.SyncQueue, client remote.Client, conn Connectivity) *EntityService {
	return &EntityService{
		store:    store,
		queue:    q,
		remote:   client,
		conn:     conn,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SetNotifier sets the receiver of queued-write notifications.
func (s *EntityService) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *EntityService) notify() {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil {
		n.MutationQueued()
	}
}

// Validate checks e's field constraints.
func (s *EntityService) Validate(e models.Entity) error {
	if e == nil {
		return apperrors.New(apperrors.ErrInvalid, "nil entity")
	}
	err := s.validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return apperrors.Wrap(apperrors.ErrValidation,
			fmt.Sprintf("invalid %s: %s", e.Table(), strings.Join(fields, "; ")), err)
	}
	return apperrors.Wrap(apperrors.ErrValidation, "invalid "+e.Table().String(), err)
}

// Create stores a new entity, generating its id when it has none. A
// natural-key table row whose key is already stored takes over the
// existing row's id and overwrites it.
func (s *EntityService) Create(ctx context.Context, e models.Entity) (*WriteResult, error) {
	if e == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "nil entity")
	}
	e.SetEntityID(uuid.Ensure(e.EntityID()))
	return s.save(ctx, e, true)
}

// Update overwrites an existing entity.
func (s *EntityService) Update(ctx context.Context, e models.Entity) (*WriteResult, error) {
	if e == nil || e.EntityID() == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "update requires an id")
	}
	return s.save(ctx, e, false)
}

// resolve applies natural-key id adoption to e and returns the row it
// will overwrite, if any, with the number of unfinished mutations queued
// for it.
func resolve(ctx context.Context, sess *db.Session, e models.Entity) (*models.Row, int, error) {
	t := e.Table()
	if key := models.NaturalKeyOf(e); key != "" {
		holder, err := sess.GetByNaturalKey(ctx, t, key)
		switch {
		case err == nil:
			e.SetEntityID(holder.ID)
		case !apperrors.Is(err, apperrors.ErrNotFound):
			return nil, 0, err
		}
	}
	prior, err := sess.Get(ctx, t, e.EntityID())
	if apperrors.Is(err, apperrors.ErrNotFound) {
		prior, err = nil, nil
	}
	if err != nil {
		return nil, 0, err
	}
	queued, err := sess.CountEntityMutations(ctx, t, e.EntityID())
	if err != nil {
		return nil, 0, err
	}
	return prior, queued, nil
}

// queuedStatus is the status a queued write leaves on a row: rows the
// remote store never saw stay pending_create.
func queuedStatus(prior *models.Row) models.SyncStatus {
	if prior == nil || prior.SyncStatus == models.StatusPendingCreate {
		return models.StatusPendingCreate
	}
	return models.StatusPendingUpdate
}

func opFor(status models.SyncStatus) models.Operation {
	if status == models.StatusPendingCreate {
		return models.OpInsert
	}
	return models.OpUpdate
}

func enqueueWrite(ctx context.Context, q *queue.SyncQueue, sess *db.Session, e models.Entity, status models.SyncStatus) error {
	m, err := queue.NewMutation(opFor(status), e)
	if err != nil {
		return err
	}
	if _, _, err := sess.PutEntity(ctx, e, status); err != nil {
		return err
	}
	return q.Enqueue(ctx, sess, m)
}

func (s *EntityService) save(ctx context.Context, e models.Entity, create bool) (*WriteResult, error) {
	if err := s.Validate(e); err != nil {
		return nil, err
	}
	t := e.Table()
	online := s.conn.Online()

	var prior *models.Row
	direct := false
	result := &WriteResult{Table: t}

	err := s.store.InTx(ctx, func(sess *db.Session) error {
		p, queued, err := resolve(ctx, sess, e)
		if err != nil {
			return err
		}
		if !create && (p == nil || p.SyncStatus == models.StatusPendingDelete) {
			return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", t, e.EntityID())
		}
		prior = p

		// Earlier queued writes for the entity must reach the remote store
		// first, so a direct write is only attempted when none are waiting.
		direct = online && queued == 0 && (p == nil || p.SyncStatus == models.StatusSynced)
		if direct {
			_, _, err := sess.PutEntity(ctx, e, models.StatusSynced)
			return err
		}

		status := queuedStatus(p)
		if p != nil && p.SyncStatus == models.StatusFailed {
			// The new mutation carries the whole row.
			if _, err := sess.DeleteEntityMutations(ctx, t, e.EntityID(), models.QueueFailed); err != nil {
				return err
			}
		}
		result.Status = status
		result.Queued = true
		return enqueueWrite(ctx, s.queue, sess, e, status)
	})
	if err != nil {
		return nil, err
	}
	result.ID = e.EntityID()

	if !direct {
		s.notify()
		return result, nil
	}

	remoteErr := s.writeRemote(ctx, e, prior, create)
	if remoteErr == nil {
		result.Status = models.StatusSynced
		return result, nil
	}

	status := models.StatusPendingUpdate
	if prior == nil {
		status = models.StatusPendingCreate
	}
	logging.Warn("direct write failed, queued for retry", map[string]interface{}{
		"table":     t.String(),
		"entity_id": e.EntityID(),
		"code":      string(apperrors.Code(remoteErr)),
		"error":     remoteErr.Error(),
	})
	local := context.WithoutCancel(ctx)
	if err := s.store.InTx(local, func(sess *db.Session) error {
		return enqueueWrite(local, s.queue, sess, e, status)
	}); err != nil {
		return nil, err
	}
	result.Status = status
	result.Queued = true
	s.notify()
	return result, nil
}

func (s *EntityService) writeRemote(ctx context.Context, e models.Entity, prior *models.Row, create bool) error {
	rec, err := models.RecordOf(e)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode remote record", err)
	}
	switch {
	case prior == nil:
		return s.remote.Insert(ctx, e.Table(), rec)
	case create:
		return s.remote.Upsert(ctx, e.Table(), rec)
	default:
		return s.remote.Update(ctx, e.Table(), e.EntityID(), rec)
	}
}

// Delete removes an entity. A row the remote store never saw is purged
// locally together with its queued writes. Otherwise the row is marked
// pending_delete and removed once the remote delete is confirmed, either
// directly or by the queue.
func (s *EntityService) Delete(ctx context.Context, t models.Table, id string) (*WriteResult, error) {
	if !t.Valid() {
		return nil, apperrors.Newf(apperrors.ErrUnsupportedTable, "unsupported table %s", t)
	}
	online := s.conn.Online()
	result := &WriteResult{Table: t, ID: id}
	direct := false

	err := s.store.InTx(ctx, func(sess *db.Session) error {
		row, err := sess.Get(ctx, t, id)
		if err != nil {
			return err
		}
		if row.SyncStatus == models.StatusPendingDelete {
			result.Status = row.SyncStatus
			return nil
		}

		if row.SyncStatus == models.StatusPendingCreate {
			inFlight, err := attempting(ctx, sess, t, id)
			if err != nil {
				return err
			}
			if !inFlight {
				if _, err := sess.DeleteEntityMutations(ctx, t, id); err != nil {
					return err
				}
				result.Removed = true
				return sess.DeleteRow(ctx, t, id)
			}
		}

		queued, err := sess.CountEntityMutations(ctx, t, id)
		if err != nil {
			return err
		}
		if _, err := sess.DeleteEntityMutations(ctx, t, id, models.QueueFailed); err != nil {
			return err
		}
		if err := sess.SetStatus(ctx, t, id, models.StatusPendingDelete); err != nil {
			return err
		}
		result.Status = models.StatusPendingDelete

		direct = online && queued == 0
		if direct {
			return nil
		}
		result.Queued = true
		return s.queue.Enqueue(ctx, sess, queue.NewDelete(t, id))
	})
	if err != nil {
		return nil, err
	}

	if result.Queued {
		s.notify()
	}
	if !direct {
		return result, nil
	}

	local := context.WithoutCancel(ctx)
	if remoteErr := s.remote.Delete(ctx, t, id); remoteErr != nil {
		logging.Warn("direct delete failed, queued for retry", map[string]interface{}{
			"table":     t.String(),
			"entity_id": id,
			"code":      string(apperrors.Code(remoteErr)),
			"error":     remoteErr.Error(),
		})
		if err := s.store.InTx(local, func(sess *db.Session) error {
			return s.queue.Enqueue(local, sess, queue.NewDelete(t, id))
		}); err != nil {
			return nil, err
		}
		result.Queued = true
		s.notify()
		return result, nil
	}

	if err := s.store.InTx(local, func(sess *db.Session) error {
		row, err := sess.Get(local, t, id)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if row.SyncStatus != models.StatusPendingDelete {
			return nil
		}
		return sess.DeleteRow(local, t, id)
	}); err != nil {
		return nil, err
	}
	result.Status = ""
	result.Removed = true
	return result, nil
}

// attempting reports whether a drain pass is sending a mutation for the
// entity right now.
func attempting(ctx context.Context, sess *db.Session, t models.Table, id string) (bool, error) {
	running, err := sess.Mutations(ctx, models.QueueProcessing)
	if err != nil {
		return false, err
	}
	for _, m := range running {
		if m.Table == t && m.EntityID == id {
			return true, nil
		}
	}
	return false, nil
}

// Get returns a live entity and its sync status. Rows waiting for a
// remote delete are reported as not found.
func (s *EntityService) Get(ctx context.Context, t models.Table, id string) (models.Entity, models.SyncStatus, error) {
	e, status, err := s.store.GetEntity(ctx, t, id)
	if err != nil {
		return nil, "", err
	}
	if status == models.StatusPendingDelete {
		return nil, "", apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", t, id)
	}
	return e, status, nil
}

// List returns the live entities of t owned by userID. An empty userID
// lists every owner.
func (s *EntityService) List(ctx context.Context, t models.Table, userID string) ([]models.Entity, error) {
	rows, err := s.store.List(ctx, t, db.Filter{UserID: userID, ExcludeStatus: models.StatusPendingDelete})
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := models.Decode(t, row)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "decode stored row", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Failed returns the rows of t whose queued write was given up on.
func (s *EntityService) Failed(ctx context.Context, t models.Table, userID string) ([]*models.Row, error) {
	return s.store.List(ctx, t, db.Filter{UserID: userID, Status: models.StatusFailed})
}
