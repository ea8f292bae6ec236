package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

const mutationColumns = "id, table_name, operation, entity_id, payload, status, retry_count, last_error, created_at, updated_at"

// Enqueue appends a mutation and assigns its id. A zero CreatedAt is
// stamped from the session clock; an empty status means pending.
func (s *Session) Enqueue(ctx context.Context, m *models.QueuedMutation) error {
	if !m.Table.Valid() {
		return apperrors.Newf(apperrors.ErrUnsupportedTable, "unsupported table %s", m.Table)
	}
	if !m.Operation.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", m.Operation)
	}
	if m.Status == "" {
		m.Status = models.QueuePending
	}
	now := s.now()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Payload == nil {
		m.Payload = []byte("{}")
	}

	res, err := sqlx.NamedExecContext(ctx, s.ext, `INSERT INTO sync_queue
		(table_name, operation, entity_id, payload, status, retry_count, last_error, created_at, updated_at)
		VALUES (:table_name, :operation, :entity_id, :payload, :status, :retry_count, :last_error, :created_at, :updated_at)`, m)
	if err != nil {
		return dbErr(err, "enqueue %s %s", m.Operation, m.Table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return dbErr(err, "read queue id")
	}
	m.ID = id
	return nil
}

// PendingMutations returns up to limit pending mutations, oldest first.
func (s *Session) PendingMutations(ctx context.Context, limit int) ([]*models.QueuedMutation, error) {
	var out []*models.QueuedMutation
	err := sqlx.SelectContext(ctx, s.ext, &out,
		"SELECT "+mutationColumns+" FROM sync_queue WHERE status = ? ORDER BY created_at, id LIMIT ?",
		models.QueuePending, limit)
	if err != nil {
		return nil, dbErr(err, "load pending mutations")
	}
	return out, nil
}

// Mutations returns every mutation with the given statuses, oldest first.
// No statuses means all.
func (s *Session) Mutations(ctx context.Context, statuses ...models.QueueStatus) ([]*models.QueuedMutation, error) {
	q := "SELECT " + mutationColumns + " FROM sync_queue"
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		q += " WHERE status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	var out []*models.QueuedMutation
	if err := sqlx.SelectContext(ctx, s.ext, &out, q+" ORDER BY created_at, id", args...); err != nil {
		return nil, dbErr(err, "list mutations")
	}
	return out, nil
}

// GetMutation returns one mutation, or a NOT_FOUND error.
func (s *Session) GetMutation(ctx context.Context, id int64) (*models.QueuedMutation, error) {
	var m models.QueuedMutation
	err := sqlx.GetContext(ctx, s.ext, &m, "SELECT "+mutationColumns+" FROM sync_queue WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "mutation %d not found", id)
	}
	if err != nil {
		return nil, dbErr(err, "get mutation %d", id)
	}
	return &m, nil
}

// CountMutations counts mutations in a status; an empty status counts all.
func (s *Session) CountMutations(ctx context.Context, status models.QueueStatus) (int, error) {
	q := "SELECT COUNT(*) FROM sync_queue"
	var args []interface{}
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n, q, args...); err != nil {
		return 0, dbErr(err, "count mutations")
	}
	return n, nil
}

// UpdateMutation persists the status, retry count and last error of m.
func (s *Session) UpdateMutation(ctx context.Context, m *models.QueuedMutation) error {
	m.UpdatedAt = s.now()
	res, err := sqlx.NamedExecContext(ctx, s.ext, `UPDATE sync_queue
		SET status = :status, retry_count = :retry_count, last_error = :last_error, updated_at = :updated_at
		WHERE id = :id`, m)
	if err != nil {
		return dbErr(err, "update mutation %d", m.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "mutation %d not found", m.ID)
	}
	return nil
}

// DeleteMutation removes a confirmed mutation.
func (s *Session) DeleteMutation(ctx context.Context, id int64) error {
	if _, err := s.ext.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return dbErr(err, "delete mutation %d", id)
	}
	return nil
}

// CountEntityMutations counts unfinished mutations for one entity.
func (s *Session) CountEntityMutations(ctx context.Context, t models.Table, entityID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.ext, &n,
		"SELECT COUNT(*) FROM sync_queue WHERE table_name = ? AND entity_id = ? AND status <> ?",
		t, entityID, models.QueueFailed)
	if err != nil {
		return 0, dbErr(err, "count mutations for %s %s", t, entityID)
	}
	return n, nil
}

// DeleteEntityMutations drops queued mutations for one entity, limited to
// the given statuses when any are passed.
func (s *Session) DeleteEntityMutations(ctx context.Context, t models.Table, entityID string, statuses ...models.QueueStatus) (int, error) {
	q := "DELETE FROM sync_queue WHERE table_name = ? AND entity_id = ?"
	args := []interface{}{t, entityID}
	if len(statuses) > 0 {
		q += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	res, err := s.ext.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, dbErr(err, "drop mutations for %s %s", t, entityID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RequeueProcessing returns mutations left in processing by an interrupted
// drain to pending.
func (s *Session) RequeueProcessing(ctx context.Context) (int, error) {
	res, err := s.ext.ExecContext(ctx, "UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?",
		models.QueuePending, s.now(), models.QueueProcessing)
	if err != nil {
		return 0, dbErr(err, "requeue processing mutations")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
