package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

const rowColumns = "id, user_id, COALESCE(natural_key, '') AS natural_key, sync_status, data, updated_at"

// Store is the local store. Its embedded Session runs each call in its own
// implicit transaction; InTx groups calls atomically.
type Store struct {
	*Session
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{
		Session: &Session{ext: db.DB, now: nowMillis},
		db:      db,
	}
}

// SetClock replaces the clock used for updated_at and created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.Session.now = func() int64 { return now().UnixMilli() }
}

// InTx runs fn inside one transaction. Any error from fn rolls back every
// write fn made.
func (s *Store) InTx(ctx context.Context, fn func(*Session) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "begin transaction", err)
	}
	if err := fn(&Session{ext: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit transaction", err)
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Session runs store operations against either the database or an open
// transaction.
type Session struct {
	ext sqlx.ExtContext
	now func() int64
}

// Now returns the session clock in unix milliseconds.
func (s *Session) Now() int64 {
	return s.now()
}

// Filter narrows List and Count. Zero fields match everything.
type Filter struct {
	UserID        string
	Status        models.SyncStatus
	ExcludeStatus models.SyncStatus
}

func (f Filter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		conds = append(conds, "sync_status = ?")
		args = append(args, f.Status)
	}
	if f.ExcludeStatus != "" {
		conds = append(conds, "sync_status <> ?")
		args = append(args, f.ExcludeStatus)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func tableName(t models.Table) (string, error) {
	if !t.Valid() {
		return "", apperrors.Newf(apperrors.ErrUnsupportedTable, "unsupported table %s", t)
	}
	return t.LocalName(), nil
}

func dbErr(err error, format string, args ...interface{}) error {
	return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf(format, args...), err)
}

// Get returns the row with id, or a NOT_FOUND error.
func (s *Session) Get(ctx context.Context, t models.Table, id string) (*models.Row, error) {
	name, err := tableName(t)
	if err != nil {
		return nil, err
	}
	var row models.Row
	err = sqlx.GetContext(ctx, s.ext, &row, fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", rowColumns, name), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", t, id)
	}
	if err != nil {
		return nil, dbErr(err, "get %s %s", t, id)
	}
	return &row, nil
}

// GetByNaturalKey returns the row holding key, or a NOT_FOUND error.
func (s *Session) GetByNaturalKey(ctx context.Context, t models.Table, key string) (*models.Row, error) {
	name, err := tableName(t)
	if err != nil {
		return nil, err
	}
	var row models.Row
	err = sqlx.GetContext(ctx, s.ext, &row, fmt.Sprintf("SELECT %s FROM %s WHERE natural_key = ?", rowColumns, name), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s natural key not found", t)
	}
	if err != nil {
		return nil, dbErr(err, "get %s by natural key", t)
	}
	return &row, nil
}

// GetEntity loads and decodes the entity with id.
func (s *Session) GetEntity(ctx context.Context, t models.Table, id string) (models.Entity, models.SyncStatus, error) {
	row, err := s.Get(ctx, t, id)
	if err != nil {
		return nil, "", err
	}
	e, err := models.Decode(t, row)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrDatabase, "decode stored row", err)
	}
	return e, row.SyncStatus, nil
}

func (s *Session) upsert(ctx context.Context, name string, row *models.Row) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, user_id, natural_key, sync_status, data, updated_at)
		VALUES (:id, :user_id, NULLIF(:natural_key, ''), :sync_status, :data, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			natural_key = excluded.natural_key,
			sync_status = excluded.sync_status,
			data = excluded.data,
			updated_at = excluded.updated_at`, name)
	_, err := sqlx.NamedExecContext(ctx, s.ext, q, row)
	return err
}

// PutEntity stores e with status and reports whether a row with e's final
// id already existed. When e's table has a natural key already held by
// another row, e adopts that row's id, so the write updates the existing
// record instead of creating a second one.
func (s *Session) PutEntity(ctx context.Context, e models.Entity, status models.SyncStatus) (*models.Row, bool, error) {
	t := e.Table()
	name, err := tableName(t)
	if err != nil {
		return nil, false, err
	}
	if key := models.NaturalKeyOf(e); key != "" {
		holder, err := s.GetByNaturalKey(ctx, t, key)
		switch {
		case err == nil:
			if holder.ID != e.EntityID() {
				e.SetEntityID(holder.ID)
			}
		case !apperrors.Is(err, apperrors.ErrNotFound):
			return nil, false, err
		}
	}
	if e.EntityID() == "" {
		return nil, false, apperrors.Newf(apperrors.ErrInvalid, "%s entity without id", t)
	}

	existed := true
	if _, err := s.Get(ctx, t, e.EntityID()); err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, false, err
		}
		existed = false
	}

	row, err := models.Encode(e, status, s.now())
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrInvalid, "encode entity", err)
	}
	if err := s.upsert(ctx, name, row); err != nil {
		return nil, false, dbErr(err, "put %s %s", t, row.ID)
	}
	return row, existed, nil
}

// ReplaceRow writes row as-is. A different row holding the same natural
// key is removed first, together with its unsent mutations: the incoming
// row wins.
func (s *Session) ReplaceRow(ctx context.Context, t models.Table, row *models.Row) error {
	name, err := tableName(t)
	if err != nil {
		return err
	}
	if row.ID == "" {
		return apperrors.Newf(apperrors.ErrInvalid, "%s row without id", t)
	}
	if row.NaturalKey != "" {
		holder, err := s.GetByNaturalKey(ctx, t, row.NaturalKey)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if holder != nil && holder.ID != row.ID {
			if _, err := s.DeleteEntityMutations(ctx, t, holder.ID, models.QueuePending, models.QueueFailed); err != nil {
				return err
			}
			if err := s.DeleteRow(ctx, t, holder.ID); err != nil {
				return err
			}
		}
	}
	if row.UpdatedAt == 0 {
		row.UpdatedAt = s.now()
	}
	if err := s.upsert(ctx, name, row); err != nil {
		return dbErr(err, "replace %s %s", t, row.ID)
	}
	return nil
}

// SetStatus changes the sync status of one row.
func (s *Session) SetStatus(ctx context.Context, t models.Table, id string, status models.SyncStatus) error {
	name, err := tableName(t)
	if err != nil {
		return err
	}
	res, err := s.ext.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET sync_status = ?, updated_at = ? WHERE id = ?", name),
		status, s.now(), id)
	if err != nil {
		return dbErr(err, "set %s %s status", t, id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", t, id)
	}
	return nil
}

// DeleteRow removes a row. Deleting a missing row is not an error.
func (s *Session) DeleteRow(ctx context.Context, t models.Table, id string) error {
	name, err := tableName(t)
	if err != nil {
		return err
	}
	if _, err := s.ext.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", name), id); err != nil {
		return dbErr(err, "delete %s %s", t, id)
	}
	return nil
}

// List returns rows matching f, oldest update first.
func (s *Session) List(ctx context.Context, t models.Table, f Filter) ([]*models.Row, error) {
	name, err := tableName(t)
	if err != nil {
		return nil, err
	}
	where, args := f.where()
	var rows []*models.Row
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY updated_at, id", rowColumns, name, where)
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, args...); err != nil {
		return nil, dbErr(err, "list %s", t)
	}
	return rows, nil
}

// Count returns the number of rows matching f.
func (s *Session) Count(ctx context.Context, t models.Table, f Filter) (int, error) {
	name, err := tableName(t)
	if err != nil {
		return 0, err
	}
	where, args := f.where()
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", name, where), args...); err != nil {
		return 0, dbErr(err, "count %s", t)
	}
	return n, nil
}
