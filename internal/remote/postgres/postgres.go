// Package postgres writes to the remote store directly over a Postgres
// connection, for deployments that skip the HTTP API.
package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
)

// Config holds the connection settings.
type Config struct {
	DSN           string
	SlowThreshold time.Duration
	// DryRun builds statements without a live connection.
	DryRun bool
}

// Client implements remote.Client with gorm.
type Client struct {
	db *gorm.DB
}

var _ remote.Client = (*Client)(nil)

// Open connects to the remote database.
func Open(cfg Config) (*Client, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:               NewGormLogger(cfg.SlowThreshold),
		DryRun:               cfg.DryRun,
		DisableAutomaticPing: cfg.DryRun,
	})
	if err != nil {
		return nil, classify("connect", err)
	}
	return &Client{db: db}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Select implements remote.Client. Rows are read as jsonb documents so
// every column type decodes the same way the HTTP API would return it.
func (c *Client) Select(ctx context.Context, t models.Table, q remote.Query) ([]remote.Record, error) {
	if err := remote.CheckTable(t); err != nil {
		return nil, err
	}
	query, args := selectSQL(t, q)
	rows, err := c.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, classify("select "+t.RemoteName(), err)
	}
	defer rows.Close()

	var out []remote.Record
	for rows.Next() {
		var doc datatypes.JSON
		if err := rows.Scan(&doc); err != nil {
			return nil, classify("scan "+t.RemoteName(), err)
		}
		rec := make(remote.Record)
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrRemoteRejected, "decode row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("select "+t.RemoteName(), err)
	}
	return out, nil
}

func selectSQL(t models.Table, q remote.Query) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT to_jsonb(t) FROM ? AS t")
	args := []interface{}{clause.Table{Name: t.RemoteName()}}
	for i, f := range q.Eq {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString("? = ?")
		args = append(args, clause.Column{Table: "t", Name: f.Column}, f.Value)
	}
	if q.Order != "" {
		sb.WriteString(" ORDER BY ?")
		args = append(args, clause.Column{Table: "t", Name: q.Order})
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}
	return sb.String(), args
}

// Insert implements remote.Client.
func (c *Client) Insert(ctx context.Context, t models.Table, rec remote.Record) error {
	if err := remote.CheckTable(t); err != nil {
		return err
	}
	err := c.db.WithContext(ctx).Table(t.RemoteName()).Create(columnValues(rec)).Error
	return classify("insert "+t.RemoteName(), err)
}

// Update implements remote.Client.
func (c *Client) Update(ctx context.Context, t models.Table, id string, rec remote.Record) error {
	if err := remote.CheckTable(t); err != nil {
		return err
	}
	values := columnValues(rec)
	delete(values, "id")
	if len(values) == 0 {
		return nil
	}
	err := c.db.WithContext(ctx).Table(t.RemoteName()).Where("id = ?", id).Updates(values).Error
	return classify("update "+t.RemoteName(), err)
}

// Upsert implements remote.Client.
func (c *Client) Upsert(ctx context.Context, t models.Table, rec remote.Record) error {
	if err := remote.CheckTable(t); err != nil {
		return err
	}
	return classify("upsert "+t.RemoteName(), upsertStmt(c.db.WithContext(ctx), t, rec).Error)
}

func upsertStmt(db *gorm.DB, t models.Table, rec remote.Record) *gorm.DB {
	values := columnValues(rec)
	return db.Table(t.RemoteName()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(updateColumns(values)),
	}).Create(values)
}

// Delete implements remote.Client.
func (c *Client) Delete(ctx context.Context, t models.Table, id string) error {
	if err := remote.CheckTable(t); err != nil {
		return err
	}
	err := c.db.WithContext(ctx).Exec("DELETE FROM ? WHERE id = ?", clause.Table{Name: t.RemoteName()}, id).Error
	return classify("delete "+t.RemoteName(), err)
}

// columnValues converts nested JSON values into jsonb parameters.
func columnValues(rec remote.Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			data, err := json.Marshal(v)
			if err != nil {
				out[k] = v
				continue
			}
			out[k] = datatypes.JSON(data)
		default:
			out[k] = v
		}
	}
	return out
}

// updateColumns lists every column except id, sorted for stable SQL.
func updateColumns(values map[string]interface{}) []string {
	cols := make([]string, 0, len(values))
	for k := range values {
		if k != "id" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return cols
}


// classify maps driver errors onto remote error codes. Auth and
// connection-class SQLSTATEs are told apart from constraint and data
// errors, which a retry cannot fix.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case code == "28000" || code == "28P01" || code == "42501":
			return apperrors.Wrap(apperrors.ErrRemoteAuth, op, err)
		case strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57P"):
			return apperrors.Wrap(apperrors.ErrRemoteUnavailable, op, err)
		case code == "57014":
			return apperrors.Wrap(apperrors.ErrRemoteTimeout, op, err)
		}
		return apperrors.Wrap(apperrors.ErrRemoteRejected, fmt.Sprintf("%s (sqlstate %s)", op, code), err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, op, err)
	}
	if errors.Is(err, gorm.ErrInvalidData) || errors.Is(err, gorm.ErrInvalidField) {
		return apperrors.Wrap(apperrors.ErrRemoteRejected, op, err)
	}
	return remote.ClassifyTransport(op, err)
}
