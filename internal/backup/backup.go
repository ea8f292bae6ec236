// Package backup serialises the whole local store to a single document and
// restores it, for hosts that keep their own copy on disk.
package backup

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

// FormatVersion is written to every document.
const FormatVersion = 1

// Document is a full backup: rows keyed by local table name, plus the
// unconfirmed mutations so that restored pending rows still reach the
// remote store.
type Document struct {
	Version   int                      `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Tables    map[string][]*models.Row `json:"tables"`
	Queue     []*models.QueuedMutation `json:"queue,omitempty"`
}

// RowCount returns the number of rows across all tables.
func (d *Document) RowCount() int {
	n := 0
	for _, rows := range d.Tables {
		n += len(rows)
	}
	return n
}

// ImportOptions controls Import.
type ImportOptions struct {
	// RestoreQueue re-enqueues the document's mutations. Only safe when
	// the local queue does not already hold them.
	RestoreQueue bool
}

// ImportResult reports what Import wrote.
type ImportResult struct {
	Tables   map[string]int `json:"tables"`
	Rows     int            `json:"rows"`
	Queued   int            `json:"queued"`
	Duration time.Duration  `json:"duration"`
}

// Service exports and imports documents.
type Service struct {
	store *db.Store
}

// NewService creates a Service.
func NewService(store *db.Store) *Service {
	return &Service{store: store}
}

// Export reads every table and the queue in one transaction.
func (s *Service) Export(ctx context.Context) (*Document, error) {
	doc := &Document{
		Version:   FormatVersion,
		Timestamp: time.Now().UTC(),
		Tables:    make(map[string][]*models.Row),
	}
	err := s.store.InTx(ctx, func(sess *db.Session) error {
		for _, t := range models.Tables() {
			rows, err := sess.List(ctx, t, db.Filter{})
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []*models.Row{}
			}
			doc.Tables[t.LocalName()] = rows
		}
		queued, err := sess.Mutations(ctx)
		if err != nil {
			return err
		}
		doc.Queue = queued
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "export local store", err)
	}
	return doc, nil
}

// Validate checks the document shape and every row in it.
func (d *Document) Validate() error {
	if d == nil || d.Tables == nil {
		return apperrors.New(apperrors.ErrBackupInvalid, "backup has no tables")
	}
	for name, rows := range d.Tables {
		t, err := models.ParseTable(name)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrBackupInvalid, "backup names an unknown table", err)
		}
		for _, row := range rows {
			if row == nil || row.ID == "" {
				return apperrors.Newf(apperrors.ErrBackupInvalid, "%s row without id", t)
			}
			if _, err := models.Decode(t, row); err != nil {
				return apperrors.Wrap(apperrors.ErrBackupInvalid, "malformed row", err)
			}
		}
	}
	for _, m := range d.Queue {
		if m == nil || !m.Table.Valid() || !m.Operation.Valid() || m.EntityID == "" {
			return apperrors.New(apperrors.ErrBackupInvalid, "malformed queued mutation")
		}
	}
	return nil
}

// Import writes every row of doc in a single transaction, overwriting
// rows with the same id. Tables absent from doc are left alone.
func (s *Service) Import(ctx context.Context, doc *Document, opts ImportOptions) (*ImportResult, error) {
	start := time.Now()
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	result := &ImportResult{Tables: make(map[string]int)}
	err := s.store.InTx(ctx, func(sess *db.Session) error {
		for name, rows := range doc.Tables {
			t, _ := models.ParseTable(name)
			for _, row := range rows {
				restored, err := restoreRow(t, row)
				if err != nil {
					return err
				}
				if err := sess.ReplaceRow(ctx, t, restored); err != nil {
					return err
				}
			}
			result.Tables[name] = len(rows)
			result.Rows += len(rows)
		}
		if !opts.RestoreQueue {
			return nil
		}
		for _, m := range doc.Queue {
			cp := *m
			cp.ID = 0
			if cp.Status == models.QueueProcessing {
				cp.Status = models.QueuePending
			}
			if err := sess.Enqueue(ctx, &cp); err != nil {
				return err
			}
			result.Queued++
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrImportFailed, "import backup", err)
	}
	result.Duration = time.Since(start)

	logging.Info("backup imported", map[string]interface{}{
		"rows":        result.Rows,
		"queued":      result.Queued,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

// restoreRow rebuilds the indexed columns from the row's data, keeping
// its status and timestamp.
func restoreRow(t models.Table, row *models.Row) (*models.Row, error) {
	e, err := models.Decode(t, row)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupInvalid, "malformed row", err)
	}
	status := row.SyncStatus
	if status == "" {
		status = models.StatusSynced
	}
	out, err := models.Encode(e, status, row.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupInvalid, "malformed row", err)
	}
	if out.UserID == "" {
		out.UserID = row.UserID
	}
	return out, nil
}

// IsEmpty reports whether the store holds no students, the signal used to
// decide that a restore is needed.
func (s *Service) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.store.Count(ctx, models.TableStudents, db.Filter{})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Encode writes doc as JSON.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return apperrors.Wrap(apperrors.ErrExportFailed, "encode backup", err)
	}
	return nil
}

// Decode reads and validates a document.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrBackupInvalid, "decode backup", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
