// Package reconcile pulls the current user's rows from the remote store and
// overwrites the local mirror with them.
package reconcile

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
	syncpkg "github.com/MrBigodon205/app-de-professor-sub003/internal/sync"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/telemetry"
)

// DefaultPageSize is the number of rows requested per remote select.
const DefaultPageSize = 1000

// TableResult counts what a pull did to one table.
type TableResult struct {
	Fetched int `json:"fetched"`
	Written int `json:"written"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// Result summarises one pull.
type Result struct {
	UserID    string                 `json:"user_id"`
	StartTime time.Time              `json:"start_time"`
	Duration  time.Duration          `json:"duration"`
	Tables    map[string]TableResult `json:"tables"`
}

// Puller runs pulls. Concurrent pulls are serialised.
type Puller struct {
	store    *db.Store
	remote   remote.Client
	pageSize int
	tables   []models.Table

	run     stdsync.Mutex
	mu      stdsync.RWMutex
	handler syncpkg.SyncEventHandler
	last    *Result
}

// NewPuller creates a Puller over every mirrored table.
func NewPuller(store *db.Store, client remote.Client) *Puller {
	return &Puller{
		store:    store,
		remote:   client,
		pageSize: DefaultPageSize,
		tables:   models.Tables(),
	}
}

// SetPageSize changes the remote page size.
func (p *Puller) SetPageSize(n int) {
	if n > 0 {
		p.pageSize = n
	}
}

// SetEventHandler sets the receiver of pull events.
func (p *Puller) SetEventHandler(h syncpkg.SyncEventHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Last returns the result of the last successful pull.
func (p *Puller) Last() *Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *Puller) emit(ev syncpkg.SyncEvent) {
	ev.Timestamp = time.Now()
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h != nil {
		h.OnSyncEvent(ev)
	}
}

// Pull fetches every table for userID and, only once all fetches have
// succeeded, writes them in a single transaction. Each remote row is
// stored as synced; local synced rows the remote no longer has are
// removed. Local rows with queued changes that are absent remotely are
// left alone, but a remote row always overwrites the local row with the
// same id or natural key, whatever its status.
//
// A failed fetch abandons the pull and leaves the local store untouched.
func (p *Puller) Pull(ctx context.Context, userID string) (*Result, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no user configured for pull")
	}
	p.run.Lock()
	defer p.run.Unlock()

	result := &Result{UserID: userID, StartTime: time.Now(), Tables: make(map[string]TableResult)}
	p.emit(syncpkg.SyncEvent{Type: syncpkg.SyncEventPullStarted, Data: map[string]interface{}{"user_id": userID}})

	fetched := make(map[models.Table][]remote.Record, len(p.tables))
	for _, t := range p.tables {
		recs, err := remote.SelectAll(ctx, p.remote, t, remote.OwnedBy(userID), p.pageSize)
		if err != nil {
			return nil, p.fail(apperrors.Wrap(apperrors.ErrReconcileFailed, "fetch "+t.RemoteName(), err), t)
		}
		fetched[t] = recs
	}

	err := p.store.InTx(ctx, func(sess *db.Session) error {
		for _, t := range p.tables {
			tr, err := overwrite(ctx, sess, t, userID, fetched[t])
			if err != nil {
				return err
			}
			result.Tables[t.String()] = tr
		}
		return nil
	})
	if err != nil {
		return nil, p.fail(apperrors.Wrap(apperrors.ErrReconcileFailed, "write pulled rows", err), 0)
	}

	result.Duration = time.Since(result.StartTime)
	p.mu.Lock()
	p.last = result
	p.mu.Unlock()

	data := map[string]interface{}{"user_id": userID, "duration_ms": result.Duration.Milliseconds()}
	for name, tr := range result.Tables {
		data[name] = tr.Fetched
	}
	logging.Info("pull completed", data)
	p.emit(syncpkg.SyncEvent{Type: syncpkg.SyncEventPullCompleted, Data: data})
	telemetry.RecordTiming("sync.pull", result.Duration, nil)
	return result, nil
}

func overwrite(ctx context.Context, sess *db.Session, t models.Table, userID string, recs []remote.Record) (TableResult, error) {
	tr := TableResult{Fetched: len(recs)}
	seen := make(map[string]bool, len(recs))
	now := sess.Now()

	for _, rec := range recs {
		e, err := models.DecodeRecord(t, rec)
		if err != nil {
			// One malformed remote row should not block the rest.
			logging.Warn("skipping remote row", map[string]interface{}{"table": t.String(), "error": err.Error()})
			tr.Skipped++
			continue
		}
		row, err := models.Encode(e, models.StatusSynced, now)
		if err != nil {
			return tr, err
		}
		if err := sess.ReplaceRow(ctx, t, row); err != nil {
			return tr, err
		}
		seen[row.ID] = true
		tr.Written++
	}

	local, err := sess.List(ctx, t, db.Filter{UserID: userID, Status: models.StatusSynced})
	if err != nil {
		return tr, err
	}
	for _, row := range local {
		if seen[row.ID] {
			continue
		}
		if err := sess.DeleteRow(ctx, t, row.ID); err != nil {
			return tr, err
		}
		tr.Removed++
	}
	return tr, nil
}

func (p *Puller) fail(err error, t models.Table) error {
	fields := map[string]interface{}{}
	if t.Valid() {
		fields["table"] = t.String()
	}
	logging.ErrorWithCode("pull abandoned", string(apperrors.Code(err)), err, fields)
	telemetry.TrackError(err, fields)
	p.emit(syncpkg.SyncEvent{Type: syncpkg.SyncEventPullFailed, Message: err.Error(), Data: fields})
	return err
}
