package sync

import (
	"context"
	"time"
)

// SyncEngineInterface is what the scheduler and the HTTP surface need from
// the mutation queue processor.
type SyncEngineInterface interface {
	// Drain runs one pass over the pending mutations.
	Drain(ctx context.Context) (*DrainResult, error)

	// RefreshPending recounts pending mutations and publishes the count.
	RefreshPending(ctx context.Context) (int, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the end time of the last completed pass.
	LastSync() *time.Time

	// PendingChanges returns the last known number of pending mutations.
	PendingChanges() int

	// LastError returns the last error seen by a pass.
	LastError() error
}

var _ SyncEngineInterface = (*SyncEngine)(nil)
