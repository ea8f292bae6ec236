package models

// SyncStatus tags a local row with where it stands against the remote store.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pending_create"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusPendingDelete SyncStatus = "pending_delete"
	StatusFailed        SyncStatus = "failed"
)

// Pending reports whether the row has local changes not yet confirmed remotely.
func (s SyncStatus) Pending() bool {
	return s == StatusPendingCreate || s == StatusPendingUpdate || s == StatusPendingDelete
}

// Operation is the kind of write a queued mutation replays.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// PendingStatus is the row status a queued operation leaves behind.
func (o Operation) PendingStatus() SyncStatus {
	switch o {
	case OpInsert:
		return StatusPendingCreate
	case OpDelete:
		return StatusPendingDelete
	}
	return StatusPendingUpdate
}

// QueueStatus is the lifecycle state of a queued mutation.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)
