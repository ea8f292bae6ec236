package sync

import "time"

// SyncEventType names an event published by the sync layer.
type SyncEventType string

const (
	SyncEventStarted        SyncEventType = "sync.started"
	SyncEventCompleted      SyncEventType = "sync.completed"
	SyncEventSkipped        SyncEventType = "sync.skipped"
	SyncEventItemFailed     SyncEventType = "sync.item_failed"
	SyncEventItemTerminal   SyncEventType = "sync.item_terminal"
	SyncEventPendingChanged SyncEventType = "sync.pending_changed"
	SyncEventPullStarted    SyncEventType = "pull.started"
	SyncEventPullCompleted  SyncEventType = "pull.completed"
	SyncEventPullFailed     SyncEventType = "pull.failed"
)

// SyncEvent is delivered to the registered SyncEventHandler.
type SyncEvent struct {
	Type      SyncEventType          `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SyncEventHandler receives sync events. Handlers run on the publishing
// goroutine and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent implements SyncEventHandler.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// MultiHandler fans an event out to several handlers.
type MultiHandler []SyncEventHandler

// OnSyncEvent implements SyncEventHandler.
func (m MultiHandler) OnSyncEvent(event SyncEvent) {
	for _, h := range m {
		if h != nil {
			h.OnSyncEvent(event)
		}
	}
}
