package models

import "encoding/json"

// QueuedMutation is a durable record of a write not yet confirmed by the
// remote store. A confirmed mutation is deleted, never kept as "done".
type QueuedMutation struct {
	ID         int64           `db:"id" json:"id"`
	Table      Table           `db:"table_name" json:"table"`
	Operation  Operation       `db:"operation" json:"operation"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Status     QueueStatus     `db:"status" json:"status"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  int64           `db:"created_at" json:"created_at"` // unix millis, drain order
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueuedMutation.
func (QueuedMutation) TableName() string {
	return "sync_queue"
}

// Record decodes the payload into a column map for the remote store.
func (m *QueuedMutation) Record() (map[string]interface{}, error) {
	rec := make(map[string]interface{})
	if len(m.Payload) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(m.Payload, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
