package models

import (
	"encoding/json"
	"fmt"
)

// Row is the stored form of an entity: indexed columns plus the full
// entity as a JSON document.
type Row struct {
	ID         string          `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	NaturalKey string          `db:"natural_key" json:"natural_key,omitempty"`
	SyncStatus SyncStatus      `db:"sync_status" json:"sync_status"`
	Data       json.RawMessage `db:"data" json:"data"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// Encode converts an entity into a Row with the given status.
func Encode(e Entity, status SyncStatus, updatedAt int64) (*Row, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", e.Table(), e.EntityID(), err)
	}
	return &Row{
		ID:         e.EntityID(),
		UserID:     e.OwnerID(),
		NaturalKey: NaturalKeyOf(e),
		SyncStatus: status,
		Data:       data,
		UpdatedAt:  updatedAt,
	}, nil
}

// Decode converts a row back into a typed entity of table t.
func Decode(t Table, r *Row) (Entity, error) {
	e, err := t.New()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Data, e); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", t, r.ID, err)
	}
	e.SetEntityID(r.ID)
	return e, nil
}

// DecodeRecord builds a typed entity from a remote column map.
// Columns the entity does not model are dropped.
func DecodeRecord(t Table, rec map[string]interface{}) (Entity, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	e, err := t.New()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode remote %s row: %w", t, err)
	}
	if e.EntityID() == "" {
		return nil, fmt.Errorf("remote %s row without id", t)
	}
	return e, nil
}

// RecordOf converts an entity into a column map for the remote store.
func RecordOf(e Entity) (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	rec := make(map[string]interface{})
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
