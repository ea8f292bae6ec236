// Package models provides the records mirrored between the local store
// and the remote store, plus the queue and status types that track them.
package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Table is one of the mirrored tables. The set is closed; a Table value
// outside it is rejected by every store operation.
type Table int

const (
	TableStudents Table = iota + 1
	TableAttendance
	TableGrades
	TableOccurrences
	TableActivities
	TableClasses
	TableTimetable
)

type tableInfo struct {
	local   string
	remote  string
	natural bool
}

var tables = map[Table]tableInfo{
	TableStudents:    {local: "students", remote: "students"},
	TableAttendance:  {local: "attendance", remote: "attendance", natural: true},
	TableGrades:      {local: "grades", remote: "grades", natural: true},
	TableOccurrences: {local: "occurrences", remote: "occurrences"},
	TableActivities:  {local: "activities", remote: "activities"},
	TableClasses:     {local: "classes", remote: "classes"},
	// The remote store calls the weekly timetable "schedules".
	TableTimetable: {local: "timetable", remote: "schedules"},
}

// Tables returns every mirrored table in a stable order.
func Tables() []Table {
	return []Table{
		TableStudents, TableAttendance, TableGrades, TableOccurrences,
		TableActivities, TableClasses, TableTimetable,
	}
}

// ParseTable resolves a local table name.
func ParseTable(name string) (Table, error) {
	name = strings.TrimSpace(name)
	for t, info := range tables {
		if info.local == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unsupported table %q", name)
}

// Valid reports whether t is one of the mirrored tables.
func (t Table) Valid() bool {
	_, ok := tables[t]
	return ok
}

// LocalName is the table's name in the local store and in backups.
func (t Table) LocalName() string {
	return tables[t].local
}

// RemoteName is the table's name in the remote store.
func (t Table) RemoteName() string {
	return tables[t].remote
}

// HasNaturalKey reports whether rows of t are unique on a natural key.
func (t Table) HasNaturalKey() bool {
	return tables[t].natural
}

func (t Table) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Table(%d)", int(t))
	}
	return t.LocalName()
}

// New returns an empty entity of the table's type.
func (t Table) New() (Entity, error) {
	switch t {
	case TableStudents:
		return &Student{}, nil
	case TableAttendance:
		return &AttendanceRecord{}, nil
	case TableGrades:
		return &GradeRecord{}, nil
	case TableOccurrences:
		return &Occurrence{}, nil
	case TableActivities:
		return &Activity{}, nil
	case TableClasses:
		return &ClassConfig{}, nil
	case TableTimetable:
		return &ScheduleSlot{}, nil
	}
	return nil, fmt.Errorf("unsupported table %s", t)
}

// MarshalText encodes the table by its local name.
func (t Table) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unsupported table %d", int(t))
	}
	return []byte(t.LocalName()), nil
}

// UnmarshalText decodes a local table name.
func (t *Table) UnmarshalText(b []byte) error {
	parsed, err := ParseTable(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer.
func (t Table) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unsupported table %d", int(t))
	}
	return t.LocalName(), nil
}

// Scan implements sql.Scanner.
func (t *Table) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		return t.UnmarshalText([]byte(v))
	case []byte:
		return t.UnmarshalText(v)
	}
	return fmt.Errorf("cannot scan %T into Table", value)
}
