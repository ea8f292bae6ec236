package models

import (
	"strconv"
	"strings"
)

// Entity is a record of one of the mirrored tables.
type Entity interface {
	Table() Table
	EntityID() string
	SetEntityID(id string)
	OwnerID() string
}

// NaturallyKeyed entities are unique on a combination of business fields,
// independent of their id.
type NaturallyKeyed interface {
	NaturalKey() string
}

// NaturalKeyOf returns e's natural key, or "" when its table has none.
func NaturalKeyOf(e Entity) string {
	if !e.Table().HasNaturalKey() {
		return ""
	}
	if nk, ok := e.(NaturallyKeyed); ok {
		return nk.NaturalKey()
	}
	return ""
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// Base carries the fields shared by every entity.
type Base struct {
	ID     string `json:"id"`
	UserID string `json:"user_id" validate:"required"`
}

// EntityID returns the entity's id.
func (b *Base) EntityID() string { return b.ID }

// SetEntityID replaces the entity's id.
func (b *Base) SetEntityID(id string) { b.ID = id }

// OwnerID returns the owning user's id.
func (b *Base) OwnerID() string { return b.UserID }

// Student is a pupil in one of the teacher's classes.
type Student struct {
	Base
	Name     string `json:"name" validate:"required"`
	Number   int    `json:"number" validate:"gte=0"`
	Initials string `json:"initials,omitempty"`
	Color    string `json:"color,omitempty"`
	ClassID  string `json:"class_id,omitempty"`
	Section  string `json:"section,omitempty"`
}

func (*Student) Table() Table { return TableStudents }

// AttendanceRecord marks one student's presence for one lesson period.
type AttendanceRecord struct {
	Base
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Status    string `json:"status" validate:"required,oneof=P F J S"`
	Subject   string `json:"subject"`
	Unit      string `json:"unit,omitempty"`
	Period    int    `json:"period" validate:"gte=0"`
}

func (*AttendanceRecord) Table() Table { return TableAttendance }

// NaturalKey is (student_id, date, subject, period).
func (a *AttendanceRecord) NaturalKey() string {
	return joinKey(a.StudentID, a.Date, a.Subject, strconv.Itoa(a.Period))
}

// GradeRecord holds one student's marks for a unit of a subject.
type GradeRecord struct {
	Base
	StudentID   string             `json:"student_id" validate:"required"`
	Unit        string             `json:"unit" validate:"required"`
	Subject     string             `json:"subject"`
	Scores      map[string]float64 `json:"scores,omitempty" validate:"omitempty,dive,gte=0"`
	Observation string             `json:"observation,omitempty"`
}

func (*GradeRecord) Table() Table { return TableGrades }

// NaturalKey is (student_id, unit, subject).
func (g *GradeRecord) NaturalKey() string {
	return joinKey(g.StudentID, g.Unit, g.Subject)
}

// Occurrence is a behavioural or pedagogical note about a student.
type Occurrence struct {
	Base
	StudentID   string `json:"student_id" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Unit        string `json:"unit,omitempty"`
}

func (*Occurrence) Table() Table { return TableOccurrences }

// Activity is an assignment handed to a class section.
type Activity struct {
	Base
	Title       string   `json:"title" validate:"required"`
	Type        string   `json:"type,omitempty"`
	ClassID     string   `json:"class_id,omitempty"`
	Section     string   `json:"section,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Date        string   `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartDate   string   `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate     string   `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description string   `json:"description,omitempty"`
	Completions []string `json:"completions,omitempty"`
}

func (*Activity) Table() Table { return TableActivities }

// ClassConfig describes a class and its sections.
type ClassConfig struct {
	Base
	Name     string   `json:"name" validate:"required"`
	Sections []string `json:"sections,omitempty"`
	Subject  string   `json:"subject,omitempty"`
}

func (*ClassConfig) Table() Table { return TableClasses }

// ScheduleSlot is one lesson in the weekly timetable.
type ScheduleSlot struct {
	Base
	ClassID   string `json:"class_id" validate:"required"`
	Section   string `json:"section,omitempty"`
	DayOfWeek int    `json:"day_of_week" validate:"gte=0,lte=6"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Subject   string `json:"subject,omitempty"`
}

func (*ScheduleSlot) Table() Table { return TableTimetable }
