// Package entity defines the synchronized domain records of the planner
// and their wire representation.
//
// Every record arrives from the server as one JSON object per changed row
// with snake_case field names. Decode converts a raw payload into the typed
// record for its table; ExtractID pulls just the primary key, which is all
// the delete path needs.
package entity

import (
	"encoding/json"
	"fmt"
)

// Table identifies a synchronized server table.
type Table string

const (
	TableAcademicCalendars Table = "academic_calendars"
	TableCategories        Table = "categories"
	TableSchedules         Table = "schedules"
	TableCourses           Table = "courses"
	TableCourseMeetings    Table = "course_meetings"
	TableAssignments       Table = "assignments"
	TableEvents            Table = "events"

	// TableScheduleItems is synchronized but excluded from the fixed full
	// sync order: items ride along with their parent schedule fetch.
	TableScheduleItems Table = "schedule_items"
)

// SyncOrder returns every synchronized table in the order the initial full
// sync must fetch them. Parents come before children so that a validation
// pass run right after sync sees referenced rows before referencing ones.
func SyncOrder() []Table {
	return []Table{
		TableAcademicCalendars,
		TableCategories,
		TableSchedules,
		TableCourses,
		TableCourseMeetings,
		TableAssignments,
		TableEvents,
	}
}

// SubscribedTables returns every table a change-stream subscription is
// opened for: the full sync order plus schedule_items. Items carry no user
// column, so their bulk fetch runs last and unfiltered, after every parent
// table has been replaced.
func SubscribedTables() []Table {
	return append(SyncOrder(), TableScheduleItems)
}

// Valid reports whether t names a known synchronized table.
func (t Table) Valid() bool {
	if t == TableScheduleItems {
		return true
	}
	for _, known := range SyncOrder() {
		if t == known {
			return true
		}
	}
	return false
}

// UserFiltered reports whether the table carries a direct owning-user column
// that the server filters subscriptions by. Tables owned transitively through
// a schedule (items, meetings) rely on the parent's filter instead.
func (t Table) UserFiltered() bool {
	switch t {
	case TableScheduleItems, TableCourseMeetings:
		return false
	}
	return true
}

// Record is any synchronized domain record.
type Record interface {
	// EntityID returns the record's opaque unique identifier.
	EntityID() string
}

// Decode converts a raw row payload into the typed record for table.
func Decode(table Table, payload json.RawMessage) (Record, error) {
	var (
		rec Record
		err error
	)
	switch table {
	case TableAcademicCalendars:
		var v AcademicCalendar
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableCategories:
		var v Category
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableSchedules:
		var v ScheduleCollection
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableCourses:
		var v Course
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableCourseMeetings:
		var v CourseMeeting
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableAssignments:
		var v Assignment
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableEvents:
		var v Event
		err = json.Unmarshal(payload, &v)
		rec = &v
	case TableScheduleItems:
		var v ScheduleItem
		err = json.Unmarshal(payload, &v)
		rec = &v
	default:
		return nil, fmt.Errorf("unknown table: %s", table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", table, err)
	}
	if rec.EntityID() == "" {
		return nil, fmt.Errorf("%s payload missing id", table)
	}
	return rec, nil
}

// ExtractID pulls the primary key out of a raw row payload without decoding
// the full record. DELETE events often carry only the key columns.
func ExtractID(payload json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("failed to extract id: %w", err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("payload has no id field")
	}
	return probe.ID, nil
}
