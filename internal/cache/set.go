package cache

import (
	"github.com/planora/planora-sync/internal/entity"
)

// Set bundles one cache per synchronized table. It is the unit the engine
// owns and the validator reads.
type Set struct {
	Calendars   *Cache[*entity.AcademicCalendar]
	Categories  *Cache[*entity.Category]
	Schedules   *Cache[*entity.ScheduleCollection]
	Courses     *Cache[*entity.Course]
	Meetings    *Cache[*entity.CourseMeeting]
	Assignments *Cache[*entity.Assignment]
	Events      *Cache[*entity.Event]
	Items       *Cache[*entity.ScheduleItem]
}

// NewSet creates an empty cache set.
func NewSet() *Set {
	return &Set{
		Calendars:   New[*entity.AcademicCalendar](),
		Categories:  New[*entity.Category](),
		Schedules:   New[*entity.ScheduleCollection](),
		Courses:     New[*entity.Course](),
		Meetings:    New[*entity.CourseMeeting](),
		Assignments: New[*entity.Assignment](),
		Events:      New[*entity.Event](),
		Items:       New[*entity.ScheduleItem](),
	}
}

// Clear empties every cache. Called on sign-out.
func (s *Set) Clear() {
	s.Calendars.Clear()
	s.Categories.Clear()
	s.Schedules.Clear()
	s.Courses.Clear()
	s.Meetings.Clear()
	s.Assignments.Clear()
	s.Events.Clear()
	s.Items.Clear()
}

// Apply upserts a decoded record into the cache for its table.
func (s *Set) Apply(table entity.Table, rec entity.Record) {
	switch table {
	case entity.TableAcademicCalendars:
		if v, ok := rec.(*entity.AcademicCalendar); ok {
			s.Calendars.Put(v)
		}
	case entity.TableCategories:
		if v, ok := rec.(*entity.Category); ok {
			s.Categories.Put(v)
		}
	case entity.TableSchedules:
		if v, ok := rec.(*entity.ScheduleCollection); ok {
			s.Schedules.Put(v)
		}
	case entity.TableCourses:
		if v, ok := rec.(*entity.Course); ok {
			s.Courses.Put(v)
		}
	case entity.TableCourseMeetings:
		if v, ok := rec.(*entity.CourseMeeting); ok {
			s.Meetings.Put(v)
		}
	case entity.TableAssignments:
		if v, ok := rec.(*entity.Assignment); ok {
			s.Assignments.Put(v)
		}
	case entity.TableEvents:
		if v, ok := rec.(*entity.Event); ok {
			s.Events.Put(v)
		}
	case entity.TableScheduleItems:
		if v, ok := rec.(*entity.ScheduleItem); ok {
			s.Items.Put(v)
		}
	}
}

// Remove deletes an id from the cache for its table. Absent ids are no-ops.
func (s *Set) Remove(table entity.Table, id string) {
	switch table {
	case entity.TableAcademicCalendars:
		s.Calendars.Delete(id)
	case entity.TableCategories:
		s.Categories.Delete(id)
	case entity.TableSchedules:
		s.Schedules.Delete(id)
	case entity.TableCourses:
		s.Courses.Delete(id)
	case entity.TableCourseMeetings:
		s.Meetings.Delete(id)
	case entity.TableAssignments:
		s.Assignments.Delete(id)
	case entity.TableEvents:
		s.Events.Delete(id)
	case entity.TableScheduleItems:
		s.Items.Delete(id)
	}
}

// ReplaceTable installs decoded records wholesale for one table, discarding
// anything of the wrong concrete type.
func (s *Set) ReplaceTable(table entity.Table, recs []entity.Record) {
	switch table {
	case entity.TableAcademicCalendars:
		s.Calendars.ReplaceAll(typed[*entity.AcademicCalendar](recs))
	case entity.TableCategories:
		s.Categories.ReplaceAll(typed[*entity.Category](recs))
	case entity.TableSchedules:
		s.Schedules.ReplaceAll(typed[*entity.ScheduleCollection](recs))
	case entity.TableCourses:
		s.Courses.ReplaceAll(typed[*entity.Course](recs))
	case entity.TableCourseMeetings:
		s.Meetings.ReplaceAll(typed[*entity.CourseMeeting](recs))
	case entity.TableAssignments:
		s.Assignments.ReplaceAll(typed[*entity.Assignment](recs))
	case entity.TableEvents:
		s.Events.ReplaceAll(typed[*entity.Event](recs))
	case entity.TableScheduleItems:
		s.Items.ReplaceAll(typed[*entity.ScheduleItem](recs))
	}
}

// Count returns the number of cached records for one table.
func (s *Set) Count(table entity.Table) int {
	switch table {
	case entity.TableAcademicCalendars:
		return s.Calendars.Len()
	case entity.TableCategories:
		return s.Categories.Len()
	case entity.TableSchedules:
		return s.Schedules.Len()
	case entity.TableCourses:
		return s.Courses.Len()
	case entity.TableCourseMeetings:
		return s.Meetings.Len()
	case entity.TableAssignments:
		return s.Assignments.Len()
	case entity.TableEvents:
		return s.Events.Len()
	case entity.TableScheduleItems:
		return s.Items.Len()
	}
	return 0
}

// Records returns a snapshot of one table's contents as Record values, in
// insertion order.
func (s *Set) Records(table entity.Table) []entity.Record {
	switch table {
	case entity.TableAcademicCalendars:
		return generic(s.Calendars.All())
	case entity.TableCategories:
		return generic(s.Categories.All())
	case entity.TableSchedules:
		return generic(s.Schedules.All())
	case entity.TableCourses:
		return generic(s.Courses.All())
	case entity.TableCourseMeetings:
		return generic(s.Meetings.All())
	case entity.TableAssignments:
		return generic(s.Assignments.All())
	case entity.TableEvents:
		return generic(s.Events.All())
	case entity.TableScheduleItems:
		return generic(s.Items.All())
	}
	return nil
}

// Snapshot captures an instantaneous copy of every cache for validation.
// The copies are independent of the live caches.
type Snapshot struct {
	Calendars   []*entity.AcademicCalendar
	Categories  []*entity.Category
	Schedules   []*entity.ScheduleCollection
	Courses     []*entity.Course
	Meetings    []*entity.CourseMeeting
	Assignments []*entity.Assignment
	Events      []*entity.Event
	Items       []*entity.ScheduleItem
}

// Snapshot takes an instantaneous copy of each cache's contents. Each cache
// is read under its own lock; the set as a whole is not frozen, which is
// fine for an on-demand validation pass.
func (s *Set) Snapshot() *Snapshot {
	return &Snapshot{
		Calendars:   s.Calendars.All(),
		Categories:  s.Categories.All(),
		Schedules:   s.Schedules.All(),
		Courses:     s.Courses.All(),
		Meetings:    s.Meetings.All(),
		Assignments: s.Assignments.All(),
		Events:      s.Events.All(),
		Items:       s.Items.All(),
	}
}

func typed[T entity.Record](recs []entity.Record) []T {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		if v, ok := rec.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func generic[T entity.Record](items []T) []entity.Record {
	out := make([]entity.Record, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}
