package validate

import (
	"fmt"

	"github.com/planora/planora-sync/internal/cache"
	"github.com/planora/planora-sync/internal/entity"
)

// crossTableIssues builds the issue list from a snapshot. Per-record
// findings stay in Results; only genuine cross-entity problems land here.
func (v *Validator) crossTableIssues(snap *cache.Snapshot) []Issue {
	var issues []Issue

	courses := idSet(snap.Courses)
	categories := idSet(snap.Categories)
	schedules := idSet(snap.Schedules)

	// Orphaned assignments: their course is gone for good as far as the
	// client can tell, so there is no safe automatic correction.
	for _, a := range snap.Assignments {
		if a.CourseID == "" || !courses[a.CourseID] {
			issues = append(issues, Issue{
				Type:      IssueOrphanedAssignment,
				Severity:  SeverityHigh,
				Table:     entity.TableAssignments,
				RecordIDs: []string{a.ID},
				Message:   fmt.Sprintf("assignment %q references missing course %q", a.Name, a.CourseID),
			})
		}
	}

	// Dangling event references are optional links; clearing them is safe.
	for _, e := range snap.Events {
		if e.CourseID != "" && !courses[e.CourseID] {
			issues = append(issues, Issue{
				Type:        IssueEventDanglingCourse,
				Severity:    SeverityMedium,
				Table:       entity.TableEvents,
				RecordIDs:   []string{e.ID},
				Message:     fmt.Sprintf("event %q references missing course %q", e.Name, e.CourseID),
				AutoFixable: true,
			})
		}
		if e.CategoryID != "" && !categories[e.CategoryID] {
			issues = append(issues, Issue{
				Type:        IssueEventDanglingCategory,
				Severity:    SeverityLow,
				Table:       entity.TableEvents,
				RecordIDs:   []string{e.ID},
				Message:     fmt.Sprintf("event %q references missing category %q", e.Name, e.CategoryID),
				AutoFixable: true,
			})
		}
	}

	for _, c := range snap.Courses {
		if c.ScheduleID == "" || !schedules[c.ScheduleID] {
			issues = append(issues, Issue{
				Type:      IssueCourseMissingSchedule,
				Severity:  SeverityCritical,
				Table:     entity.TableCourses,
				RecordIDs: []string{c.ID},
				Message:   fmt.Sprintf("course %q references missing schedule %q", c.Name, c.ScheduleID),
			})
		}
	}

	// At most one non-archived schedule may be active.
	var active []string
	for _, s := range snap.Schedules {
		if s.IsActive && !s.IsArchived {
			active = append(active, s.ID)
		}
	}
	if len(active) > 1 {
		issues = append(issues, Issue{
			Type:        IssueMultipleActiveSchedules,
			Severity:    SeverityHigh,
			Table:       entity.TableSchedules,
			RecordIDs:   active,
			Message:     fmt.Sprintf("%d schedules are active; only one may be", len(active)),
			AutoFixable: true,
		})
	}

	issues = append(issues, v.overlapIssues(snap)...)
	return issues
}

// overlapIssues finds pairwise time overlaps among a schedule's items,
// restricted to days of week both items occur on. Quadratic per schedule;
// a personal timetable holds tens of items, not thousands.
func (v *Validator) overlapIssues(snap *cache.Snapshot) []Issue {
	bySchedule := make(map[string][]*entity.ScheduleItem)
	for _, item := range snap.Items {
		bySchedule[item.ScheduleID] = append(bySchedule[item.ScheduleID], item)
	}

	var issues []Issue
	for _, items := range bySchedule {
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				a, b := items[i], items[j]
				if !shareDay(a, b) {
					continue
				}
				if !intervalsOverlap(a, b) {
					continue
				}
				issues = append(issues, Issue{
					Type:      IssueScheduleItemOverlap,
					Severity:  SeverityMedium,
					Table:     entity.TableScheduleItems,
					RecordIDs: []string{a.ID, b.ID},
					Message:   fmt.Sprintf("items %q and %q overlap in time on a shared day", a.Name, b.Name),
				})
			}
		}
	}
	return issues
}

func shareDay(a, b *entity.ScheduleItem) bool {
	for _, day := range a.DaysOfWeek {
		if b.MeetsOn(day) {
			return true
		}
	}
	return false
}

func intervalsOverlap(a, b *entity.ScheduleItem) bool {
	if a.StartTime.IsZero() || a.EndTime.IsZero() || b.StartTime.IsZero() || b.EndTime.IsZero() {
		return false
	}
	aStart, aEnd := a.StartTime.MinutesOfDay(), a.EndTime.MinutesOfDay()
	bStart, bEnd := b.StartTime.MinutesOfDay(), b.EndTime.MinutesOfDay()
	return aStart < bEnd && bStart < aEnd
}

// AutoFix applies the corrective mutation for an auto-fixable issue. It
// mutates the live caches, not the snapshot the issue came from. Issues
// that are not auto-fixable return an error and change nothing.
func (v *Validator) AutoFix(issue Issue) error {
	if !issue.AutoFixable {
		return fmt.Errorf("issue %s is not auto-fixable", issue.Type)
	}

	switch issue.Type {
	case IssueEventDanglingCourse:
		return v.clearEventRef(issue, func(e *entity.Event) { e.CourseID = "" })
	case IssueEventDanglingCategory:
		return v.clearEventRef(issue, func(e *entity.Event) { e.CategoryID = "" })
	case IssueMultipleActiveSchedules:
		return v.deactivateExtraSchedules(issue)
	}
	return fmt.Errorf("issue %s is not auto-fixable", issue.Type)
}

func (v *Validator) clearEventRef(issue Issue, clear func(*entity.Event)) error {
	for _, id := range issue.RecordIDs {
		e, ok := v.caches.Events.Get(id)
		if !ok {
			return fmt.Errorf("event %s is no longer cached", id)
		}
		fixed := *e
		clear(&fixed)
		v.caches.Events.Update(&fixed)
		v.logger.Printf("Cleared dangling reference on event %s", id)
	}
	return nil
}

// deactivateExtraSchedules keeps the first listed schedule active and
// deactivates the rest.
func (v *Validator) deactivateExtraSchedules(issue Issue) error {
	if len(issue.RecordIDs) < 2 {
		return fmt.Errorf("issue lists %d schedules, need at least 2", len(issue.RecordIDs))
	}
	for _, id := range issue.RecordIDs[1:] {
		s, ok := v.caches.Schedules.Get(id)
		if !ok {
			return fmt.Errorf("schedule %s is no longer cached", id)
		}
		fixed := *s
		fixed.IsActive = false
		v.caches.Schedules.Update(&fixed)
		v.logger.Printf("Deactivated extra active schedule %s", id)
	}
	return nil
}
