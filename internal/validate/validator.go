package validate

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/planora/planora-sync/internal/cache"
	"github.com/planora/planora-sync/internal/entity"
)

// maxNameLength is the soft cap on display names. Longer names still sync
// but get a warning with a suggested fix.
const maxNameLength = 100

// Validator checks the cached entity graph.
type Validator struct {
	caches *cache.Set
	logger *log.Logger
}

// New creates a validator over the given cache set. nil logger means
// stderr.
func New(caches *cache.Set, logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(os.Stderr, "[validate] ", log.LstdFlags)
	}
	return &Validator{caches: caches, logger: logger}
}

// Validate runs the full pass: per-record field checks, relationship
// checks, then cross-table issues. The snapshot is taken once up front so
// concurrent stream writes cannot shift the ground mid-pass.
func (v *Validator) Validate() *Report {
	snap := v.caches.Snapshot()

	report := &Report{
		Results:     make(map[entity.Table][]Result),
		Stats:       Stats{PerTable: make(map[entity.Table]TableStats)},
		GeneratedAt: time.Now().UTC(),
	}

	v.checkCalendars(snap, report)
	v.checkCategories(snap, report)
	v.checkSchedules(snap, report)
	v.checkCourses(snap, report)
	v.checkMeetings(snap, report)
	v.checkAssignments(snap, report)
	v.checkEvents(snap, report)
	v.checkItems(snap, report)

	report.Issues = v.crossTableIssues(snap)

	v.logger.Printf("Validation complete: health=%.2f, issues=%d",
		report.Stats.HealthScore(), len(report.Issues))
	return report
}

// add records one finding and updates the stats.
func (v *Validator) add(report *Report, r Result) {
	report.Results[r.Table] = append(report.Results[r.Table], r)
	report.Stats.count(r.Table, r.Status)
}

// valid records a clean result for a record that passed every check.
func (v *Validator) valid(report *Report, table entity.Table, id string) {
	v.add(report, Result{Table: table, RecordID: id, Status: StatusValid})
}

func (v *Validator) checkCalendars(snap *cache.Snapshot, report *Report) {
	for _, cal := range snap.Calendars {
		clean := true

		if strings.TrimSpace(cal.Name) == "" {
			v.add(report, Result{
				Table: entity.TableAcademicCalendars, RecordID: cal.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "calendar name is required",
			})
			clean = false
		}
		if !cal.StartDate.IsZero() && !cal.EndDate.IsZero() && !cal.StartDate.Before(cal.EndDate.Time) {
			v.add(report, Result{
				Table: entity.TableAcademicCalendars, RecordID: cal.ID,
				Status: StatusInvalid, Severity: SeverityHigh,
				Field: "start_date", Message: "calendar start date is not before its end date",
			})
			clean = false
		}
		for _, brk := range cal.Breaks {
			if brk.StartDate.Before(cal.StartDate.Time) || brk.EndDate.After(cal.EndDate.Time) {
				v.add(report, Result{
					Table: entity.TableAcademicCalendars, RecordID: cal.ID,
					Status: StatusWarning, Severity: SeverityLow,
					Field:        "breaks",
					Message:      fmt.Sprintf("break %q falls outside the calendar span", brk.Name),
					SuggestedFix: "clamp the break dates to the calendar's start and end",
				})
				clean = false
			}
		}

		if clean {
			v.valid(report, entity.TableAcademicCalendars, cal.ID)
		}
	}
}

func (v *Validator) checkCategories(snap *cache.Snapshot, report *Report) {
	for _, cat := range snap.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			v.add(report, Result{
				Table: entity.TableCategories, RecordID: cat.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "category name is required",
			})
			continue
		}
		v.valid(report, entity.TableCategories, cat.ID)
	}
}

func (v *Validator) checkSchedules(snap *cache.Snapshot, report *Report) {
	calendars := idSet(snap.Calendars)

	for _, sched := range snap.Schedules {
		clean := true

		if strings.TrimSpace(sched.Name) == "" {
			v.add(report, Result{
				Table: entity.TableSchedules, RecordID: sched.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "schedule name is required",
			})
			clean = false
		}
		if sched.CalendarID != "" && !calendars[sched.CalendarID] {
			v.add(report, Result{
				Table: entity.TableSchedules, RecordID: sched.ID,
				Status: StatusWarning, Severity: SeverityLow,
				Field:        "calendar_id",
				Message:      "schedule references a calendar that is not cached",
				SuggestedFix: "clear the calendar reference",
			})
			clean = false
		}

		if clean {
			v.valid(report, entity.TableSchedules, sched.ID)
		}
	}
}

func (v *Validator) checkCourses(snap *cache.Snapshot, report *Report) {
	schedules := idSet(snap.Schedules)

	for _, course := range snap.Courses {
		clean := true

		if strings.TrimSpace(course.Name) == "" {
			v.add(report, Result{
				Table: entity.TableCourses, RecordID: course.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "course name is required",
			})
			clean = false
		}
		if len(course.Name) > maxNameLength {
			v.add(report, Result{
				Table: entity.TableCourses, RecordID: course.ID,
				Status: StatusWarning, Severity: SeverityLow,
				Field:        "name",
				Message:      fmt.Sprintf("course name exceeds %d characters", maxNameLength),
				SuggestedFix: fmt.Sprintf("shorten the name to %d characters or fewer", maxNameLength),
			})
			clean = false
		}
		if course.ScheduleID == "" || !schedules[course.ScheduleID] {
			v.add(report, Result{
				Table: entity.TableCourses, RecordID: course.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field:   "schedule_id",
				Message: "course schedule reference does not resolve",
			})
			clean = false
		}
		for _, grade := range []struct{ field, value string }{
			{"current_grade", course.CurrentGrade},
			{"goal_grade", course.GoalGrade},
		} {
			if msg := checkGradeRange(grade.value); msg != "" {
				v.add(report, Result{
					Table: entity.TableCourses, RecordID: course.ID,
					Status: StatusWarning, Severity: SeverityLow,
					Field: grade.field, Message: msg,
					SuggestedFix: "use a value between 0 and 100",
				})
				clean = false
			}
		}

		if clean {
			v.valid(report, entity.TableCourses, course.ID)
		}
	}
}

func (v *Validator) checkMeetings(snap *cache.Snapshot, report *Report) {
	schedules := idSet(snap.Schedules)
	courses := idSet(snap.Courses)

	for _, m := range snap.Meetings {
		clean := true

		if m.ScheduleID == "" || !schedules[m.ScheduleID] {
			v.add(report, Result{
				Table: entity.TableCourseMeetings, RecordID: m.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field:   "schedule_id",
				Message: "meeting schedule reference does not resolve",
			})
			clean = false
		}
		if m.CourseID != "" && !courses[m.CourseID] {
			v.add(report, Result{
				Table: entity.TableCourseMeetings, RecordID: m.ID,
				Status: StatusWarning, Severity: SeverityLow,
				Field:        "course_id",
				Message:      "meeting references a course that is not cached",
				SuggestedFix: "clear the course reference",
			})
			clean = false
		}
		if !m.StartTime.IsZero() && !m.EndTime.IsZero() &&
			m.EndTime.MinutesOfDay() <= m.StartTime.MinutesOfDay() {
			v.add(report, Result{
				Table: entity.TableCourseMeetings, RecordID: m.ID,
				Status: StatusInvalid, Severity: SeverityMedium,
				Field: "start_time", Message: "meeting start time is not before its end time",
			})
			clean = false
		}

		if clean {
			v.valid(report, entity.TableCourseMeetings, m.ID)
		}
	}
}

func (v *Validator) checkAssignments(snap *cache.Snapshot, report *Report) {
	courses := idSet(snap.Courses)

	for _, a := range snap.Assignments {
		clean := true

		if strings.TrimSpace(a.Name) == "" {
			v.add(report, Result{
				Table: entity.TableAssignments, RecordID: a.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "assignment name is required",
			})
			clean = false
		}
		if a.CourseID == "" || !courses[a.CourseID] {
			v.add(report, Result{
				Table: entity.TableAssignments, RecordID: a.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field:   "course_id",
				Message: "assignment course reference does not resolve",
			})
			clean = false
		}
		for _, g := range []struct{ field, value string }{
			{"grade", a.Grade},
			{"weight", a.Weight},
		} {
			if msg := checkGradeRange(g.value); msg != "" {
				v.add(report, Result{
					Table: entity.TableAssignments, RecordID: a.ID,
					Status: StatusWarning, Severity: SeverityLow,
					Field: g.field, Message: msg,
					SuggestedFix: "use a value between 0 and 100",
				})
				clean = false
			}
		}

		if clean {
			v.valid(report, entity.TableAssignments, a.ID)
		}
	}
}

func (v *Validator) checkEvents(snap *cache.Snapshot, report *Report) {
	courses := idSet(snap.Courses)
	categories := idSet(snap.Categories)

	for _, e := range snap.Events {
		clean := true

		if strings.TrimSpace(e.Name) == "" {
			v.add(report, Result{
				Table: entity.TableEvents, RecordID: e.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "event name is required",
			})
			clean = false
		}
		if e.StartsAt != nil && e.EndsAt != nil && !e.StartsAt.Before(e.EndsAt.Time) {
			v.add(report, Result{
				Table: entity.TableEvents, RecordID: e.ID,
				Status: StatusInvalid, Severity: SeverityMedium,
				Field: "starts_at", Message: "event start is not before its end",
			})
			clean = false
		}
		if e.CourseID != "" && !courses[e.CourseID] {
			v.add(report, Result{
				Table: entity.TableEvents, RecordID: e.ID,
				Status: StatusWarning, Severity: SeverityMedium,
				Field:        "course_id",
				Message:      "event references a course that is not cached",
				SuggestedFix: "clear the course reference",
			})
			clean = false
		}
		if e.CategoryID != "" && !categories[e.CategoryID] {
			v.add(report, Result{
				Table: entity.TableEvents, RecordID: e.ID,
				Status: StatusWarning, Severity: SeverityLow,
				Field:        "category_id",
				Message:      "event references a category that is not cached",
				SuggestedFix: "clear the category reference",
			})
			clean = false
		}

		if clean {
			v.valid(report, entity.TableEvents, e.ID)
		}
	}
}

func (v *Validator) checkItems(snap *cache.Snapshot, report *Report) {
	schedules := idSet(snap.Schedules)

	for _, item := range snap.Items {
		clean := true

		if strings.TrimSpace(item.Name) == "" {
			v.add(report, Result{
				Table: entity.TableScheduleItems, RecordID: item.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field: "name", Message: "schedule item name is required",
			})
			clean = false
		}
		if item.ScheduleID == "" || !schedules[item.ScheduleID] {
			v.add(report, Result{
				Table: entity.TableScheduleItems, RecordID: item.ID,
				Status: StatusInvalid, Severity: SeverityCritical,
				Field:   "schedule_id",
				Message: "schedule item schedule reference does not resolve",
			})
			clean = false
		}
		if !item.StartTime.IsZero() && !item.EndTime.IsZero() &&
			item.EndTime.MinutesOfDay() <= item.StartTime.MinutesOfDay() {
			v.add(report, Result{
				Table: entity.TableScheduleItems, RecordID: item.ID,
				Status: StatusInvalid, Severity: SeverityMedium,
				Field: "start_time", Message: "item start time is not before its end time",
			})
			clean = false
		}

		if clean {
			v.valid(report, entity.TableScheduleItems, item.ID)
		}
	}
}

// checkGradeRange validates a numeric-ish grade/weight string. Empty values
// are fine; a trailing percent sign is tolerated.
func checkGradeRange(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return ""
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Letter grades and other non-numeric forms are allowed.
		return ""
	}
	if n < 0 || n > 100 {
		return fmt.Sprintf("value %s is outside the 0-100 range", s)
	}
	return ""
}

func idSet[T entity.Record](items []T) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item.EntityID()] = true
	}
	return out
}
