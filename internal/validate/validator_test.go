package validate

import (
	"log"
	"os"
	"strings"
	"testing"

	"github.com/planora/planora-sync/internal/cache"
	"github.com/planora/planora-sync/internal/entity"
)

func newTestValidator() (*Validator, *cache.Set) {
	caches := cache.NewSet()
	return New(caches, log.New(os.Stderr, "[validate-test] ", 0)), caches
}

// seedHealthyGraph fills the caches with a small consistent data set.
func seedHealthyGraph(caches *cache.Set) {
	caches.Schedules.Put(&entity.ScheduleCollection{
		ID: "sch-1", UserID: "u1", Name: "Fall 2025", IsActive: true,
	})
	caches.Courses.Put(&entity.Course{
		ID: "crs-1", UserID: "u1", ScheduleID: "sch-1", Name: "Calculus",
	})
	caches.Assignments.Put(&entity.Assignment{
		ID: "asg-1", UserID: "u1", CourseID: "crs-1", Name: "Problem set 1",
	})
	caches.Categories.Put(&entity.Category{ID: "cat-1", UserID: "u1", Name: "Clubs"})
	caches.Events.Put(&entity.Event{
		ID: "evt-1", UserID: "u1", Name: "Office hours",
		CourseID: "crs-1", CategoryID: "cat-1",
	})
}

func TestHealthyGraphScoresOne(t *testing.T) {
	v, caches := newTestValidator()
	seedHealthyGraph(caches)

	report := v.Validate()
	if got := report.Stats.HealthScore(); got != 1 {
		t.Errorf("Healthy graph should score 1.0, got %.2f", got)
	}
	if len(report.Issues) != 0 {
		t.Errorf("Healthy graph should raise no issues, got %d", len(report.Issues))
	}
}

func TestEmptyCachesScoreOne(t *testing.T) {
	v, _ := newTestValidator()
	if got := v.Validate().Stats.HealthScore(); got != 1 {
		t.Errorf("Nothing checked should score 1.0, got %.2f", got)
	}
}

func TestCourseMissingScheduleIsCritical(t *testing.T) {
	v, caches := newTestValidator()
	caches.Courses.Put(&entity.Course{
		ID: "crs-1", UserID: "u1", ScheduleID: "sch-gone", Name: "Calculus",
	})

	report := v.Validate()

	var found bool
	for _, r := range report.Results[entity.TableCourses] {
		if r.Field == "schedule_id" && r.Status == StatusInvalid && r.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Error("Unresolvable schedule reference should be an invalid critical result")
	}

	var issue bool
	for _, i := range report.Issues {
		if i.Type == IssueCourseMissingSchedule {
			if i.AutoFixable {
				t.Error("A missing required reference must not be auto-fixable")
			}
			issue = true
		}
	}
	if !issue {
		t.Error("Expected an IssueCourseMissingSchedule cross-table issue")
	}
}

func TestOrphanedAssignmentIssue(t *testing.T) {
	v, caches := newTestValidator()
	caches.Assignments.Put(&entity.Assignment{
		ID: "asg-1", UserID: "u1", CourseID: "crs-gone", Name: "Problem set 1",
	})

	report := v.Validate()

	var found bool
	for _, i := range report.Issues {
		if i.Type == IssueOrphanedAssignment {
			if i.AutoFixable {
				t.Error("Orphaned assignments have no safe automatic correction")
			}
			if i.Severity != SeverityHigh {
				t.Errorf("Orphaned assignment should be high severity, got %s", i.Severity)
			}
			found = true
		}
	}
	if !found {
		t.Error("Expected an IssueOrphanedAssignment issue")
	}
}

func TestGradeRangeWarnings(t *testing.T) {
	v, caches := newTestValidator()
	caches.Schedules.Put(&entity.ScheduleCollection{ID: "sch-1", UserID: "u1", Name: "Fall"})
	caches.Courses.Put(&entity.Course{
		ID: "crs-1", UserID: "u1", ScheduleID: "sch-1", Name: "Calculus",
		CurrentGrade: "135", // out of range
		GoalGrade:    "A-",  // letter grades are fine
	})

	report := v.Validate()

	var warned bool
	for _, r := range report.Results[entity.TableCourses] {
		if r.Field == "current_grade" && r.Status == StatusWarning {
			warned = true
			if r.SuggestedFix == "" {
				t.Error("Range warning should carry a suggested fix")
			}
		}
		if r.Field == "goal_grade" {
			t.Errorf("Letter grade should pass: %s", r.Message)
		}
	}
	if !warned {
		t.Error("Out-of-range grade should warn")
	}
}

func TestGradeRangeToleratesPercentSign(t *testing.T) {
	if msg := checkGradeRange(" 92% "); msg != "" {
		t.Errorf("92%% should pass, got %q", msg)
	}
	if msg := checkGradeRange("-5"); msg == "" {
		t.Error("-5 should be out of range")
	}
	if msg := checkGradeRange(""); msg != "" {
		t.Error("Empty value should pass")
	}
}

func TestCalendarDateOrdering(t *testing.T) {
	v, caches := newTestValidator()

	var start, end entity.Date
	mustUnmarshalDate(t, &start, "2025-12-12")
	mustUnmarshalDate(t, &end, "2025-08-25")
	caches.Calendars.Put(&entity.AcademicCalendar{
		ID: "cal-1", UserID: "u1", Name: "Backwards",
		StartDate: start, EndDate: end,
	})

	report := v.Validate()

	var found bool
	for _, r := range report.Results[entity.TableAcademicCalendars] {
		if r.Field == "start_date" && r.Status == StatusInvalid {
			found = true
		}
	}
	if !found {
		t.Error("A calendar ending before it starts should be invalid")
	}
}

func TestBreakOutsideCalendarSpanWarns(t *testing.T) {
	v, caches := newTestValidator()

	var start, end, brkStart, brkEnd entity.Date
	mustUnmarshalDate(t, &start, "2025-08-25")
	mustUnmarshalDate(t, &end, "2025-12-12")
	mustUnmarshalDate(t, &brkStart, "2025-12-20")
	mustUnmarshalDate(t, &brkEnd, "2025-12-31")
	caches.Calendars.Put(&entity.AcademicCalendar{
		ID: "cal-1", UserID: "u1", Name: "Fall 2025",
		StartDate: start, EndDate: end,
		Breaks: []entity.AcademicBreak{{Name: "Winter", StartDate: brkStart, EndDate: brkEnd}},
	})

	report := v.Validate()

	var found bool
	for _, r := range report.Results[entity.TableAcademicCalendars] {
		if r.Field == "breaks" && r.Status == StatusWarning {
			if !strings.Contains(r.Message, "Winter") {
				t.Errorf("Warning should name the break, got %q", r.Message)
			}
			found = true
		}
	}
	if !found {
		t.Error("A break outside the calendar span should warn")
	}
}

func mustUnmarshalDate(t *testing.T, d *entity.Date, s string) {
	t.Helper()
	if err := d.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		t.Fatalf("Failed to parse date %q: %v", s, err)
	}
}
