package conflict

import (
	"testing"

	"github.com/planora/planora-sync/internal/entity"
)

func TestDetectRequiresAllThreeToDisagree(t *testing.T) {
	tests := []struct {
		name     string
		local    any
		old      any
		new      any
		conflict bool
	}{
		{"all equal", "A", "A", "A", false},
		{"only remote changed", "A", "A", "B", false},
		{"only local changed", "B", "A", "A", false},
		{"both changed to same value", "B", "A", "B", false},
		{"all three differ", "B", "A", "C", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Detect(
				map[string]any{"id": "crs-1", "notes": tt.local},
				map[string]any{"id": "crs-1", "notes": tt.old},
				map[string]any{"id": "crs-1", "notes": tt.new},
				entity.TableCourses,
			)
			if c.HasConflict() != tt.conflict {
				t.Errorf("HasConflict = %v, want %v", c.HasConflict(), tt.conflict)
			}
		})
	}
}

func TestDetectGradeScenarios(t *testing.T) {
	// Local moved 90, server moved 90->80 then someone else wrote 85:
	// all three disagree, conflicted.
	c := Detect(
		map[string]any{"id": "asg-1", "grade": "90"},
		map[string]any{"id": "asg-1", "grade": "80"},
		map[string]any{"id": "asg-1", "grade": "85"},
		entity.TableAssignments,
	)
	if !c.HasConflict() {
		t.Error("90/80/85 should conflict: every pair disagrees")
	}

	// Local and the newest remote agree on 90: convergent edit, no conflict.
	c = Detect(
		map[string]any{"id": "asg-1", "grade": "90"},
		map[string]any{"id": "asg-1", "grade": "80"},
		map[string]any{"id": "asg-1", "grade": "90"},
		entity.TableAssignments,
	)
	if c.HasConflict() {
		t.Error("90/80/90 should not conflict: both sides landed on the same value")
	}
}

func TestDetectSkipsFieldsNotInAllThree(t *testing.T) {
	// An empty local document can never produce a conflict.
	c := Detect(
		map[string]any{},
		map[string]any{"id": "crs-1", "name": "Old"},
		map[string]any{"id": "crs-1", "name": "New"},
		entity.TableCourses,
	)
	if c.HasConflict() {
		t.Error("Remote drift with no local document must not be a conflict")
	}

	// A field only the remote sides carry is remote drift, not a conflict.
	c = Detect(
		map[string]any{"id": "crs-1", "notes": "mine"},
		map[string]any{"id": "crs-1", "notes": "before", "location": "B-101"},
		map[string]any{"id": "crs-1", "notes": "theirs", "location": "C-202"},
		entity.TableCourses,
	)
	for _, f := range c.Fields {
		if f.Field == "location" {
			t.Error("location is absent locally and must not be classified")
		}
	}
}

func TestDetectTimestampTolerance(t *testing.T) {
	c := Detect(
		map[string]any{"id": "asg-1", "due_at": "2025-03-10T14:30:00Z"},
		map[string]any{"id": "asg-1", "due_at": "2025-03-10T14:30:00.800Z"},
		map[string]any{"id": "asg-1", "due_at": "2025-03-10T14:30:00.400Z"},
		entity.TableAssignments,
	)
	if c.HasConflict() {
		t.Error("Sub-second timestamp skew must compare equal")
	}

	c = Detect(
		map[string]any{"id": "asg-1", "due_at": "2025-03-10T14:30:00Z"},
		map[string]any{"id": "asg-1", "due_at": "2025-03-11T09:00:00Z"},
		map[string]any{"id": "asg-1", "due_at": "2025-03-12T09:00:00Z"},
		entity.TableAssignments,
	)
	if !c.HasConflict() {
		t.Error("Genuinely different due dates should conflict")
	}
}

func TestDetectNullNotEqualToNilString(t *testing.T) {
	c := Detect(
		map[string]any{"id": "crs-1", "notes": nil},
		map[string]any{"id": "crs-1", "notes": "<nil>"},
		map[string]any{"id": "crs-1", "notes": "other"},
		entity.TableCourses,
	)
	if !c.HasConflict() {
		t.Error("JSON null must not compare equal to the string \"<nil>\"")
	}
}

func TestDetectListsCompareStructurally(t *testing.T) {
	c := Detect(
		map[string]any{"id": "itm-1", "days_of_week": []any{1.0, 3.0}},
		map[string]any{"id": "itm-1", "days_of_week": []any{1.0, 3.0}},
		map[string]any{"id": "itm-1", "days_of_week": []any{1.0, 3.0, 5.0}},
		entity.TableScheduleItems,
	)
	if c.HasConflict() {
		t.Error("Local equals remote-old; only the remote changed the list")
	}
}

func TestSeverityGrading(t *testing.T) {
	// Conflict on a critical field is high regardless of count.
	c := Detect(
		map[string]any{"id": "crs-1", "name": "Mine"},
		map[string]any{"id": "crs-1", "name": "Before"},
		map[string]any{"id": "crs-1", "name": "Theirs"},
		entity.TableCourses,
	)
	if c.Severity != SeverityHigh {
		t.Errorf("Critical-field conflict should be high, got %s", c.Severity)
	}

	// Four non-critical fields is medium.
	local := map[string]any{"id": "crs-1"}
	old := map[string]any{"id": "crs-1"}
	remote := map[string]any{"id": "crs-1"}
	for _, f := range []string{"notes", "location", "instructor", "color_hex"} {
		local[f] = "local " + f
		old[f] = "old " + f
		remote[f] = "remote " + f
	}
	c = Detect(local, old, remote, entity.TableCourses)
	if len(c.Fields) != 4 {
		t.Fatalf("Expected 4 conflicted fields, got %d", len(c.Fields))
	}
	if c.Severity != SeverityMedium {
		t.Errorf("Four non-critical conflicts should be medium, got %s", c.Severity)
	}

	// One non-critical field is low.
	c = Detect(
		map[string]any{"id": "crs-1", "notes": "a"},
		map[string]any{"id": "crs-1", "notes": "b"},
		map[string]any{"id": "crs-1", "notes": "c"},
		entity.TableCourses,
	)
	if c.Severity != SeverityLow {
		t.Errorf("Single minor conflict should be low, got %s", c.Severity)
	}
}

func TestDetectRecordIDFallsBackToLocal(t *testing.T) {
	c := Detect(
		map[string]any{"id": "crs-1", "notes": "x"},
		map[string]any{"notes": "y"},
		map[string]any{"notes": "z"},
		entity.TableCourses,
	)
	if c.RecordID != "crs-1" {
		t.Errorf("RecordID should fall back to the local document, got %q", c.RecordID)
	}
}

func TestDetectFieldsAreSorted(t *testing.T) {
	c := Detect(
		map[string]any{"id": "crs-1", "notes": "a", "location": "a", "instructor": "a"},
		map[string]any{"id": "crs-1", "notes": "b", "location": "b", "instructor": "b"},
		map[string]any{"id": "crs-1", "notes": "c", "location": "c", "instructor": "c"},
		entity.TableCourses,
	)
	want := []string{"instructor", "location", "notes"}
	if len(c.Fields) != len(want) {
		t.Fatalf("Expected %d fields, got %d", len(want), len(c.Fields))
	}
	for i, name := range want {
		if c.Fields[i].Field != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, c.Fields[i].Field)
		}
	}
}
