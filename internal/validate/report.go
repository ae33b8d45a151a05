// Package validate checks the cached entity graph for field-level and
// cross-table consistency problems.
//
// Validation runs on demand against an instantaneous snapshot of every
// cache. Findings are data, not errors: per-record results, cross-table
// issues, and running statistics come back in a Report for the caller to
// act on. Only issue types explicitly marked auto-fixable can be corrected
// through AutoFix; everything else needs user intervention.
package validate

import (
	"time"

	"github.com/planora/planora-sync/internal/entity"
)

// Status classifies one per-record finding.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusWarning Status = "warning"
)

// Severity grades findings and issues.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Result is one per-record finding from the field or relationship pass.
type Result struct {
	Table        entity.Table `json:"table"`
	RecordID     string       `json:"record_id"`
	Status       Status       `json:"status"`
	Severity     Severity     `json:"severity,omitempty"`
	Field        string       `json:"field,omitempty"`
	Message      string       `json:"message,omitempty"`
	SuggestedFix string       `json:"suggested_fix,omitempty"`
}

// IssueType names a cross-table consistency problem.
type IssueType string

const (
	IssueOrphanedAssignment      IssueType = "orphaned_assignment"
	IssueEventDanglingCourse     IssueType = "event_dangling_course"
	IssueEventDanglingCategory   IssueType = "event_dangling_category"
	IssueCourseMissingSchedule   IssueType = "course_missing_schedule"
	IssueMultipleActiveSchedules IssueType = "multiple_active_schedules"
	IssueScheduleItemOverlap     IssueType = "schedule_item_overlap"
)

// Issue is one cross-table consistency problem, distinct from per-record
// results.
type Issue struct {
	Type        IssueType    `json:"type"`
	Severity    Severity     `json:"severity"`
	Table       entity.Table `json:"table"`
	RecordIDs   []string     `json:"record_ids"`
	Message     string       `json:"message"`
	AutoFixable bool         `json:"auto_fixable"`
}

// TableStats counts findings for one table.
type TableStats struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Warning int `json:"warning"`
}

// Stats aggregates findings across the whole pass.
type Stats struct {
	PerTable map[entity.Table]TableStats `json:"per_table"`
}

func (s *Stats) count(table entity.Table, status Status) {
	ts := s.PerTable[table]
	switch status {
	case StatusValid:
		ts.Valid++
	case StatusInvalid:
		ts.Invalid++
	case StatusWarning:
		ts.Warning++
	}
	s.PerTable[table] = ts
}

// HealthScore returns valid / (valid + invalid + warning) over every table,
// or 1 when nothing was checked.
func (s *Stats) HealthScore() float64 {
	var valid, total int
	for _, ts := range s.PerTable {
		valid += ts.Valid
		total += ts.Valid + ts.Invalid + ts.Warning
	}
	if total == 0 {
		return 1
	}
	return float64(valid) / float64(total)
}

// Report bundles everything one validation pass produced.
type Report struct {
	Results     map[entity.Table][]Result `json:"results"`
	Issues      []Issue                   `json:"issues"`
	Stats       Stats                     `json:"stats"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// InvalidCount returns the number of invalid findings across all tables.
func (r *Report) InvalidCount() int {
	var n int
	for _, ts := range r.Stats.PerTable {
		n += ts.Invalid
	}
	return n
}
