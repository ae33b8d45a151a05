// Package conflict implements three-way conflict detection and resolution
// for synchronized records.
//
// Detection compares a local version, the previous remote version, and the
// new remote version of the same row. A field is conflicted only when all
// three disagree pairwise: the local side changed it, the remote side
// changed it, and they did not land on the same value. Resolution picks a
// final document per a table-scoped strategy; the resolver keeps a durable
// pending queue and a capped history so audits survive restarts.
package conflict

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/planora/planora-sync/internal/entity"
)

// Severity grades how risky a detected conflict is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// timestampTolerance is the slack allowed when comparing timestamp fields.
// Server round-trips can shave fractional seconds off a value without any
// real edit having happened.
const timestampTolerance = time.Second

// mediumFieldThreshold is the conflicted-field count above which a conflict
// is graded medium even when no critical field is involved.
const mediumFieldThreshold = 3

// criticalFields lists, per table, the fields whose conflict makes the
// whole conflict high severity.
var criticalFields = map[entity.Table]map[string]bool{
	entity.TableCourses: {
		"name": true, "schedule_id": true, "user_id": true,
	},
	entity.TableAssignments: {
		"name": true, "course_id": true, "user_id": true,
	},
	entity.TableSchedules: {
		"name": true, "user_id": true,
	},
	entity.TableEvents: {
		"name": true, "user_id": true,
	},
	entity.TableCategories: {
		"name": true, "user_id": true,
	},
	entity.TableAcademicCalendars: {
		"name": true, "start_date": true, "end_date": true, "user_id": true,
	},
	entity.TableCourseMeetings: {
		"schedule_id": true,
	},
	entity.TableScheduleItems: {
		"name": true, "schedule_id": true,
	},
}

// FieldConflict is one field on which all three versions disagree.
type FieldConflict struct {
	Field     string `json:"field"`
	Local     any    `json:"local"`
	RemoteOld any    `json:"remote_old"`
	RemoteNew any    `json:"remote_new"`
}

// Conflict is the result of a three-way diff over one record.
type Conflict struct {
	ID         string          `json:"id"`
	Table      entity.Table    `json:"table"`
	RecordID   string          `json:"record_id"`
	Fields     []FieldConflict `json:"fields"`
	Severity   Severity        `json:"severity"`
	DetectedAt time.Time       `json:"detected_at"`

	// Full documents, kept so resolution can build a merged result.
	Local     map[string]any `json:"local"`
	RemoteOld map[string]any `json:"remote_old"`
	RemoteNew map[string]any `json:"remote_new"`
}

// HasConflict reports whether any field is conflicted.
func (c *Conflict) HasConflict() bool {
	return len(c.Fields) > 0
}

// Detect runs the three-way diff.
//
// A field participates only when present in all three documents. It is
// conflicted iff local differs from remote-old AND remote-old differs from
// remote-new AND local differs from remote-new. With an empty local
// document no field is present in all three inputs, so only remote drift
// can ever be classified; callers that track pending local edits pass the
// edited document to get genuine local-vs-remote detection.
func Detect(local, remoteOld, remoteNew map[string]any, table entity.Table) Conflict {
	c := Conflict{
		Table:      table,
		DetectedAt: time.Now().UTC(),
		Local:      local,
		RemoteOld:  remoteOld,
		RemoteNew:  remoteNew,
	}
	if id, ok := remoteNew["id"].(string); ok {
		c.RecordID = id
	} else if id, ok := local["id"].(string); ok {
		c.RecordID = id
	}

	// Normalize to an ordered field walk so results are deterministic.
	names := make([]string, 0, len(local))
	for name := range local {
		if _, ok := remoteOld[name]; !ok {
			continue
		}
		if _, ok := remoteNew[name]; !ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lv, ov, nv := local[name], remoteOld[name], remoteNew[name]
		if valuesEqual(lv, ov) || valuesEqual(ov, nv) || valuesEqual(lv, nv) {
			continue
		}
		c.Fields = append(c.Fields, FieldConflict{
			Field:     name,
			Local:     lv,
			RemoteOld: ov,
			RemoteNew: nv,
		})
	}

	c.Severity = gradeSeverity(table, c.Fields)
	return c
}

func gradeSeverity(table entity.Table, fields []FieldConflict) Severity {
	critical := criticalFields[table]
	for _, f := range fields {
		if critical[f.Field] {
			return SeverityHigh
		}
	}
	if len(fields) > mediumFieldThreshold {
		return SeverityMedium
	}
	return SeverityLow
}

// valuesEqual is the type-aware equality used by the diff.
//
// Strings that both parse as wire timestamps compare with a one-second
// tolerance; other strings compare exactly. JSON numbers compare as
// float64, arrays and maps structurally. Everything else, nil included,
// falls back to a string rendering.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			if at, err := entity.ParseTimestamp(av); err == nil {
				if bt, err := entity.ParseTimestamp(bv); err == nil {
					return timestampsEqual(at, bt)
				}
			}
			return av == bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av == bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	case []any:
		if bv, ok := b.([]any); ok {
			return reflect.DeepEqual(av, bv)
		}
	case map[string]any:
		if bv, ok := b.(map[string]any); ok {
			return reflect.DeepEqual(av, bv)
		}
	}
	return render(a) == render(b)
}

func timestampsEqual(a, b time.Time) bool {
	return math.Abs(a.Sub(b).Seconds()) <= timestampTolerance.Seconds()
}

// render is the last-resort comparison form, with an explicit marker for
// null so nil never collides with the string "nil".
func render(v any) string {
	if v == nil {
		return "\x00null"
	}
	return fmt.Sprintf("%v", v)
}
