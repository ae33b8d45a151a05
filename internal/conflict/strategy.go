package conflict

import (
	"time"

	"github.com/planora/planora-sync/internal/entity"
)

// Strategy selects how a detected conflict's final document is computed.
type Strategy string

const (
	// StrategyUseLocal returns the local document unchanged.
	StrategyUseLocal Strategy = "use_local"

	// StrategyUseRemote returns the remote-new document unchanged.
	StrategyUseRemote Strategy = "use_remote"

	// StrategyLastWriteWins returns whichever of local and remote-new has
	// the newer updated_at. Ties and unparseable timestamps go to remote.
	StrategyLastWriteWins Strategy = "last_write_wins"

	// StrategyMerge combines both documents field by field.
	StrategyMerge Strategy = "merge"

	// StrategyUserChoose will prompt the user once an interactive surface
	// exists. Until then it behaves exactly like StrategyLastWriteWins.
	StrategyUserChoose Strategy = "user_choose"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyUseLocal, StrategyUseRemote, StrategyLastWriteWins,
		StrategyMerge, StrategyUserChoose:
		return true
	}
	return false
}

// DefaultStrategy returns the built-in strategy for a table: last-write-wins
// for the simple reference tables, merge for the richly edited ones.
func DefaultStrategy(table entity.Table) Strategy {
	switch table {
	case entity.TableAcademicCalendars, entity.TableCategories, entity.TableSchedules:
		return StrategyLastWriteWins
	case entity.TableCourses, entity.TableAssignments, entity.TableEvents,
		entity.TableCourseMeetings, entity.TableScheduleItems:
		return StrategyMerge
	}
	return StrategyLastWriteWins
}

// Field-level merge rules. A field not named in any set falls back to
// per-field last-write-wins.
var (
	// unionFields are list-valued: the merge takes the set union of the
	// local and remote values.
	unionFields = map[string]bool{
		"skipped_instances": true,
		"breaks":            true,
		"reminder_ids":      true,
		"days_of_week":      true,
	}

	// preferNonEmptyFields are numeric-ish text (grades, weights, goals):
	// whichever side is non-empty wins, local first.
	preferNonEmptyFields = map[string]bool{
		"grade":         true,
		"weight":        true,
		"current_grade": true,
		"goal_grade":    true,
		"credit_hours":  true,
	}

	// preferLongerFields are free text: the longer value wins.
	preferLongerFields = map[string]bool{
		"location":    true,
		"instructor":  true,
		"notes":       true,
		"description": true,
	}
)

const updatedAtField = "updated_at"

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	ConflictID string         `json:"conflict_id"`
	Table      entity.Table   `json:"table"`
	RecordID   string         `json:"record_id"`
	Strategy   Strategy       `json:"strategy"`
	Document   map[string]any `json:"document"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// apply computes the resolved document for c under the given strategy.
func apply(c Conflict, strategy Strategy) map[string]any {
	switch strategy {
	case StrategyUseLocal:
		return copyDoc(c.Local)
	case StrategyUseRemote:
		return copyDoc(c.RemoteNew)
	case StrategyMerge:
		return merge(c)
	case StrategyLastWriteWins, StrategyUserChoose:
		return lastWriteWins(c.Local, c.RemoteNew)
	}
	return lastWriteWins(c.Local, c.RemoteNew)
}

// lastWriteWins picks the document with the strictly newer updated_at.
// A missing or unparseable timestamp on either side hands the win to
// remote, as does an exact tie.
func lastWriteWins(local, remote map[string]any) map[string]any {
	lt, lok := docTimestamp(local)
	rt, rok := docTimestamp(remote)
	if lok && rok && lt.After(rt) {
		return copyDoc(local)
	}
	return copyDoc(remote)
}

// merge starts from the local document and rewrites each conflicted field
// per its rule, then stamps updated_at with the max of both sides.
func merge(c Conflict) map[string]any {
	out := copyDoc(c.Local)

	for _, f := range c.Fields {
		switch {
		case unionFields[f.Field]:
			out[f.Field] = unionValues(f.Local, f.RemoteNew)
		case preferNonEmptyFields[f.Field]:
			out[f.Field] = preferNonEmpty(f.Local, f.RemoteNew)
		case preferLongerFields[f.Field]:
			out[f.Field] = preferLonger(f.Local, f.RemoteNew)
		default:
			winner := lastWriteWins(c.Local, c.RemoteNew)
			if v, ok := winner[f.Field]; ok {
				out[f.Field] = v
			}
		}
	}

	// Resolved document always carries the newest timestamp of the pair.
	lt, lok := docTimestamp(c.Local)
	rt, rok := docTimestamp(c.RemoteNew)
	switch {
	case lok && rok:
		if rt.After(lt) {
			out[updatedAtField] = c.RemoteNew[updatedAtField]
		} else {
			out[updatedAtField] = c.Local[updatedAtField]
		}
	case rok:
		out[updatedAtField] = c.RemoteNew[updatedAtField]
	case lok:
		out[updatedAtField] = c.Local[updatedAtField]
	}

	return out
}

// unionValues merges two list values as sets, preserving local order first.
// Non-list inputs contribute nothing.
func unionValues(local, remote any) []any {
	var out []any
	seen := make(map[string]bool)
	for _, src := range []any{local, remote} {
		list, ok := src.([]any)
		if !ok {
			continue
		}
		for _, v := range list {
			key := render(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// preferNonEmpty returns local when it is a non-empty string, otherwise the
// non-empty remote, otherwise local as-is.
func preferNonEmpty(local, remote any) any {
	if s, ok := local.(string); ok && s != "" {
		return local
	}
	if s, ok := remote.(string); ok && s != "" {
		return remote
	}
	return local
}

// preferLonger returns whichever string renders longer; ties keep local.
func preferLonger(local, remote any) any {
	ls, lok := local.(string)
	rs, rok := remote.(string)
	if !lok || !rok {
		return preferNonEmpty(local, remote)
	}
	if len(rs) > len(ls) {
		return remote
	}
	return local
}

func docTimestamp(doc map[string]any) (time.Time, bool) {
	raw, ok := doc[updatedAtField].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := entity.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
