package entity

// ScheduleCollection is a named timetable (typically one per term). At most
// one non-archived collection should be active per user; the validator
// enforces that softly.
type ScheduleCollection struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	IsArchived bool       `json:"is_archived"`
	CalendarID string     `json:"calendar_id,omitempty"`
	CreatedAt  *Timestamp `json:"created_at,omitempty"`
	UpdatedAt  *Timestamp `json:"updated_at,omitempty"`
}

func (s *ScheduleCollection) EntityID() string { return s.ID }

// ScheduleItem is a recurring block inside a schedule collection: a class
// period, a study slot, anything that repeats on fixed weekdays. Items are
// owned through their parent schedule and carry no user column.
type ScheduleItem struct {
	ID               string     `json:"id"`
	ScheduleID       string     `json:"schedule_id"`
	Name             string     `json:"name"`
	DaysOfWeek       []int      `json:"days_of_week,omitempty"` // 1=Monday .. 7=Sunday
	StartTime        Clock      `json:"start_time"`
	EndTime          Clock      `json:"end_time"`
	Location         string     `json:"location,omitempty"`
	Instructor       string     `json:"instructor,omitempty"`
	ColorHex         string     `json:"color_hex,omitempty"`
	SkippedInstances []string   `json:"skipped_instances,omitempty"` // dates the item does not occur
	CreatedAt        *Timestamp `json:"created_at,omitempty"`
	UpdatedAt        *Timestamp `json:"updated_at,omitempty"`
}

func (s *ScheduleItem) EntityID() string { return s.ID }

// MeetsOn reports whether the item occurs on the given ISO weekday (1-7).
func (s *ScheduleItem) MeetsOn(day int) bool {
	for _, d := range s.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}
