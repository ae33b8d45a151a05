package entity

// CourseMeeting is a recurring class meeting. It belongs to a schedule
// collection (required) and usually points back at a course; the course
// reference is optional on the wire.
type CourseMeeting struct {
	ID               string     `json:"id"`
	ScheduleID       string     `json:"schedule_id"`
	CourseID         string     `json:"course_id,omitempty"`
	DaysOfWeek       []int      `json:"days_of_week,omitempty"`
	StartTime        Clock      `json:"start_time"`
	EndTime          Clock      `json:"end_time"`
	Location         string     `json:"location,omitempty"`
	SkippedInstances []string   `json:"skipped_instances,omitempty"`
	CreatedAt        *Timestamp `json:"created_at,omitempty"`
	UpdatedAt        *Timestamp `json:"updated_at,omitempty"`
}

func (m *CourseMeeting) EntityID() string { return m.ID }
