package entity

// Course is a course the user is enrolled in. Every course belongs to a
// schedule collection; assignments and meetings hang off it.
type Course struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ScheduleID   string     `json:"schedule_id"`
	Name         string     `json:"name"`
	Code         string     `json:"code,omitempty"`
	Instructor   string     `json:"instructor,omitempty"`
	Location     string     `json:"location,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	ColorHex     string     `json:"color_hex,omitempty"`
	CurrentGrade string     `json:"current_grade,omitempty"`
	GoalGrade    string     `json:"goal_grade,omitempty"`
	CreditHours  string     `json:"credit_hours,omitempty"`
	CreatedAt    *Timestamp `json:"created_at,omitempty"`
	UpdatedAt    *Timestamp `json:"updated_at,omitempty"`
}

func (c *Course) EntityID() string { return c.ID }
