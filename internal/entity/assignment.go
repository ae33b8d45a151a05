package entity

// Assignment is a graded piece of work tied to a course.
type Assignment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	CourseID    string     `json:"course_id"`
	Name        string     `json:"name"`
	Notes       string     `json:"notes,omitempty"`
	DueAt       *Timestamp `json:"due_at,omitempty"`
	Completed   bool       `json:"completed"`
	Grade       string     `json:"grade,omitempty"`
	Weight      string     `json:"weight,omitempty"`
	ReminderIDs []string   `json:"reminder_ids,omitempty"`
	CreatedAt   *Timestamp `json:"created_at,omitempty"`
	UpdatedAt   *Timestamp `json:"updated_at,omitempty"`
}

func (a *Assignment) EntityID() string { return a.ID }
