package entity

// Event is a one-off calendar entry. It may optionally point at a course
// or a category; both references are allowed to dangle (the validator
// reports and can clear them).
type Event struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	CourseID    string     `json:"course_id,omitempty"`
	CategoryID  string     `json:"category_id,omitempty"`
	StartsAt    *Timestamp `json:"starts_at,omitempty"`
	EndsAt      *Timestamp `json:"ends_at,omitempty"`
	AllDay      bool       `json:"all_day"`
	ReminderIDs []string   `json:"reminder_ids,omitempty"`
	CreatedAt   *Timestamp `json:"created_at,omitempty"`
	UpdatedAt   *Timestamp `json:"updated_at,omitempty"`
}

func (e *Event) EntityID() string { return e.ID }
