package entity

// AcademicCalendar bounds a term: a start date, an end date, and the breaks
// inside it. Schedule collections may reference one.
type AcademicCalendar struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	StartDate Date            `json:"start_date"`
	EndDate   Date            `json:"end_date"`
	Breaks    []AcademicBreak `json:"breaks,omitempty"`
	CreatedAt *Timestamp      `json:"created_at,omitempty"`
	UpdatedAt *Timestamp      `json:"updated_at,omitempty"`
}

func (c *AcademicCalendar) EntityID() string { return c.ID }

// AcademicBreak is a no-class span inside an academic calendar.
type AcademicBreak struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
}
