package entity

// Category is a user-defined label for events.
type Category struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	ColorHex  string     `json:"color_hex,omitempty"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
	UpdatedAt *Timestamp `json:"updated_at,omitempty"`
}

func (c *Category) EntityID() string { return c.ID }
