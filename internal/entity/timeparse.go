package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire timestamp layouts, tried in order. The server emits ISO-8601 with
// fractional seconds; older rows lack the fraction, and date-only columns
// carry a plain calendar date.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const (
	clockLayout = "15:04:05"
	dateLayout  = "2006-01-02"
)

// ParseTimestamp parses a wire timestamp in any accepted layout.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", s)
}

// Timestamp is a wire timestamp. It unmarshals from any accepted layout and
// marshals back as ISO-8601 with fractional seconds.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp is not a string: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
}

// Date is a calendar date without a time component, wire form yyyy-MM-dd.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date is not a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	// Some rows store full timestamps in date columns; accept those too and
	// keep the calendar day as written, whatever the offset.
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	year, month, day := parsed.Date()
	d.Time = time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// Clock is a time-of-day field, wire form HH:mm:ss. On decode it is
// rehydrated against the current calendar date so interval comparisons
// behave like ordinary time.Time math.
type Clock struct {
	time.Time
}

// ParseClock parses HH:mm:ss against the given reference date.
func ParseClock(s string, ref time.Time) (time.Time, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time of day: %q", s)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, ref.Location()), nil
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time of day is not a string: %w", err)
	}
	if s == "" {
		*c = Clock{}
		return nil
	}
	parsed, err := ParseClock(s, time.Now())
	if err != nil {
		return err
	}
	c.Time = parsed
	return nil
}

func (c Clock) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(c.Format(clockLayout))
}

// MinutesOfDay returns the clock position as minutes since midnight,
// ignoring the rehydrated date.
func (c Clock) MinutesOfDay() int {
	return c.Hour()*60 + c.Minute()
}
