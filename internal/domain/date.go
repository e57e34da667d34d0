package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the only wire format accepted for validity dates.
const DateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone component. The zero
// value is "no date"; open-ended validity windows use a nil *Date.
type Date struct {
	t time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", value)}
	}
	return Date{t: t}, nil
}

// MustDate is a test/seed helper that panics on malformed input.
func MustDate(value string) Date {
	d, err := ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

// NewDate builds a Date from components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar day in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// Time exposes the underlying instant (midnight UTC) for storage drivers.
func (d Date) Time() time.Time { return d.t }

func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }

// Compare returns -1, 0 or +1 ordering d against other.
func (d Date) Compare(other Date) int {
	switch {
	case d.t.Before(other.t):
		return -1
	case d.t.After(other.t):
		return 1
	default:
		return 0
	}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil || *raw == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// WindowContains reports whether day falls inside [start, end]. A nil end
// means the window is open-ended.
func WindowContains(start Date, end *Date, day Date) bool {
	if start.IsZero() || day.Before(start) {
		return false
	}
	if end != nil && day.After(*end) {
		return false
	}
	return true
}

// WindowsOverlap reports whether [aStart, aEnd] and [bStart, bEnd] share at
// least one day. Nil ends are open-ended.
func WindowsOverlap(aStart Date, aEnd *Date, bStart Date, bEnd *Date) bool {
	if aEnd != nil && bStart.After(*aEnd) {
		return false
	}
	if bEnd != nil && aStart.After(*bEnd) {
		return false
	}
	return true
}
