package core

import (
	"fmt"
	"time"
)

// TimeLayout is the canonical wire format for every timestamp in the system:
// UTC, RFC 3339, exactly millisecond precision. Identity digests include
// timestamps rendered in this layout, so the format is part of the contract.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Time is a UTC instant carried at millisecond precision. The zero value is
// "unset" and serializes to null.
type Time struct {
	t time.Time
}

// NewTime converts a stdlib time to canonical form: UTC, truncated to the
// millisecond grid.
func NewTime(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{t: t.UTC().Truncate(time.Millisecond)}
}

// ParseTime accepts RFC 3339 with any sub-second precision and returns the
// canonical millisecond form.
func ParseTime(s string) (Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return NewTime(t), nil
}

// ParseDate accepts either a bare date (YYYY-MM-DD, interpreted as midnight
// UTC) or a full RFC 3339 timestamp.
func ParseDate(s string) (Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return NewTime(d), nil
	}
	return ParseTime(s)
}

func (t Time) String() string {
	if t.IsZero() {
		return ""
	}
	return t.t.Format(TimeLayout)
}

func (t Time) IsZero() bool              { return t.t.IsZero() }
func (t Time) Std() time.Time            { return t.t }
func (t Time) Before(u Time) bool        { return t.t.Before(u.t) }
func (t Time) After(u Time) bool         { return t.t.After(u.t) }
func (t Time) Equal(u Time) bool         { return t.t.Equal(u.t) }
func (t Time) Sub(u Time) time.Duration  { return t.t.Sub(u.t) }
func (t Time) Add(d time.Duration) Time  { return NewTime(t.t.Add(d)) }
func (t Time) UnixMilli() int64          { return t.t.UnixMilli() }

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*t = Time{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("timestamp must be a JSON string, got %s", s)
	}
	parsed, err := ParseTime(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
