package market

import (
	"fmt"
	"strings"
	"time"
)

// Timestamps are naive: the wall clock is kept and the zone is dropped, so
// every component agrees on which calendar day a fill belongs to.
const (
	TimeLayout = "2006-01-02 15:04:05.000000"
	DateLayout = "2006-01-02"
)

var inputLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

// Naive returns t's wall clock re-anchored in UTC.
func Naive(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// FormatTime renders the storage form of a naive timestamp (microseconds).
func FormatTime(t time.Time) string {
	return Naive(t).Format(TimeLayout)
}

// ParseTime accepts the storage layout plus the common ISO-8601 shapes.
// An offset, when present, is discarded rather than converted.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Naive(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// DateOf is the calendar date key for a naive timestamp.
func DateOf(t time.Time) string {
	return Naive(t).Format(DateLayout)
}

// ParseDate validates a YYYY-MM-DD date key.
func ParseDate(day string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(day))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", day, err)
	}
	return t, nil
}

// DayBounds returns [start, end) for a date key.
func DayBounds(day string) (time.Time, time.Time, error) {
	start, err := ParseDate(day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}
