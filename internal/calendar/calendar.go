// Package calendar provides the ISO-8601 calendar-date arithmetic shared by
// every pipeline stage: dates are stored as YYYY-MM-DD strings throughout
// (spec §4.1), following the teacher's own time.Format("2006-01-02") idiom
// (internal/settlement/capital_tracker.go), generalized to dedicated helpers
// rather than re-derived inline at every call site.
package calendar

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Parse parses an ISO-8601 YYYY-MM-DD string into a time.Time at midnight UTC.
func Parse(date string) (time.Time, error) {
	t, err := time.Parse(layout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: invalid date %q: %w", date, err)
	}
	return t, nil
}

// Format renders a time.Time back to its ISO-8601 calendar-date string.
func Format(t time.Time) string {
	return t.Format(layout)
}

// AddDays shifts an ISO-8601 date string by n calendar days (n may be negative).
func AddDays(date string, n int) (string, error) {
	t, err := Parse(date)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// PriorDay returns the calendar day immediately before date.
func PriorDay(date string) (string, error) {
	return AddDays(date, -1)
}

// WindowStart returns the first day of the W-day window ending on date,
// i.e. the W calendar days [date-W+1 ... date] (spec §4.3).
func WindowStart(date string, window int) (string, error) {
	return AddDays(date, -(window - 1))
}

// DaysBetween returns end - start in whole calendar days.
func DaysBetween(start, end string) (int, error) {
	s, err := Parse(start)
	if err != nil {
		return 0, err
	}
	e, err := Parse(end)
	if err != nil {
		return 0, err
	}
	return int(e.Sub(s).Hours() / 24), nil
}

// Range returns every ISO-8601 date in [start, end] inclusive, ascending.
func Range(start, end string) ([]string, error) {
	n, err := DaysBetween(start, end)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("calendar: start %q is after end %q", start, end)
	}
	out := make([]string, 0, n+1)
	cur := start
	for i := 0; i <= n; i++ {
		out = append(out, cur)
		if i == n {
			break
		}
		cur, err = AddDays(cur, 1)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
