package core

import (
	"strings"
	"time"
)

const monthLayout = "2006-01"

// MonthKey identifies a budgeting period as a zero-padded "YYYY-MM".
type MonthKey string

// ParseMonthKey validates s. "2026-3" and "2026-13" are both rejected.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil || t.Format(monthLayout) != s {
		return "", ErrInvalidMonth
	}
	return MonthKey(s), nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.Format(monthLayout))
}

func (m MonthKey) String() string { return string(m) }

// Start is midnight UTC on the first day of the month.
func (m MonthKey) Start() time.Time {
	t, _ := time.Parse(monthLayout, string(m))
	return t
}

// Days returns the number of days in the month.
func (m MonthKey) Days() int {
	return m.Start().AddDate(0, 1, -1).Day()
}

// DateFor returns the ledger date for day within the month, clamped to the
// last day so a bill due on the 31st posts on the 30th, 29th or 28th.
func (m MonthKey) DateFor(day int) string {
	if day < 1 {
		day = 1
	}
	if last := m.Days(); day > last {
		day = last
	}
	return FormatDate(m.Start().AddDate(0, 0, day-1))
}

// Contains reports whether a YYYY-MM-DD date falls in the month.
func (m MonthKey) Contains(date string) bool {
	return strings.HasPrefix(date, string(m)+"-")
}

// Next returns the following month.
func (m MonthKey) Next() MonthKey {
	return MonthOf(m.Start().AddDate(0, 1, 0))
}
