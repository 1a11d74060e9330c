package services

import (
	"context"
	"sort"
	"time"

	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
)

// DefaultUpcomingWindow is how many days ahead Upcoming looks by default.
const DefaultUpcomingWindow = 7

// UpcomingBill is a recurring bill falling due within the window.
type UpcomingBill struct {
	Recurring core.RecurringItem `json:"recurring"`
	DueDate   string             `json:"dueDate"`
	DaysUntil int                `json:"daysUntil"`
	// Posted reports whether the bill was already posted for its due month.
	Posted bool `json:"posted"`
}

// nextDue returns the first due date on or after today. Days past the end of
// a month fall on its last day.
func nextDue(day int, today time.Time) (core.MonthKey, time.Time) {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	month := core.MonthOf(today)
	due, _ := time.Parse("2006-01-02", month.DateFor(day))
	if due.Before(today) {
		month = month.Next()
		due, _ = time.Parse("2006-01-02", month.DateFor(day))
	}
	return month, due
}

// Upcoming lists the bills due between today and window days later,
// soonest first.
func (e *RecurringEngine) Upcoming(ctx context.Context, sess auth.Session, today time.Time, window int) ([]UpcomingBill, error) {
	if window < 0 {
		return nil, core.Invalid("days", "cannot be negative")
	}
	templates, err := e.List(ctx, sess)
	if err != nil {
		return nil, err
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	bills := []UpcomingBill{}
	for _, tmpl := range templates {
		month, due := nextDue(tmpl.DayOfMonth, today)
		days := int(due.Sub(start).Hours() / 24)
		if days > window {
			continue
		}
		bills = append(bills, UpcomingBill{
			Recurring: tmpl,
			DueDate:   core.FormatDate(due),
			DaysUntil: days,
			Posted:    tmpl.LastProcessedMonth == month,
		})
	}
	sort.SliceStable(bills, func(i, j int) bool { return bills[i].DaysUntil < bills[j].DaysUntil })
	return bills, nil
}
