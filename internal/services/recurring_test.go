package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"budgetplanner/internal/core"
	"budgetplanner/internal/storage"
)

func (f *fixture) recurring(t *testing.T, name, amount string, day int, accountID string) core.RecurringItem {
	t.Helper()
	r, err := f.ledger.Recurring.Create(context.Background(), f.sess, core.NewRecurring{
		Name: name, Amount: dec(amount), DayOfMonth: day, Category: core.CategoryWants, AccountID: accountID,
	})
	if err != nil {
		t.Fatalf("create recurring: %v", err)
	}
	return r
}

func TestRecurringPostsOncePerMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "1000")
	tmpl := f.recurring(t, "Gym", "50", 5, a.ID)

	report, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, march)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Posted != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	assertBalance(t, f, a.ID, "950")

	items, _ := f.ledger.Budget.ListItems(ctx, f.sess, march)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.Date != "2026-03-05" || !it.IsRecurring || it.RecurringID != tmpl.ID ||
		it.Name != "[Auto] Gym" || !it.Amount.Equal(dec("50")) || it.AccountID != a.ID {
		t.Fatalf("unexpected auto item %+v", it)
	}
	list, _ := f.ledger.Recurring.List(ctx, f.sess)
	if list[0].LastProcessedMonth != march {
		t.Fatalf("marker = %q", list[0].LastProcessedMonth)
	}

	// A second run for the same month changes nothing.
	report, err = f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, march)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if report.Posted != 0 || report.Skipped != 1 {
		t.Fatalf("second run should skip: %+v", report)
	}
	assertBalance(t, f, a.ID, "950")
	items, _ = f.ledger.Budget.ListItems(ctx, f.sess, march)
	if len(items) != 1 {
		t.Fatalf("duplicate posting: %d items", len(items))
	}

	// The next month posts again.
	if _, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, "2026-04"); err != nil {
		t.Fatalf("april: %v", err)
	}
	assertBalance(t, f, a.ID, "900")
	april, _ := f.ledger.Budget.ListItems(ctx, f.sess, "2026-04")
	if len(april) != 1 || april[0].Date != "2026-04-05" {
		t.Fatalf("unexpected april items %+v", april)
	}
}

func TestRecurringCreatesMonthBudgetLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recurring(t, "Stream", "12.99", 31, "")

	if _, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, "2026-02"); err != nil {
		t.Fatalf("process: %v", err)
	}
	snap, err := storage.Get(ctx, f.mem, monthPath(f.sess, "2026-02"))
	if err != nil || !snap.Exists() {
		t.Fatalf("month budget not created: %v", err)
	}
	b, _ := f.ledger.Budget.GetMonthBudget(ctx, f.sess, "2026-02")
	if !b.Income.IsZero() || b.Rule != core.Rule503020 {
		t.Fatalf("unexpected lazy budget %+v", b)
	}
	items, _ := f.ledger.Budget.ListItems(ctx, f.sess, "2026-02")
	if len(items) != 1 || items[0].Date != "2026-02-28" || items[0].AccountID != "" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestRecurringKeepsExistingMonthBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Budget.SetIncome(ctx, f.sess, march, dec("2500")); err != nil {
		t.Fatalf("set income: %v", err)
	}
	f.recurring(t, "Phone", "20", 1, "")
	if _, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, march); err != nil {
		t.Fatalf("process: %v", err)
	}
	b, _ := f.ledger.Budget.GetMonthBudget(ctx, f.sess, march)
	if !b.Income.Equal(dec("2500")) {
		t.Fatalf("income overwritten: %s", b.Income)
	}
}

func TestRecurringFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100")
	broken := f.recurring(t, "Old card", "30", 2, "deleted-account")
	f.recurring(t, "Rent", "60", 3, a.ID)

	report, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, march)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Posted != 1 || report.Failed != 1 || len(report.Failures) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Failures[0].RecurringID != broken.ID || !strings.Contains(report.Failures[0].Error, "account not found") {
		t.Fatalf("unexpected failure %+v", report.Failures[0])
	}
	assertBalance(t, f, a.ID, "40")

	list, _ := f.ledger.Recurring.List(ctx, f.sess)
	for _, r := range list {
		if r.ID == broken.ID && r.LastProcessedMonth != "" {
			t.Fatal("failed bill must stay eligible")
		}
	}
	items, _ := f.ledger.Budget.ListItems(ctx, f.sess, march)
	if len(items) != 1 {
		t.Fatalf("expected only the rent item, got %d", len(items))
	}
}

func TestRecurringConcurrentRunsPostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "500")
	f.recurring(t, "Internet", "25", 10, a.ID)
	f.recurring(t, "Power", "75", 12, a.ID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, march); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	assertBalance(t, f, a.ID, "400")
	items, _ := f.ledger.Budget.ListItems(ctx, f.sess, march)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestRecurringStaleTemplateIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100")
	tmpl := f.recurring(t, "Gym", "10", 5, a.ID)

	// Another run already posted it after our listing.
	if _, _, err := f.ledger.Recurring.post(ctx, f.sess, march, tmpl); err != nil {
		t.Fatalf("first post: %v", err)
	}
	_, posted, err := f.ledger.Recurring.post(ctx, f.sess, march, tmpl)
	if err != nil || posted {
		t.Fatalf("stale template posted again: posted=%v err=%v", posted, err)
	}
	assertBalance(t, f, a.ID, "90")

	if err := f.ledger.Recurring.Delete(ctx, f.sess, tmpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, posted, err = f.ledger.Recurring.post(ctx, f.sess, "2026-04", tmpl)
	if err != nil || posted {
		t.Fatalf("deleted template posted: posted=%v err=%v", posted, err)
	}
	if err := f.ledger.Recurring.Delete(ctx, f.sess, tmpl.ID); !errors.Is(err, core.ErrRecurringNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecurringListOrderAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recurring(t, "B", "1", 20, "")
	f.recurring(t, "A", "1", 3, "")
	list, err := f.ledger.Recurring.List(ctx, f.sess)
	if err != nil || len(list) != 2 || list[0].Name != "A" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	_, err = f.ledger.Recurring.Create(ctx, f.sess, core.NewRecurring{Name: "x", Amount: dec("1"), DayOfMonth: 40, Category: core.CategoryNeeds})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.ledger.Recurring.ProcessRecurringBills(ctx, f.sess, "March"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error for month, got %v", err)
	}
}

func TestUpcoming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recurring(t, "Today", "1", 10, "")
	f.recurring(t, "InWindow", "1", 17, "")
	f.recurring(t, "TooLate", "1", 18, "")
	f.recurring(t, "Passed", "1", 9, "")

	today := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	bills, err := f.ledger.Recurring.Upcoming(ctx, f.sess, today, DefaultUpcomingWindow)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(bills) != 2 {
		t.Fatalf("expected 2 bills, got %+v", bills)
	}
	if bills[0].Recurring.Name != "Today" || bills[0].DaysUntil != 0 || bills[0].DueDate != "2026-03-10" {
		t.Fatalf("unexpected first bill %+v", bills[0])
	}
	if bills[1].Recurring.Name != "InWindow" || bills[1].DaysUntil != 7 {
		t.Fatalf("unexpected second bill %+v", bills[1])
	}
}

func TestUpcomingWrapsIntoNextMonth(t *testing.T) {
	f := newFixture(t)
	f.recurring(t, "Rent", "1", 2, "")
	f.recurring(t, "EndOfMonth", "1", 31, "")
	today := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	bills, err := f.ledger.Recurring.Upcoming(context.Background(), f.sess, today, 7)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(bills) != 2 {
		t.Fatalf("expected 2 bills, got %+v", bills)
	}
	if bills[0].DueDate != "2026-02-28" || bills[1].DueDate != "2026-03-02" || bills[1].DaysUntil != 3 {
		t.Fatalf("unexpected bills %+v", bills)
	}
}
