package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/txn"
)

// RecurringEngine keeps the user's bill templates and posts them into a
// month at most once.
type RecurringEngine struct {
	*deps
	accounts *AccountStore
	runs     singleflight.Group
}

func newRecurringEngine(d *deps, accounts *AccountStore) *RecurringEngine {
	return &RecurringEngine{deps: d, accounts: accounts}
}

// ItemFailure describes a template that could not be posted.
type ItemFailure struct {
	RecurringID string `json:"recurringId"`
	Name        string `json:"name"`
	Error       string `json:"error"`
}

// ProcessReport summarises one processing run.
type ProcessReport struct {
	Month    core.MonthKey `json:"month"`
	Checked  int           `json:"checked"`
	Posted   int           `json:"posted"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

func (e *RecurringEngine) Create(ctx context.Context, sess auth.Session, n core.NewRecurring) (core.RecurringItem, error) {
	if err := checkSession(sess); err != nil {
		return core.RecurringItem{}, err
	}
	if err := n.Validate(); err != nil {
		return core.RecurringItem{}, err
	}
	if n.AccountID != "" {
		if err := validID("accountId", n.AccountID); err != nil {
			return core.RecurringItem{}, err
		}
	}
	item := core.RecurringItem{
		ID:         e.newID(),
		Name:       strings.TrimSpace(n.Name),
		Amount:     n.Amount,
		DayOfMonth: n.DayOfMonth,
		Category:   n.Category,
		AccountID:  n.AccountID,
	}
	if err := e.engine.Store().Commit(ctx, nil, []storage.Write{storage.Create(recurringPath(sess, item.ID), item)}); err != nil {
		return core.RecurringItem{}, fmt.Errorf("create recurring item: %w", err)
	}
	slog.InfoContext(ctx, "Recurring item created",
		applog.FieldUserID, sess.UserID,
		applog.FieldRecurringID, item.ID,
		"day_of_month", item.DayOfMonth,
		applog.FieldAmount, core.FormatAmount(item.Amount))
	return item, nil
}

// List returns the templates ordered by day of month, then name.
func (e *RecurringEngine) List(ctx context.Context, sess auth.Session) ([]core.RecurringItem, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	snaps, err := e.engine.Store().List(ctx, recurringsPath(sess))
	if err != nil {
		return nil, fmt.Errorf("list recurring items: %w", err)
	}
	items := make([]core.RecurringItem, 0, len(snaps))
	for _, snap := range snaps {
		var it core.RecurringItem
		if err := snap.Decode(&it); err != nil {
			return nil, err
		}
		it.ID = snap.ID()
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].DayOfMonth != items[j].DayOfMonth {
			return items[i].DayOfMonth < items[j].DayOfMonth
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// Delete removes a template. Items it already posted stay in their months.
func (e *RecurringEngine) Delete(ctx context.Context, sess auth.Session, id string) error {
	if err := checkSession(sess); err != nil {
		return err
	}
	if err := validID("recurringId", id); err != nil {
		return err
	}
	path := recurringPath(sess, id)
	err := e.engine.RunAtomic(ctx, txn.ReadPlan{path}, func(r *txn.Reads) ([]storage.Write, error) {
		if !r.Get(path).Exists() {
			return nil, core.ErrRecurringNotFound
		}
		return []storage.Write{storage.Delete(path)}, nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring item deleted", applog.FieldUserID, sess.UserID, applog.FieldRecurringID, id)
	return nil
}

// ProcessRecurringBills posts every template not yet posted into month.
//
// Templates are handled one after another, each in its own transaction, so
// bills drawing on the same account do not contend. A template that fails is
// logged and reported; the others are still posted. Concurrent calls for the
// same user and month share one run, and calling again once a run finished
// posts nothing new.
func (e *RecurringEngine) ProcessRecurringBills(ctx context.Context, sess auth.Session, month core.MonthKey) (ProcessReport, error) {
	if err := checkSession(sess); err != nil {
		return ProcessReport{}, err
	}
	if err := checkMonth(month); err != nil {
		return ProcessReport{}, err
	}
	key := sess.UserID + "|" + string(month)
	// The run outlives any single caller that shares it.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := e.runs.Do(key, func() (any, error) {
		return e.process(runCtx, sess, month)
	})
	if shared {
		slog.DebugContext(ctx, "Joined running recurring processing", applog.FieldUserID, sess.UserID, applog.FieldMonthKey, month)
	}
	report, _ := v.(ProcessReport)
	return report, err
}

func (e *RecurringEngine) process(ctx context.Context, sess auth.Session, month core.MonthKey) (ProcessReport, error) {
	report := ProcessReport{Month: month}
	templates, err := e.List(ctx, sess)
	if err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "Processing recurring bills",
		applog.FieldUserID, sess.UserID,
		applog.FieldMonthKey, month,
		"total", len(templates))

	for _, tmpl := range templates {
		report.Checked++
		if tmpl.LastProcessedMonth == month {
			report.Skipped++
			continue
		}

		item, posted, err := e.post(ctx, sess, month, tmpl)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, ItemFailure{
				RecurringID: tmpl.ID,
				Name:        tmpl.Name,
				Error:       err.Error(),
			})
			slog.ErrorContext(ctx, "Failed to post recurring bill",
				applog.FieldUserID, sess.UserID,
				applog.FieldMonthKey, month,
				applog.FieldRecurringID, tmpl.ID,
				"name", tmpl.Name,
				applog.FieldError, err)
			continue
		}
		if !posted {
			report.Skipped++
			continue
		}

		report.Posted++
		fields := applog.NewFields().
			WithUser(sess.UserID, month.String()).
			WithMovement(item.AccountID, core.FormatAmount(item.Amount))
		fields[applog.FieldRecurringID] = tmpl.ID
		fields[applog.FieldItemID] = item.ID
		slog.InfoContext(ctx, "Posted recurring bill", fields.ToSlice()...)
		evt := amqp.NewLedgerEvent(amqp.EventRecurringPosted, sess.UserID, item.ID)
		evt.Month = string(month)
		evt.AccountID = item.AccountID
		evt.Amount = item.Amount
		e.publish(ctx, evt)
	}

	slog.InfoContext(ctx, "Recurring bill processing complete",
		applog.FieldUserID, sess.UserID,
		applog.FieldMonthKey, month,
		"posted", report.Posted,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

// post runs the transaction for one template. The marker is re-checked from
// the transaction's own read, so a run racing with another one posts nothing.
func (e *RecurringEngine) post(ctx context.Context, sess auth.Session, month core.MonthKey, tmpl core.RecurringItem) (core.BudgetItem, bool, error) {
	rPath := recurringPath(sess, tmpl.ID)
	mPath := monthPath(sess, month)
	plan := append(txn.ReadPlan{rPath, mPath}, e.accounts.paths(sess, tmpl.AccountID)...)

	itemID := e.newID()
	createdAt := e.now().UTC()
	var item core.BudgetItem
	var posted bool
	err := e.engine.RunAtomic(ctx, plan, func(r *txn.Reads) ([]storage.Write, error) {
		posted = false
		var cur core.RecurringItem
		ok, err := r.Decode(rPath, &cur)
		if err != nil {
			return nil, err
		}
		if !ok || cur.LastProcessedMonth == month {
			return nil, nil
		}
		cur.ID = tmpl.ID
		if cur.AccountID != tmpl.AccountID {
			return nil, txn.ErrTransactionConflict
		}

		var writes []storage.Write
		if !r.Get(mPath).Exists() {
			writes = append(writes, storage.Create(mPath, core.DefaultMonthBudget()))
		}
		bal := e.accounts.Balances(r, sess)
		if cur.AccountID != "" {
			if err := bal.Adjust(cur.AccountID, cur.Amount.Neg()); err != nil {
				return nil, err
			}
		}
		item = core.BudgetItem{
			ID:          itemID,
			Name:        core.RecurringPrefix + cur.Name,
			Amount:      cur.Amount,
			Category:    cur.Category,
			Date:        month.DateFor(cur.DayOfMonth),
			AccountID:   cur.AccountID,
			IsRecurring: true,
			RecurringID: cur.ID,
			CreatedAt:   createdAt,
		}
		cur.LastProcessedMonth = month

		writes = append(writes, bal.Writes()...)
		writes = append(writes,
			storage.Create(itemPath(sess, month, itemID), item),
			storage.Put(rPath, cur),
		)
		posted = true
		return writes, nil
	})
	if err != nil {
		return core.BudgetItem{}, false, err
	}
	return item, posted, nil
}
