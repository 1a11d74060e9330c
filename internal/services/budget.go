package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/txn"
)

// BudgetLedger manages a month's income, budgeting rule and items.
type BudgetLedger struct {
	*deps
	accounts *AccountStore
}

func checkMonth(m core.MonthKey) error {
	if _, err := core.ParseMonthKey(string(m)); err != nil {
		return core.Invalid("month", "expected YYYY-MM")
	}
	return nil
}

// AddItem records an item in month and moves its amount out of the source
// account, and into the destination account for savings transfers. The
// balance changes and the new item are committed in one transaction.
func (l *BudgetLedger) AddItem(ctx context.Context, sess auth.Session, month core.MonthKey, n core.NewItem, category core.Category) (core.BudgetItem, error) {
	if err := checkSession(sess); err != nil {
		return core.BudgetItem{}, err
	}
	if err := checkMonth(month); err != nil {
		return core.BudgetItem{}, err
	}
	if err := n.Validate(category); err != nil {
		return core.BudgetItem{}, err
	}
	if !month.Contains(n.Date) {
		return core.BudgetItem{}, core.Invalid("date", "outside month "+month.String())
	}
	if err := validID("accountId", n.AccountID); err != nil {
		return core.BudgetItem{}, err
	}
	if n.ToAccountID != "" {
		if err := validID("toAccountId", n.ToAccountID); err != nil {
			return core.BudgetItem{}, err
		}
	}

	item := core.BudgetItem{
		ID:          l.newID(),
		Name:        strings.TrimSpace(n.Name),
		Amount:      n.Amount,
		Category:    category,
		Date:        n.Date,
		AccountID:   n.AccountID,
		ToAccountID: n.ToAccountID,
		CreatedAt:   l.now().UTC(),
	}
	path := itemPath(sess, month, item.ID)

	plan := txn.ReadPlan(l.accounts.paths(sess, item.AccountID, item.ToAccountID))
	err := l.engine.RunAtomic(ctx, plan, func(r *txn.Reads) ([]storage.Write, error) {
		bal := l.accounts.Balances(r, sess)
		if err := bal.Adjust(item.AccountID, item.Amount.Neg()); err != nil {
			return nil, err
		}
		if item.ToAccountID != "" {
			if err := bal.Adjust(item.ToAccountID, item.Amount); err != nil {
				return nil, err
			}
		}
		return append(bal.Writes(), storage.Create(path, item)), nil
	})
	if err != nil {
		return core.BudgetItem{}, err
	}

	fields := applog.NewFields().
		WithUser(sess.UserID, month.String()).
		WithMovement(item.AccountID, core.FormatAmount(item.Amount))
	fields[applog.FieldItemID] = item.ID
	fields["category"] = item.Category
	if item.ToAccountID != "" {
		fields["to_account_id"] = item.ToAccountID
	}
	slog.InfoContext(ctx, "Budget item added", fields.ToSlice()...)
	l.publishItem(ctx, amqp.EventItemAdded, sess, month, item)
	return item, nil
}

// DeleteItem removes an item and reverses its balance effect. Accounts that
// have been deleted since are skipped.
func (l *BudgetLedger) DeleteItem(ctx context.Context, sess auth.Session, month core.MonthKey, itemID string) (core.BudgetItem, error) {
	if err := checkSession(sess); err != nil {
		return core.BudgetItem{}, err
	}
	if err := checkMonth(month); err != nil {
		return core.BudgetItem{}, err
	}
	if err := validID("itemId", itemID); err != nil {
		return core.BudgetItem{}, err
	}
	path := itemPath(sess, month, itemID)

	// The accounts to read come from the item itself.
	snap, err := storage.Get(ctx, l.engine.Store(), path)
	if err != nil {
		return core.BudgetItem{}, fmt.Errorf("get item: %w", err)
	}
	if !snap.Exists() {
		return core.BudgetItem{}, core.ErrItemNotFound
	}
	var planned core.BudgetItem
	if err := snap.Decode(&planned); err != nil {
		return core.BudgetItem{}, err
	}

	plan := append(txn.ReadPlan{path}, l.accounts.paths(sess, planned.AccountID, planned.ToAccountID)...)
	var item core.BudgetItem
	var skipped []string
	err = l.engine.RunAtomic(ctx, plan, func(r *txn.Reads) ([]storage.Write, error) {
		item = core.BudgetItem{}
		skipped = skipped[:0]
		ok, err := r.Decode(path, &item)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, core.ErrItemNotFound
		}
		item.ID = itemID
		if item.AccountID != planned.AccountID || item.ToAccountID != planned.ToAccountID {
			return nil, txn.ErrTransactionConflict
		}

		bal := l.accounts.Balances(r, sess)
		if item.AccountID != "" {
			found, err := bal.AdjustIfPresent(item.AccountID, item.Amount)
			if err != nil {
				return nil, err
			}
			if !found {
				skipped = append(skipped, item.AccountID)
			}
		}
		if item.ToAccountID != "" {
			found, err := bal.AdjustIfPresent(item.ToAccountID, item.Amount.Neg())
			if err != nil {
				return nil, err
			}
			if !found {
				skipped = append(skipped, item.ToAccountID)
			}
		}
		return append(bal.Writes(), storage.Delete(path)), nil
	})
	if err != nil {
		return core.BudgetItem{}, err
	}

	if len(skipped) > 0 {
		slog.WarnContext(ctx, "Budget item deleted without refunding missing accounts",
			applog.FieldUserID, sess.UserID,
			applog.FieldItemID, itemID,
			"missing_accounts", skipped)
	}
	slog.InfoContext(ctx, "Budget item deleted",
		applog.FieldUserID, sess.UserID,
		applog.FieldMonthKey, month,
		applog.FieldItemID, itemID,
		applog.FieldAmount, core.FormatAmount(item.Amount))
	l.publishItem(ctx, amqp.EventItemDeleted, sess, month, item)
	return item, nil
}

// ListItems returns the month's items ordered by date, then creation time.
func (l *BudgetLedger) ListItems(ctx context.Context, sess auth.Session, month core.MonthKey) ([]core.BudgetItem, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	if err := checkMonth(month); err != nil {
		return nil, err
	}
	snaps, err := l.engine.Store().List(ctx, itemsPath(sess, month))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]core.BudgetItem, 0, len(snaps))
	for _, snap := range snaps {
		var it core.BudgetItem
		if err := snap.Decode(&it); err != nil {
			return nil, err
		}
		it.ID = snap.ID()
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// GetMonthBudget returns the month's income and rule. A month that was never
// written reads as the default and is not created.
func (l *BudgetLedger) GetMonthBudget(ctx context.Context, sess auth.Session, month core.MonthKey) (core.MonthBudget, error) {
	if err := checkSession(sess); err != nil {
		return core.MonthBudget{}, err
	}
	if err := checkMonth(month); err != nil {
		return core.MonthBudget{}, err
	}
	snap, err := storage.Get(ctx, l.engine.Store(), monthPath(sess, month))
	if err != nil {
		return core.MonthBudget{}, fmt.Errorf("get month budget: %w", err)
	}
	return decodeMonthBudget(snap)
}

// SetIncome updates the month's income, creating the month if needed.
func (l *BudgetLedger) SetIncome(ctx context.Context, sess auth.Session, month core.MonthKey, income decimal.Decimal) (core.MonthBudget, error) {
	if income.IsNegative() {
		return core.MonthBudget{}, core.Invalid("income", "cannot be negative")
	}
	if !income.Equal(income.Round(2)) {
		return core.MonthBudget{}, core.Invalid("income", "at most two decimal places")
	}
	return l.updateMonth(ctx, sess, month, func(b *core.MonthBudget) { b.Income = income })
}

// SetRule changes the month's budgeting rule, creating the month if needed.
func (l *BudgetLedger) SetRule(ctx context.Context, sess auth.Session, month core.MonthKey, rule core.Rule) (core.MonthBudget, error) {
	if !rule.IsValid() {
		return core.MonthBudget{}, core.Invalid("budgetRule", "unknown rule")
	}
	return l.updateMonth(ctx, sess, month, func(b *core.MonthBudget) { b.Rule = rule })
}

func (l *BudgetLedger) updateMonth(ctx context.Context, sess auth.Session, month core.MonthKey, update func(*core.MonthBudget)) (core.MonthBudget, error) {
	if err := checkSession(sess); err != nil {
		return core.MonthBudget{}, err
	}
	if err := checkMonth(month); err != nil {
		return core.MonthBudget{}, err
	}
	path := monthPath(sess, month)
	var budget core.MonthBudget
	err := l.engine.RunAtomic(ctx, txn.ReadPlan{path}, func(r *txn.Reads) ([]storage.Write, error) {
		var err error
		budget, err = decodeMonthBudget(r.Get(path))
		if err != nil {
			return nil, err
		}
		update(&budget)
		return []storage.Write{storage.Put(path, budget)}, nil
	})
	if err != nil {
		return core.MonthBudget{}, err
	}
	slog.InfoContext(ctx, "Month budget updated",
		applog.FieldUserID, sess.UserID,
		applog.FieldMonthKey, month,
		"income", core.FormatAmount(budget.Income),
		"rule", budget.Rule)
	return budget, nil
}

// Summary compares the month's spending per category with the limits of
// its rule.
func (l *BudgetLedger) Summary(ctx context.Context, sess auth.Session, month core.MonthKey) (core.MonthSummary, error) {
	budget, err := l.GetMonthBudget(ctx, sess, month)
	if err != nil {
		return core.MonthSummary{}, err
	}
	items, err := l.ListItems(ctx, sess, month)
	if err != nil {
		return core.MonthSummary{}, err
	}
	return core.Summarize(month, budget, items), nil
}

func (l *BudgetLedger) publishItem(ctx context.Context, typ amqp.EventType, sess auth.Session, month core.MonthKey, item core.BudgetItem) {
	evt := amqp.NewLedgerEvent(typ, sess.UserID, item.ID)
	evt.Month = string(month)
	evt.AccountID = item.AccountID
	evt.Amount = item.Amount
	l.publish(ctx, evt)
}

func decodeMonthBudget(snap storage.Snapshot) (core.MonthBudget, error) {
	if !snap.Exists() {
		return core.DefaultMonthBudget(), nil
	}
	var b core.MonthBudget
	if err := snap.Decode(&b); err != nil {
		return core.MonthBudget{}, err
	}
	if !b.Rule.IsValid() {
		b.Rule = core.DefaultRule
	}
	return b, nil
}
