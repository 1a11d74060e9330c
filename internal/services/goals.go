package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/txn"
)

// GoalLedger manages savings goals and their deposits.
type GoalLedger struct {
	*deps
	accounts *AccountStore
}

func (g *GoalLedger) CreateGoal(ctx context.Context, sess auth.Session, n core.NewGoal) (core.SavingsGoal, error) {
	if err := checkSession(sess); err != nil {
		return core.SavingsGoal{}, err
	}
	if err := n.Validate(); err != nil {
		return core.SavingsGoal{}, err
	}
	goal := core.SavingsGoal{
		ID:          g.newID(),
		Name:        strings.TrimSpace(n.Name),
		TotalAmount: n.TotalAmount,
		TargetDate:  n.TargetDate,
		CreatedAt:   g.now().UTC(),
		Saved:       decimal.Zero,
	}
	if err := g.engine.Store().Commit(ctx, nil, []storage.Write{storage.Create(goalPath(sess, goal.ID), goal)}); err != nil {
		return core.SavingsGoal{}, fmt.Errorf("create goal: %w", err)
	}
	slog.InfoContext(ctx, "Savings goal created",
		applog.FieldUserID, sess.UserID,
		applog.FieldGoalID, goal.ID,
		"total_amount", core.FormatAmount(goal.TotalAmount),
		"target_date", goal.TargetDate)
	evt := amqp.NewLedgerEvent(amqp.EventGoalCreated, sess.UserID, goal.ID)
	evt.Amount = goal.TotalAmount
	g.publish(ctx, evt)
	return goal, nil
}

func (g *GoalLedger) GetGoal(ctx context.Context, sess auth.Session, id string) (core.SavingsGoal, error) {
	if err := checkSession(sess); err != nil {
		return core.SavingsGoal{}, err
	}
	if err := validID("goalId", id); err != nil {
		return core.SavingsGoal{}, err
	}
	snap, err := storage.Get(ctx, g.engine.Store(), goalPath(sess, id))
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("get goal: %w", err)
	}
	if !snap.Exists() {
		return core.SavingsGoal{}, core.ErrGoalNotFound
	}
	return decodeGoal(snap)
}

// ListGoals returns goals ordered by target date.
func (g *GoalLedger) ListGoals(ctx context.Context, sess auth.Session) ([]core.SavingsGoal, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	snaps, err := g.engine.Store().List(ctx, goalsPath(sess))
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	goals := make([]core.SavingsGoal, 0, len(snaps))
	for _, snap := range snaps {
		goal, err := decodeGoal(snap)
		if err != nil {
			return nil, err
		}
		goals = append(goals, goal)
	}
	sort.SliceStable(goals, func(i, j int) bool {
		if goals[i].TargetDate != goals[j].TargetDate {
			return goals[i].TargetDate < goals[j].TargetDate
		}
		return goals[i].Name < goals[j].Name
	})
	return goals, nil
}

// Deposit moves amount from the account into the goal. The account debit,
// the goal's running total and the deposit record commit together.
func (g *GoalLedger) Deposit(ctx context.Context, sess auth.Session, goalID string, amount decimal.Decimal, accountID string) (core.Deposit, error) {
	if err := checkSession(sess); err != nil {
		return core.Deposit{}, err
	}
	if err := validID("goalId", goalID); err != nil {
		return core.Deposit{}, err
	}
	if err := core.ValidateAmount("amount", amount); err != nil {
		return core.Deposit{}, err
	}
	if err := validID("accountId", accountID); err != nil {
		return core.Deposit{}, err
	}

	gPath := goalPath(sess, goalID)
	dep := core.Deposit{
		ID:        g.newID(),
		Amount:    amount,
		AccountID: accountID,
		Date:      core.FormatDate(g.now().UTC()),
	}
	plan := append(txn.ReadPlan{gPath}, g.accounts.paths(sess, accountID)...)
	var saved decimal.Decimal
	err := g.engine.RunAtomic(ctx, plan, func(r *txn.Reads) ([]storage.Write, error) {
		var goal core.SavingsGoal
		ok, err := r.Decode(gPath, &goal)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, core.ErrGoalNotFound
		}
		bal := g.accounts.Balances(r, sess)
		if err := bal.Adjust(accountID, amount.Neg()); err != nil {
			return nil, err
		}
		goal.ID = goalID
		goal.Saved = goal.Saved.Add(amount)
		saved = goal.Saved
		return append(bal.Writes(),
			storage.Put(gPath, goal),
			storage.Create(depositPath(sess, goalID, dep.ID), dep),
		), nil
	})
	if err != nil {
		return core.Deposit{}, err
	}

	fields := applog.NewFields().
		WithUser(sess.UserID, "").
		WithMovement(accountID, core.FormatAmount(amount))
	fields[applog.FieldGoalID] = goalID
	fields["saved"] = core.FormatAmount(saved)
	slog.InfoContext(ctx, "Deposit recorded", fields.ToSlice()...)
	evt := amqp.NewLedgerEvent(amqp.EventGoalDeposit, sess.UserID, goalID)
	evt.AccountID = accountID
	evt.Amount = amount
	g.publish(ctx, evt)
	return dep, nil
}

// ListDeposits returns the goal's deposits, oldest first.
func (g *GoalLedger) ListDeposits(ctx context.Context, sess auth.Session, goalID string) ([]core.Deposit, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	if err := validID("goalId", goalID); err != nil {
		return nil, err
	}
	snaps, err := g.engine.Store().List(ctx, depositsPath(sess, goalID))
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	return decodeDeposits(snaps)
}

// CurrentSaved sums the goal's deposit records.
func (g *GoalLedger) CurrentSaved(ctx context.Context, sess auth.Session, goalID string) (decimal.Decimal, error) {
	if _, err := g.GetGoal(ctx, sess, goalID); err != nil {
		return decimal.Zero, err
	}
	deposits, err := g.ListDeposits(ctx, sess, goalID)
	if err != nil {
		return decimal.Zero, err
	}
	return sumDeposits(deposits), nil
}

// WatchSaved emits the goal's saved amount now and after every change to
// its deposits, until ctx is done.
func (g *GoalLedger) WatchSaved(ctx context.Context, sess auth.Session, goalID string, interval time.Duration) (<-chan decimal.Decimal, error) {
	if _, err := g.GetGoal(ctx, sess, goalID); err != nil {
		return nil, err
	}
	snaps := storage.Watch(ctx, g.engine.Store(), depositsPath(sess, goalID), interval)
	out := make(chan decimal.Decimal, 1)
	go func() {
		defer close(out)
		for batch := range snaps {
			deposits, err := decodeDeposits(batch)
			if err != nil {
				slog.WarnContext(ctx, "Skipping undecodable deposits", applog.FieldGoalID, goalID, applog.FieldError, err)
				continue
			}
			select {
			case out <- sumDeposits(deposits):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// DeleteGoal removes the goal. Deposits are not refunded to their accounts,
// so the caller must pass acknowledgeNoRefund once the user has agreed.
func (g *GoalLedger) DeleteGoal(ctx context.Context, sess auth.Session, goalID string, acknowledgeNoRefund bool) error {
	if err := checkSession(sess); err != nil {
		return err
	}
	if err := validID("goalId", goalID); err != nil {
		return err
	}
	if !acknowledgeNoRefund {
		return fmt.Errorf("%w: money will not be refunded", core.ErrConfirmationRequired)
	}
	path := goalPath(sess, goalID)
	err := g.engine.RunAtomic(ctx, txn.ReadPlan{path}, func(r *txn.Reads) ([]storage.Write, error) {
		if !r.Get(path).Exists() {
			return nil, core.ErrGoalNotFound
		}
		return []storage.Write{storage.Delete(path)}, nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Savings goal deleted without refund", applog.FieldUserID, sess.UserID, applog.FieldGoalID, goalID)
	g.publish(ctx, amqp.NewLedgerEvent(amqp.EventGoalDeleted, sess.UserID, goalID))
	return nil
}

func decodeGoal(snap storage.Snapshot) (core.SavingsGoal, error) {
	var goal core.SavingsGoal
	if err := snap.Decode(&goal); err != nil {
		return core.SavingsGoal{}, err
	}
	goal.ID = snap.ID()
	return goal, nil
}

func decodeDeposits(snaps []storage.Snapshot) ([]core.Deposit, error) {
	deposits := make([]core.Deposit, 0, len(snaps))
	for _, snap := range snaps {
		var d core.Deposit
		if err := snap.Decode(&d); err != nil {
			return nil, err
		}
		d.ID = snap.ID()
		deposits = append(deposits, d)
	}
	sort.SliceStable(deposits, func(i, j int) bool { return deposits[i].Date < deposits[j].Date })
	return deposits, nil
}

func sumDeposits(deposits []core.Deposit) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deposits {
		total = total.Add(d.Amount)
	}
	return total
}
