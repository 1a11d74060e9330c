// Package services implements the ledger: bank accounts, monthly budget
// items, recurring bills and savings goals. Every operation that moves money
// runs as one optimistic transaction so balances, ledger entries and
// processing markers are committed together or not at all.
package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/txn"
)

// EventPublisher receives a notification after every committed change.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, evt *amqp.LedgerEvent) error
}

type deps struct {
	engine *txn.Engine
	events EventPublisher
	now    func() time.Time
	newID  func() string
}

// Option configures a Ledger.
type Option func(*deps)

// WithEvents publishes ledger events through p. Publishing is best effort.
func WithEvents(p EventPublisher) Option {
	return func(d *deps) { d.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithIDGenerator overrides uuid generation for new documents.
func WithIDGenerator(f func() string) Option {
	return func(d *deps) { d.newID = f }
}

// Ledger groups the services sharing one transaction engine.
type Ledger struct {
	Accounts  *AccountStore
	Budget    *BudgetLedger
	Recurring *RecurringEngine
	Goals     *GoalLedger
}

func New(engine *txn.Engine, opts ...Option) *Ledger {
	d := &deps{
		engine: engine,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	accounts := &AccountStore{deps: d}
	budget := &BudgetLedger{deps: d, accounts: accounts}
	return &Ledger{
		Accounts:  accounts,
		Budget:    budget,
		Recurring: newRecurringEngine(d, accounts),
		Goals:     &GoalLedger{deps: d, accounts: accounts},
	}
}

// publish sends evt when a publisher is configured. Failures are logged and
// never fail the operation that already committed.
func (d *deps) publish(ctx context.Context, evt *amqp.LedgerEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishLedgerEvent(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"type", evt.Type,
			"entity_id", evt.EntityID,
			applog.FieldError, err)
	}
}

// validID rejects ids that would escape their collection.
func validID(field, id string) error {
	if id == "" {
		return core.Invalid(field, "is required")
	}
	if strings.Contains(id, "/") || len(id) > 128 {
		return core.Invalid(field, "malformed id")
	}
	return nil
}

func checkSession(s auth.Session) error {
	if !s.Valid() || strings.Contains(s.UserID, "/") {
		return auth.ErrNoSession
	}
	return nil
}
