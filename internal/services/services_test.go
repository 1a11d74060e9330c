package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/storage/memory"
	"budgetplanner/internal/txn"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// countingStore counts every call that reaches the store.
type countingStore struct {
	storage.Store
	calls atomic.Int64
}

func (c *countingStore) GetAll(ctx context.Context, paths []string) ([]storage.Snapshot, error) {
	c.calls.Add(1)
	return c.Store.GetAll(ctx, paths)
}

func (c *countingStore) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	c.calls.Add(1)
	return c.Store.List(ctx, collection)
}

func (c *countingStore) Commit(ctx context.Context, conds []storage.Precondition, writes []storage.Write) error {
	c.calls.Add(1)
	return c.Store.Commit(ctx, conds, writes)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, evt *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	mem    *memory.Store
	store  *countingStore
	ledger *Ledger
	events *recordingPublisher
	sess   auth.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	store := &countingStore{Store: mem}
	events := &recordingPublisher{}
	var seq atomic.Int64
	engine := txn.NewEngine(store,
		txn.WithMaxAttempts(200),
		txn.WithBackoff(time.Microsecond, time.Millisecond))
	ledger := New(engine,
		WithEvents(events),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }))
	return &fixture{mem: mem, store: store, ledger: ledger, events: events, sess: auth.Session{UserID: "user-1"}}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) account(t *testing.T, balance string) core.Account {
	t.Helper()
	acc, err := f.ledger.Accounts.Create(context.Background(), f.sess, core.NewAccount{
		BankName: "Bank", Nickname: "main", Balance: dec(balance),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acc, err := f.ledger.Accounts.Get(context.Background(), f.sess, id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	return acc.Balance
}

func assertBalance(t *testing.T, f *fixture, id, want string) {
	t.Helper()
	if got := f.balance(t, id); !got.Equal(dec(want)) {
		t.Fatalf("balance of %s = %s, want %s", id, got, want)
	}
}

func TestAccountLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.account(t, "100")
	a, err := f.ledger.Accounts.Create(ctx, f.sess, core.NewAccount{BankName: "Abn", Nickname: "savings", Balance: dec("5.5")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := f.ledger.Accounts.List(ctx, f.sess)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("unexpected order %+v", list)
	}

	updated, err := f.ledger.Accounts.SetBalance(ctx, f.sess, b.ID, dec("42.10"))
	if err != nil || !updated.Balance.Equal(dec("42.1")) {
		t.Fatalf("set balance: %+v %v", updated, err)
	}
	assertBalance(t, f, b.ID, "42.10")

	if err := f.ledger.Accounts.Delete(ctx, f.sess, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.ledger.Accounts.Get(ctx, f.sess, b.ID); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.ledger.Accounts.Delete(ctx, f.sess, b.ID); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
	if _, err := f.ledger.Accounts.SetBalance(ctx, f.sess, b.ID, dec("1")); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("set balance on missing account: %v", err)
	}
}

func TestAccountsAreScopedToUser(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, "10")
	other := auth.Session{UserID: "user-2"}
	if _, err := f.ledger.Accounts.Get(context.Background(), other, acc.ID); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("other user should not see the account, got %v", err)
	}
	if _, err := f.ledger.Accounts.List(context.Background(), auth.Session{}); !errors.Is(err, auth.ErrNoSession) {
		t.Fatalf("empty session should be rejected, got %v", err)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")
	acc := f.account(t, "10")
	if acc.ID == "" {
		t.Fatal("account should still be created")
	}
}
