package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/txn"
)

// AccountStore holds bank account balances. Balances change either through
// a ledger transaction or through SetBalance for manual corrections.
type AccountStore struct {
	*deps
}

func (a *AccountStore) Get(ctx context.Context, sess auth.Session, id string) (core.Account, error) {
	if err := checkSession(sess); err != nil {
		return core.Account{}, err
	}
	if err := validID("accountId", id); err != nil {
		return core.Account{}, err
	}
	snap, err := storage.Get(ctx, a.engine.Store(), accountPath(sess, id))
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	if !snap.Exists() {
		return core.Account{}, &core.AccountNotFoundError{AccountID: id}
	}
	return decodeAccount(snap)
}

// List returns the user's accounts ordered by bank name and nickname.
func (a *AccountStore) List(ctx context.Context, sess auth.Session) ([]core.Account, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	snaps, err := a.engine.Store().List(ctx, accountsPath(sess))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]core.Account, 0, len(snaps))
	for _, snap := range snaps {
		acc, err := decodeAccount(snap)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].BankName != accounts[j].BankName {
			return accounts[i].BankName < accounts[j].BankName
		}
		return accounts[i].Nickname < accounts[j].Nickname
	})
	return accounts, nil
}

func (a *AccountStore) Create(ctx context.Context, sess auth.Session, n core.NewAccount) (core.Account, error) {
	if err := checkSession(sess); err != nil {
		return core.Account{}, err
	}
	if err := n.Validate(); err != nil {
		return core.Account{}, err
	}
	acc := core.Account{
		ID:       a.newID(),
		BankName: n.BankName,
		Nickname: n.Nickname,
		Balance:  n.Balance.Round(2),
	}
	if err := a.engine.Store().Commit(ctx, nil, []storage.Write{storage.Create(accountPath(sess, acc.ID), acc)}); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		applog.FieldUserID, sess.UserID,
		applog.FieldAccountID, acc.ID,
		"bank_name", acc.BankName)
	evt := amqp.NewLedgerEvent(amqp.EventAccountCreated, sess.UserID, acc.ID)
	evt.Amount = acc.Balance
	a.publish(ctx, evt)
	return acc, nil
}

// Delete removes the account only. Budget items and deposits that reference
// it keep the now dangling id; reversing them later skips the missing account.
func (a *AccountStore) Delete(ctx context.Context, sess auth.Session, id string) error {
	if err := checkSession(sess); err != nil {
		return err
	}
	if err := validID("accountId", id); err != nil {
		return err
	}
	path := accountPath(sess, id)
	err := a.engine.RunAtomic(ctx, txn.ReadPlan{path}, func(r *txn.Reads) ([]storage.Write, error) {
		if !r.Get(path).Exists() {
			return nil, &core.AccountNotFoundError{AccountID: id}
		}
		return []storage.Write{storage.Delete(path)}, nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Account deleted", applog.FieldUserID, sess.UserID, applog.FieldAccountID, id)
	a.publish(ctx, amqp.NewLedgerEvent(amqp.EventAccountDeleted, sess.UserID, id))
	return nil
}

// SetBalance overwrites the balance with a manually entered value.
func (a *AccountStore) SetBalance(ctx context.Context, sess auth.Session, id string, balance decimal.Decimal) (core.Account, error) {
	if err := checkSession(sess); err != nil {
		return core.Account{}, err
	}
	if err := validID("accountId", id); err != nil {
		return core.Account{}, err
	}
	if !balance.Equal(balance.Round(2)) {
		return core.Account{}, core.Invalid("balance", "at most two decimal places")
	}
	path := accountPath(sess, id)
	var updated core.Account
	err := a.engine.RunAtomic(ctx, txn.ReadPlan{path}, func(r *txn.Reads) ([]storage.Write, error) {
		ok, err := r.Decode(path, &updated)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &core.AccountNotFoundError{AccountID: id}
		}
		updated.ID = id
		updated.Balance = balance
		return []storage.Write{storage.Put(path, updated)}, nil
	})
	if err != nil {
		return core.Account{}, err
	}

	slog.InfoContext(ctx, "Account balance set",
		applog.FieldUserID, sess.UserID,
		applog.FieldAccountID, id,
		"balance", core.FormatAmount(balance))
	evt := amqp.NewLedgerEvent(amqp.EventBalanceSet, sess.UserID, id)
	evt.AccountID = id
	evt.Amount = balance
	a.publish(ctx, evt)
	return updated, nil
}

// paths returns the document paths of the non-empty account ids, for a
// transaction's read plan.
func (a *AccountStore) paths(sess auth.Session, ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, accountPath(sess, id))
		}
	}
	return out
}

// Balances stages balance changes inside a caller's transaction. An account
// adjusted several times is written once with the combined delta.
type Balances struct {
	reads    *txn.Reads
	sess     auth.Session
	order    []string
	accounts map[string]*core.Account
}

// Balances starts staging balance changes against the reads of a running
// transaction. Every account adjusted must be in the read plan.
func (a *AccountStore) Balances(r *txn.Reads, sess auth.Session) *Balances {
	return &Balances{reads: r, sess: sess, accounts: make(map[string]*core.Account)}
}

// Adjust adds delta to the account balance. A missing account fails the
// enclosing transaction with AccountNotFoundError.
func (b *Balances) Adjust(id string, delta decimal.Decimal) error {
	acc, err := b.load(id)
	if err != nil {
		return err
	}
	if acc == nil {
		return &core.AccountNotFoundError{AccountID: id}
	}
	acc.Balance = acc.Balance.Add(delta)
	return nil
}

// AdjustIfPresent is Adjust for reversals: a deleted account is skipped and
// reported as false.
func (b *Balances) AdjustIfPresent(id string, delta decimal.Decimal) (bool, error) {
	acc, err := b.load(id)
	if err != nil || acc == nil {
		return false, err
	}
	acc.Balance = acc.Balance.Add(delta)
	return true, nil
}

// Writes returns one write per adjusted account, in adjustment order.
func (b *Balances) Writes() []storage.Write {
	writes := make([]storage.Write, 0, len(b.order))
	for _, id := range b.order {
		writes = append(writes, storage.Put(accountPath(b.sess, id), *b.accounts[id]))
	}
	return writes
}

func (b *Balances) load(id string) (*core.Account, error) {
	if acc, ok := b.accounts[id]; ok {
		return acc, nil
	}
	var acc core.Account
	ok, err := b.reads.Decode(accountPath(b.sess, id), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	acc.ID = id
	b.accounts[id] = &acc
	b.order = append(b.order, id)
	return &acc, nil
}

func decodeAccount(snap storage.Snapshot) (core.Account, error) {
	var acc core.Account
	if err := snap.Decode(&acc); err != nil {
		return core.Account{}, err
	}
	acc.ID = snap.ID()
	return acc, nil
}
