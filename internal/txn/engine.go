// Package txn runs optimistic read-all-then-write-all transactions over a
// storage.Store.
//
// A transaction declares every document it reads up front. The engine reads
// them in one consistent snapshot, hands them to a pure write function and
// commits the returned writes guarded by the versions it read. When another
// commit got there first the whole cycle is retried with backoff until the
// attempt budget runs out.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"budgetplanner/internal/storage"
)

// ErrTransactionConflict is returned after every attempt lost to a
// concurrent commit. Callers should ask the user to retry the action.
var ErrTransactionConflict = errors.New("action failed, please retry")

const (
	DefaultMaxAttempts = 5
	defaultBaseDelay   = 10 * time.Millisecond
	defaultMaxDelay    = 250 * time.Millisecond
)

// ReadPlan lists the document paths a transaction reads.
type ReadPlan []string

// WriteFunc computes the writes from the reads. It may run several times and
// must not have side effects. Returning an error aborts the transaction
// without retrying.
type WriteFunc func(r *Reads) ([]storage.Write, error)

// Reads is the snapshot a WriteFunc works on.
type Reads struct {
	snaps map[string]storage.Snapshot
}

// Get returns the snapshot of a planned path. Reading a path that was not
// planned is a programming error and panics.
func (r *Reads) Get(path string) storage.Snapshot {
	snap, ok := r.snaps[path]
	if !ok {
		panic(fmt.Sprintf("txn: read of %q outside the read plan", path))
	}
	return snap
}

// Decode reads a planned path into v. It reports false when the document
// does not exist.
func (r *Reads) Decode(path string, v any) (bool, error) {
	snap := r.Get(path)
	if !snap.Exists() {
		return false, nil
	}
	return true, snap.Decode(v)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts sets how many times a conflicting transaction runs.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the base and maximum delay between attempts.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.baseDelay = base
		e.maxDelay = max
	}
}

// Engine runs transactions against one store.
type Engine struct {
	store       storage.Store
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store for plain reads.
func (e *Engine) Store() storage.Store {
	return e.store
}

// RunAtomic reads plan, calls fn and commits its writes atomically.
// Either every write is applied or none is.
func (e *Engine) RunAtomic(ctx context.Context, plan ReadPlan, fn WriteFunc) error {
	for attempt := 1; ; attempt++ {
		err := e.attempt(ctx, plan, fn)
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		if attempt >= e.maxAttempts {
			slog.WarnContext(ctx, "Transaction retry budget exhausted",
				"attempts", attempt, "paths", []string(plan))
			return fmt.Errorf("%w: %d attempts", ErrTransactionConflict, attempt)
		}
		slog.DebugContext(ctx, "Transaction conflict, retrying", "attempt", attempt)
		if err := sleep(ctx, e.backoff(attempt)); err != nil {
			return err
		}
	}
}

func (e *Engine) attempt(ctx context.Context, plan ReadPlan, fn WriteFunc) error {
	snaps, err := e.store.GetAll(ctx, plan)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	reads := &Reads{snaps: make(map[string]storage.Snapshot, len(snaps))}
	conds := make([]storage.Precondition, 0, len(snaps))
	for _, s := range snaps {
		if _, dup := reads.snaps[s.Path]; dup {
			continue
		}
		reads.snaps[s.Path] = s
		conds = append(conds, storage.Precondition{Path: s.Path, Version: s.Version})
	}

	writes, err := fn(reads)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	return e.store.Commit(ctx, conds, writes)
}

// backoff doubles the base delay per attempt, capped, with full jitter.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.baseDelay << (attempt - 1)
	if d <= 0 || d > e.maxDelay {
		d = e.maxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
