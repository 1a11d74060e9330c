// Package storagetest holds the behaviour every storage.Store backend must
// share. Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"budgetplanner/internal/storage"
)

type record struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Run exercises a fresh store returned by open for every subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"missing document", testMissing},
		{"set and get", testSetGet},
		{"versions increase", testVersions},
		{"precondition conflict", testPrecondition},
		{"create conflict", testCreateConflict},
		{"atomic commit", testAtomic},
		{"delete", testDelete},
		{"list direct children", testList},
		{"invalid path", testInvalidPath},
		{"concurrent increments", testConcurrentIncrements},
		{"watch", testWatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testMissing(t *testing.T, s storage.Store) {
	snap, err := storage.Get(context.Background(), s, "users/u1/bank_accounts/a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Exists() || snap.Version != 0 || snap.ID() != "a1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	var r record
	if err := snap.Decode(&r); err == nil {
		t.Fatal("decoding a missing document should fail")
	}
}

func testSetGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := storage.SetDoc(ctx, s, "c/a", record{Name: "a", Value: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, err := storage.Get(ctx, s, "c/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var r record
	if err := snap.Decode(&r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Name != "a" || r.Value != 1 {
		t.Fatalf("got %+v", r)
	}
}

func testVersions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustSet(t, s, "c/a", record{Value: 1})
	v1 := mustGet(t, s, "c/a").Version
	mustSet(t, s, "c/a", record{Value: 2})
	v2 := mustGet(t, s, "c/a").Version
	if v1 <= 0 || v2 <= v1 {
		t.Fatalf("versions should increase: %d then %d", v1, v2)
	}
	// A deleted and recreated document never reuses an old version.
	if err := storage.DeleteDoc(ctx, s, "c/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mustSet(t, s, "c/a", record{Value: 1})
	if v3 := mustGet(t, s, "c/a").Version; v3 <= v2 {
		t.Fatalf("recreated document reused version %d (previous %d)", v3, v2)
	}
}

func testPrecondition(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustSet(t, s, "c/a", record{Value: 1})
	stale := mustGet(t, s, "c/a")
	mustSet(t, s, "c/a", record{Value: 2})

	err := s.Commit(ctx,
		[]storage.Precondition{{Path: "c/a", Version: stale.Version}},
		[]storage.Write{storage.Put("c/a", record{Value: 3})})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var r record
	_ = mustGet(t, s, "c/a").Decode(&r)
	if r.Value != 2 {
		t.Fatalf("conflicting write applied: %+v", r)
	}

	// Version 0 means the document must still be missing.
	err = s.Commit(ctx,
		[]storage.Precondition{{Path: "c/a", Version: 0}},
		[]storage.Write{storage.Put("c/b", record{})})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict on existing document, got %v", err)
	}
	err = s.Commit(ctx,
		[]storage.Precondition{{Path: "c/missing", Version: 0}},
		[]storage.Write{storage.Put("c/b", record{})})
	if err != nil {
		t.Fatalf("missing precondition should hold: %v", err)
	}
}

func testCreateConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Commit(ctx, nil, []storage.Write{storage.Create("c/a", record{Value: 1})}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Commit(ctx, nil, []storage.Write{storage.Create("c/a", record{Value: 2})})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func testAtomic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustSet(t, s, "c/existing", record{Value: 1})

	// The second write fails, so the first must not be applied either.
	err := s.Commit(ctx, nil, []storage.Write{
		storage.Put("c/a", record{Value: 1}),
		storage.Create("c/existing", record{Value: 2}),
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if mustGet(t, s, "c/a").Exists() {
		t.Fatal("partial commit applied")
	}

	err = s.Commit(ctx, nil, []storage.Write{
		storage.Put("c/a", record{Value: 1}),
		storage.Put("c/b", record{Value: 2}),
		storage.Delete("c/existing"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	snaps, err := s.GetAll(ctx, []string{"c/a", "c/b", "c/existing"})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if !snaps[0].Exists() || !snaps[1].Exists() || snaps[2].Exists() {
		t.Fatalf("unexpected state %+v", snaps)
	}
	if snaps[0].Version != snaps[1].Version {
		t.Fatal("documents written by one commit should share a version")
	}
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustSet(t, s, "c/a", record{})
	if err := storage.DeleteDoc(ctx, s, "c/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mustGet(t, s, "c/a").Exists() {
		t.Fatal("document still exists")
	}
	if err := storage.DeleteDoc(ctx, s, "c/a"); err != nil {
		t.Fatalf("deleting a missing document should succeed: %v", err)
	}
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustSet(t, s, "u/budget/2026-03", record{Name: "march"})
	mustSet(t, s, "u/budget/2026-04", record{Name: "april"})
	mustSet(t, s, "u/budget/2026-03/items/i2", record{Name: "i2"})
	mustSet(t, s, "u/budget/2026-03/items/i1", record{Name: "i1"})
	mustSet(t, s, "u/budgetary/x", record{Name: "other"})

	months, err := s.List(ctx, "u/budget")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(months) != 2 || months[0].ID() != "2026-03" || months[1].ID() != "2026-04" {
		t.Fatalf("unexpected months %+v", months)
	}
	items, err := s.List(ctx, "u/budget/2026-03/items")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 || items[0].ID() != "i1" || items[1].ID() != "i2" {
		t.Fatalf("unexpected items %+v", items)
	}
	empty, err := s.List(ctx, "u/budget/2026-05/items")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v %v", empty, err)
	}
}

func testInvalidPath(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if _, err := s.GetAll(ctx, []string{"a//b"}); !errors.Is(err, storage.ErrInvalidPath) {
		t.Fatalf("expected invalid path, got %v", err)
	}
	if err := storage.SetDoc(ctx, s, "", record{}); !errors.Is(err, storage.ErrInvalidPath) {
		t.Fatalf("expected invalid path, got %v", err)
	}
}

// testConcurrentIncrements runs a read-check-write loop from several
// goroutines; every increment must land exactly once.
func testConcurrentIncrements(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustSet(t, s, "c/counter", record{Value: 0})

	const workers, perWorker = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for {
					snap, err := storage.Get(ctx, s, "c/counter")
					if err != nil {
						t.Errorf("get: %v", err)
						return
					}
					var r record
					if err := snap.Decode(&r); err != nil {
						t.Errorf("decode: %v", err)
						return
					}
					r.Value++
					err = s.Commit(ctx,
						[]storage.Precondition{{Path: snap.Path, Version: snap.Version}},
						[]storage.Write{storage.Put(snap.Path, r)})
					if err == nil {
						break
					}
					if !errors.Is(err, storage.ErrConflict) {
						t.Errorf("commit: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	var r record
	_ = mustGet(t, s, "c/counter").Decode(&r)
	if r.Value != workers*perWorker {
		t.Fatalf("counter = %d, want %d", r.Value, workers*perWorker)
	}
}

func testWatch(t *testing.T, s storage.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mustSet(t, s, "g/deposits/d1", record{Value: 10})

	ch := storage.Watch(ctx, s, "g/deposits", 10*time.Millisecond)
	first := <-ch
	if len(first) != 1 {
		t.Fatalf("first emission should hold one document, got %d", len(first))
	}
	mustSet(t, s, "g/deposits/d2", record{Value: 5})
	select {
	case next := <-ch:
		if len(next) != 2 {
			t.Fatalf("expected 2 documents after change, got %d", len(next))
		}
	case <-ctx.Done():
		t.Fatal("no emission after change")
	}
	cancel()
	for range ch {
	}
}

func mustSet(t *testing.T, s storage.Store, path string, v any) {
	t.Helper()
	if err := storage.SetDoc(context.Background(), s, path, v); err != nil {
		t.Fatalf("set %s: %v", path, err)
	}
}

func mustGet(t *testing.T, s storage.Store, path string) storage.Snapshot {
	t.Helper()
	snap, err := storage.Get(context.Background(), s, path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	return snap
}
