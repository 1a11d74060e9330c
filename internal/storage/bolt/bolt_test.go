package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"budgetplanner/internal/storage"
	"budgetplanner/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(filepath.Join(t.TempDir(), "ledger.bolt"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}

func TestReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := storage.SetDoc(ctx, s, "users/u1/saving_goals/g1", map[string]string{"name": "Car"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	snap, err := storage.Get(ctx, s, "users/u1/saving_goals/g1")
	if err != nil || !snap.Exists() {
		t.Fatalf("document not persisted: %+v %v", snap, err)
	}
}

func TestListSkipsNestedCollections(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ledger.bolt"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	paths := []string{
		"u/budget/2026-03",
		"u/budget/2026-03/items/i1",
		"u/budget/2026-03/items/i2",
		"u/budget/2026-03-x",
		"u/budget/2026-04/items/i3",
		"u/budget/2026-05",
		"u/budget/2026-05/items/i4",
		"u/budgets/other",
	}
	for _, p := range paths {
		if err := storage.SetDoc(ctx, s, p, map[string]int{"v": 1}); err != nil {
			t.Fatalf("set %s: %v", p, err)
		}
	}

	snaps, err := s.List(ctx, "u/budget")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"u/budget/2026-03", "u/budget/2026-03-x", "u/budget/2026-05"}
	if len(snaps) != len(want) {
		t.Fatalf("listed %d documents, want %d: %+v", len(snaps), len(want), snaps)
	}
	for i, snap := range snaps {
		if snap.Path != want[i] {
			t.Fatalf("snaps[%d] = %s, want %s", i, snap.Path, want[i])
		}
	}
}
