package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"budgetplanner/internal/storage"
	"budgetplanner/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}

func TestReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := storage.SetDoc(ctx, s, "users/u1/bank_accounts/a1", map[string]string{"bankName": "ING"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	before, _ := storage.Get(ctx, s, "users/u1/bank_accounts/a1")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Migrations are a no-op the second time.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	after, err := storage.Get(ctx, s, "users/u1/bank_accounts/a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !after.Exists() || after.Version != before.Version {
		t.Fatalf("document not persisted: %+v", after)
	}
	if err := storage.SetDoc(ctx, s, "users/u1/bank_accounts/a2", map[string]string{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	next, _ := storage.Get(ctx, s, "users/u1/bank_accounts/a2")
	if next.Version <= before.Version {
		t.Fatalf("sequence restarted: %d <= %d", next.Version, before.Version)
	}
}
