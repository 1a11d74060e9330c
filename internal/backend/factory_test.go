package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"budgetplanner/internal/auth"
	"budgetplanner/internal/config"
	"budgetplanner/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "bolt", BoltDBPath: "x.bolt", TxMaxAttempts: 7})
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if cfg.Type != BoltBackend || cfg.BoltDBPath != "x.bolt" || cfg.TxMaxAttempts != 7 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"bolt without path", Config{Type: BoltBackend}, true},
		{"unknown", Config{Type: "sheets"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	dir := t.TempDir()
	configs := []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "ledger.db")},
		{Type: BoltBackend, BoltDBPath: filepath.Join(dir, "ledger.bolt"), TxMaxAttempts: 3},
	}
	for _, cfg := range configs {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			ctx := context.Background()
			res, err := NewFactory(nil).CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateBackend() error = %v", err)
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					t.Errorf("cleanup: %v", err)
				}
			}()
			if res.AMQP != nil {
				t.Fatal("no broker configured")
			}

			sess := auth.Session{UserID: "u1"}
			acc, err := res.Ledger.Accounts.Create(ctx, sess, core.NewAccount{
				BankName: "Bank", Nickname: "main", Balance: decimal.NewFromInt(10),
			})
			if err != nil {
				t.Fatalf("create account: %v", err)
			}
			got, err := res.Ledger.Accounts.Get(ctx, sess, acc.ID)
			if err != nil || !got.Balance.Equal(decimal.NewFromInt(10)) {
				t.Fatalf("get account: %+v %v", got, err)
			}
		})
	}
}
