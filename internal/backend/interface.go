package backend

import (
	"context"

	"budgetplanner/internal/amqp"
	"budgetplanner/internal/services"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/txn"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult is a ready ledger and everything it was built from.
type BackendResult struct {
	Store  storage.Store
	Engine *txn.Engine
	Ledger *services.Ledger
	// AMQP is nil when no broker is configured.
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	BoltDBPath   string

	TxMaxAttempts int

	AMQPURL            string
	AMQPExchange       string
	AMQPEventsQueue    string
	AMQPRecurringQueue string
}

type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	BoltBackend   BackendType = "bolt"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, BoltBackend:
		return true
	default:
		return false
	}
}
