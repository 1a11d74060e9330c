package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budgetplanner/internal/amqp"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/services"
	"budgetplanner/internal/storage"
	"budgetplanner/internal/storage/bolt"
	"budgetplanner/internal/storage/memory"
	"budgetplanner/internal/storage/sqlite"
	"budgetplanner/internal/txn"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger.With(applog.FieldComponent, applog.ComponentBackend)}
}

// CreateBackend opens the store, connects the broker when one is configured
// and assembles the ledger services on top.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(config)
	if err != nil {
		return nil, err
	}

	var opts []txn.Option
	if config.TxMaxAttempts > 0 {
		opts = append(opts, txn.WithMaxAttempts(config.TxMaxAttempts))
	}
	engine := txn.NewEngine(store, opts...)

	var client *amqp.Client
	var ledgerOpts []services.Option
	if config.AMQPURL != "" {
		client, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPEventsQueue, config.AMQPRecurringQueue)
		if err != nil {
			// Events are best effort; the ledger works without a broker.
			f.logger.WarnContext(ctx, "AMQP unavailable, ledger events disabled", "error", err)
			client = nil
		} else {
			ledgerOpts = append(ledgerOpts, services.WithEvents(client))
		}
	}

	result := &BackendResult{
		Store:  store,
		Engine: engine,
		Ledger: services.New(engine, ledgerOpts...),
		AMQP:   client,
		Cleanup: func() error {
			var errs []error
			if client != nil {
				errs = append(errs, client.Close())
			}
			errs = append(errs, store.Close())
			return errors.Join(errs...)
		},
	}

	f.logger.InfoContext(ctx, "Backend initialized",
		"backend", config.Type,
		"amqp", client != nil)
	return result, nil
}

func (f *DefaultFactory) openStore(config Config) (storage.Store, error) {
	switch config.Type {
	case MemoryBackend:
		return memory.New(), nil
	case SQLiteBackend:
		store, err := sqlite.Open(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case BoltBackend:
		store, err := bolt.Open(config.BoltDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Bolt store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
