package gormstore

import (
	"context"
	"fmt"

	"library/domain/shared"
	"library/infrastructure/persistence"
	"library/infrastructure/persistence/retry"

	"gorm.io/gorm"
)

// UnitOfWork implements the Unit of Work pattern with GORM
// It manages database transactions and writes the events of registered aggregates
// to the outbox table inside the same transaction.
type UnitOfWork struct {
	db               *gorm.DB
	aggregates       []shared.AggregateRoot
	committed        []shared.AggregateRoot
	outboxRepository *OutboxRepository
	retryConfig      retry.Config
	outboxEnabled    bool
}

// NewUnitOfWork creates a new UnitOfWork instance
func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{
		db:               db,
		outboxRepository: NewOutboxRepository(db),
		retryConfig:      retry.DefaultConfig,
		outboxEnabled:    true,
	}
}

// SetRetryConfig updates the retry configuration for this UnitOfWork
func (u *UnitOfWork) SetRetryConfig(config retry.Config) {
	u.retryConfig = config
}

// Execute runs the business logic inside a database transaction:
// 1. Begins a transaction and injects it into context for repositories
// 2. Executes the business function (which saves aggregates and registers them)
// 3. Writes the uncommitted events of registered aggregates to the outbox
// 4. Commits, then bumps the version of every registered aggregate
//
// Transient database errors are retried; domain errors, including version
// conflicts, are returned as is.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	u.committed = nil

	executeOnce := func(ctx context.Context) error {
		// Reset aggregates for this attempt
		u.aggregates = u.aggregates[:0]

		tx := u.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("failed to begin transaction: %w", tx.Error)
		}
		txCtx := persistence.ContextWithTx(ctx, tx)

		if err := fn(txCtx); err != nil {
			tx.Rollback()
			return err
		}

		if u.outboxEnabled {
			for _, agg := range u.aggregates {
				events := agg.UncommittedEvents()
				if len(events) == 0 {
					continue
				}
				// the row carries the version the commit below produces
				stamped := make([]shared.DomainEvent, len(events))
				for i, e := range events {
					stamped[i] = persistence.StampEvent(ctx, e, agg.Version()+1)
				}
				if err := u.outboxRepository.SaveEvents(txCtx, agg.AggregateType(), stamped); err != nil {
					tx.Rollback()
					return fmt.Errorf("failed to save events to outbox: %w", err)
				}
			}
		}

		if err := tx.Commit().Error; err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}

	if err := retry.ExecuteWithRetry(ctx, u.retryConfig, executeOnce); err != nil {
		return err
	}

	// version only moves after a durable write
	for _, agg := range u.aggregates {
		agg.MarkPersisted()
	}
	u.committed = append([]shared.AggregateRoot(nil), u.aggregates...)
	return nil
}

// RegisterNew registers a newly created aggregate root that was saved in fn
func (u *UnitOfWork) RegisterNew(aggregate shared.AggregateRoot) {
	u.register(aggregate)
}

// RegisterDirty registers a modified aggregate root that was saved in fn
func (u *UnitOfWork) RegisterDirty(aggregate shared.AggregateRoot) {
	u.register(aggregate)
}

// RegisterRemoved registers a deleted aggregate root
func (u *UnitOfWork) RegisterRemoved(aggregate shared.AggregateRoot) {
	u.register(aggregate)
}

func (u *UnitOfWork) register(aggregate shared.AggregateRoot) {
	for _, a := range u.aggregates {
		if a == aggregate {
			return
		}
	}
	u.aggregates = append(u.aggregates, aggregate)
}

// Committed returns the aggregates of the last successful Execute.
func (u *UnitOfWork) Committed() []shared.AggregateRoot {
	return u.committed
}

// Compile-time check that UnitOfWork implements shared.UnitOfWork
var _ shared.UnitOfWork = (*UnitOfWork)(nil)
