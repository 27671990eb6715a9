// Package mocks 内存版的工作单元、发布器和 outbox，用于不需要数据库的测试
package mocks

import (
	"context"

	"library/domain/shared"
)

// UnitOfWork runs fn without a transaction. On success every registered
// aggregate is marked persisted, like the gorm unit of work does after commit.
type UnitOfWork struct {
	// CommitErr, when set, is returned instead of committing.
	CommitErr error

	registered []shared.AggregateRoot
	committed  []shared.AggregateRoot
}

func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{}
}

func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	u.registered = nil
	u.committed = nil

	if err := fn(ctx); err != nil {
		return err
	}
	if u.CommitErr != nil {
		return u.CommitErr
	}

	for _, agg := range u.registered {
		agg.MarkPersisted()
	}
	u.committed = u.registered
	return nil
}

func (u *UnitOfWork) RegisterNew(aggregate shared.AggregateRoot) {
	u.registered = append(u.registered, aggregate)
}

func (u *UnitOfWork) RegisterDirty(aggregate shared.AggregateRoot) {
	u.registered = append(u.registered, aggregate)
}

func (u *UnitOfWork) RegisterRemoved(aggregate shared.AggregateRoot) {
	u.registered = append(u.registered, aggregate)
}

func (u *UnitOfWork) Committed() []shared.AggregateRoot {
	return u.committed
}

// UnitOfWorkFactory always hands out the same unit of work so tests can inspect it.
type UnitOfWorkFactory struct {
	UoW *UnitOfWork
}

func NewUnitOfWorkFactory() *UnitOfWorkFactory {
	return &UnitOfWorkFactory{UoW: NewUnitOfWork()}
}

func (f *UnitOfWorkFactory) New() shared.UnitOfWork {
	return f.UoW
}

var (
	_ shared.UnitOfWork        = (*UnitOfWork)(nil)
	_ shared.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)
)
