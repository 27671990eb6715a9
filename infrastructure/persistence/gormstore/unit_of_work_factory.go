package gormstore

import (
	"library/domain/shared"
	"library/infrastructure/persistence/retry"

	"gorm.io/gorm"
)

type UnitOfWorkFactory struct {
	db            *gorm.DB
	retryConfig   retry.Config
	outboxEnabled bool
}

func NewUnitOfWorkFactory(db *gorm.DB, retryConfig retry.Config, outboxEnabled bool) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{
		db:            db,
		retryConfig:   retryConfig,
		outboxEnabled: outboxEnabled,
	}
}

func (f *UnitOfWorkFactory) New() shared.UnitOfWork {
	uow := NewUnitOfWork(f.db)
	uow.SetRetryConfig(f.retryConfig)
	uow.outboxEnabled = f.outboxEnabled
	return uow
}

var _ shared.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)
