package gormstore

import (
	"fmt"

	"library/infrastructure/persistence/gormstore/po"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the write-model schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&po.AuthorPO{},
		&po.BookPO{},
		&po.QuotePO{},
		&po.NotePO{},
		&po.OutboxEventPO{},
	); err != nil {
		return fmt.Errorf("failed to migrate write store: %w", err)
	}
	return nil
}
