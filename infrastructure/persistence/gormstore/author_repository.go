package gormstore

import (
	"context"
	"errors"
	"fmt"

	"library/domain/author"
	"library/infrastructure/persistence"
	"library/infrastructure/persistence/gormstore/po"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthorRepository GORM implementation of the author repository
type AuthorRepository struct {
	db *gorm.DB
}

func NewAuthorRepository(db *gorm.DB) *AuthorRepository {
	return &AuthorRepository{db: db}
}

func (r *AuthorRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *AuthorRepository) Save(ctx context.Context, a *author.Author) error {
	authorPO := po.FromAuthorDomain(a)
	db := r.getDB(ctx)

	if a.Version() == 0 {
		authorPO.Version = 1
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(authorPO)
		if result.Error != nil {
			return fmt.Errorf("failed to insert author: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return author.NewConcurrencyConflictError(a.ID(), 0)
		}
		return nil
	}

	result := db.Model(&po.AuthorPO{}).
		Where("id = ? AND version = ?", a.ID(), a.Version()).
		Updates(map[string]interface{}{
			"name":       authorPO.Name,
			"version":    a.Version() + 1,
			"updated_at": authorPO.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update author: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return author.NewConcurrencyConflictError(a.ID(), a.Version())
	}
	return nil
}

func (r *AuthorRepository) FindByID(ctx context.Context, id string) (*author.Author, error) {
	var authorPO po.AuthorPO
	if err := r.getDB(ctx).First(&authorPO, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, author.NewAuthorNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to load author: %w", err)
	}
	return authorPO.ToDomain(), nil
}

func (r *AuthorRepository) Delete(ctx context.Context, a *author.Author) error {
	result := r.getDB(ctx).Where("id = ? AND version = ?", a.ID(), a.Version()).Delete(&po.AuthorPO{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete author: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return author.NewConcurrencyConflictError(a.ID(), a.Version())
	}
	return nil
}

var _ author.Repository = (*AuthorRepository)(nil)
