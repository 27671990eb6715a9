package gormstore

import (
	"context"
	"errors"
	"fmt"

	"library/domain/book"
	"library/infrastructure/persistence"
	"library/infrastructure/persistence/gormstore/po"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookRepository GORM implementation of the book repository
// Repository is only responsible for persistence of aggregate roots, not event publishing.
// Association features are prohibited to keep aggregate boundaries explicit.
type BookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) *BookRepository {
	return &BookRepository{db: db}
}

// getDB returns the transaction from context if available, otherwise the default db
func (r *BookRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Save inserts (version 0) or updates WHERE version = b.Version().
// When called within UoW.Execute(), it uses the transaction from context.
// When called standalone, it creates its own transaction for atomicity.
func (r *BookRepository) Save(ctx context.Context, b *book.Book) error {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return r.saveWithTx(tx, b)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.saveWithTx(tx, b)
	})
}

func (r *BookRepository) saveWithTx(tx *gorm.DB, b *book.Book) error {
	bookPO, quotePOs, notePOs := po.FromBookDomain(b)

	if b.Version() == 0 {
		bookPO.Version = 1
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(bookPO)
		if result.Error != nil {
			return fmt.Errorf("failed to insert book: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// someone else inserted the same identity first
			return book.NewConcurrencyConflictError(b.ID(), 0)
		}
	} else {
		result := tx.Model(&po.BookPO{}).
			Where("id = ? AND version = ?", b.ID(), b.Version()).
			Updates(map[string]interface{}{
				"author_id":  bookPO.AuthorID,
				"title":      bookPO.Title,
				"isbn":       bookPO.ISBN,
				"page_count": bookPO.PageCount,
				"status":     bookPO.Status,
				"year_read":  bookPO.YearRead,
				"rating":     bookPO.Rating,
				"version":    b.Version() + 1,
				"updated_at": bookPO.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update book: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return book.NewConcurrencyConflictError(b.ID(), b.Version())
		}
	}

	if err := r.syncQuotes(tx, b.ID(), quotePOs); err != nil {
		return err
	}
	return r.syncNotes(tx, b.ID(), notePOs)
}

func (r *BookRepository) syncQuotes(tx *gorm.DB, bookID string, desired []po.QuotePO) error {
	var stored []po.QuotePO
	if err := tx.Where("book_id = ?", bookID).Find(&stored).Error; err != nil {
		return fmt.Errorf("failed to load quotes: %w", err)
	}

	diff := Reconcile(stored, desired,
		func(q po.QuotePO) string { return q.ID },
		func(a, b po.QuotePO) bool { return a.Text == b.Text && equalIntPtr(a.Page, b.Page) })

	if len(diff.Added) > 0 {
		if err := tx.Create(&diff.Added).Error; err != nil {
			return fmt.Errorf("failed to insert quotes: %w", err)
		}
	}
	for _, q := range diff.Changed {
		if err := tx.Model(&po.QuotePO{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
			"text":       q.Text,
			"page":       q.Page,
			"updated_at": q.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to update quote %s: %w", q.ID, err)
		}
	}
	if len(diff.Removed) > 0 {
		if err := tx.Where("id IN ?", diff.Removed).Delete(&po.QuotePO{}).Error; err != nil {
			return fmt.Errorf("failed to delete quotes: %w", err)
		}
	}
	return nil
}

// notes are immutable once written, only added or removed
func (r *BookRepository) syncNotes(tx *gorm.DB, bookID string, desired []po.NotePO) error {
	var stored []po.NotePO
	if err := tx.Where("book_id = ?", bookID).Find(&stored).Error; err != nil {
		return fmt.Errorf("failed to load notes: %w", err)
	}

	diff := Reconcile(stored, desired,
		func(n po.NotePO) string { return n.ID },
		func(a, b po.NotePO) bool { return a.Content == b.Content })

	if len(diff.Added) > 0 {
		if err := tx.Create(&diff.Added).Error; err != nil {
			return fmt.Errorf("failed to insert notes: %w", err)
		}
	}
	if len(diff.Removed) > 0 {
		if err := tx.Where("id IN ?", diff.Removed).Delete(&po.NotePO{}).Error; err != nil {
			return fmt.Errorf("failed to delete notes: %w", err)
		}
	}
	return nil
}

// FindByID rebuilds the aggregate with its children, ordered by creation
func (r *BookRepository) FindByID(ctx context.Context, id string) (*book.Book, error) {
	db := r.getDB(ctx)

	var bookPO po.BookPO
	if err := db.First(&bookPO, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, book.NewBookNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to load book: %w", err)
	}

	// Manually query children (no Preload, aggregate boundaries stay explicit)
	var quotePOs []po.QuotePO
	if err := db.Where("book_id = ?", id).Order("created_at ASC, id ASC").Find(&quotePOs).Error; err != nil {
		return nil, fmt.Errorf("failed to load quotes: %w", err)
	}
	var notePOs []po.NotePO
	if err := db.Where("book_id = ?", id).Order("created_at ASC, id ASC").Find(&notePOs).Error; err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}

	return bookPO.ToDomain(quotePOs, notePOs), nil
}

// Delete removes the book row under the version check. Quotes and notes go
// with it through the ON DELETE CASCADE foreign keys.
func (r *BookRepository) Delete(ctx context.Context, b *book.Book) error {
	del := func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND version = ?", b.ID(), b.Version()).Delete(&po.BookPO{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete book: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return book.NewConcurrencyConflictError(b.ID(), b.Version())
		}
		return nil
	}

	if tx := persistence.TxFromContext(ctx); tx != nil {
		return del(tx)
	}
	return r.db.WithContext(ctx).Transaction(del)
}

func (r *BookRepository) CountByAuthor(ctx context.Context, authorID string) (int64, error) {
	var count int64
	if err := r.getDB(ctx).Model(&po.BookPO{}).Where("author_id = ?", authorID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Compile-time interface implementation check
var _ book.Repository = (*BookRepository)(nil)
