package book

import "context"

// Repository Book repository interface (write side)
type Repository interface {
	// FindByID returns ErrBookNotFound when no row exists.
	FindByID(ctx context.Context, id string) (*Book, error)

	// Save inserts at version 1 when b.Version() == 0, otherwise updates
	// WHERE version = b.Version(). A lost race returns ErrBookConflict.
	// The in-memory version is bumped by the unit of work after commit.
	Save(ctx context.Context, b *Book) error

	// Delete removes the row and its children under the same version check.
	Delete(ctx context.Context, b *Book) error

	// CountByAuthor is used to guard author deletion.
	CountByAuthor(ctx context.Context, authorID string) (int64, error)
}
