// Package author Application Layer - author command handlers
package author

import (
	"context"
	"errors"

	"library/application/command"
	"library/application/pipeline"
	"library/domain/author"
	"library/domain/book"
	"library/domain/shared"
)

type CreateAuthor struct {
	Name string `json:"name" binding:"required"`
}

type RenameAuthor struct {
	AuthorID        string `json:"-"`
	ExpectedVersion *int   `json:"-"`
	Name            string `json:"name" binding:"required"`
}

type DeleteAuthor struct {
	AuthorID        string
	ExpectedVersion *int
}

func (CreateAuthor) CommandName() string { return "author.create" }
func (RenameAuthor) CommandName() string { return "author.rename" }
func (DeleteAuthor) CommandName() string { return "author.delete" }

// Service author command handlers
type Service struct {
	authors   author.Repository
	books     book.Repository
	committer *pipeline.Committer
}

func NewService(authors author.Repository, books book.Repository, committer *pipeline.Committer) *Service {
	return &Service{authors: authors, books: books, committer: committer}
}

func (s *Service) Register(bus *command.Bus) error {
	if err := command.Register(bus, s.Create); err != nil {
		return err
	}
	if err := command.Register(bus, s.Rename); err != nil {
		return err
	}
	return command.Register(bus, s.Delete)
}

func (s *Service) Create(ctx context.Context, cmd CreateAuthor) (command.Result, error) {
	a, err := author.NewAuthor(cmd.Name)
	if err != nil {
		return command.Result{}, err
	}
	err = s.committer.Run(ctx, func(ctx context.Context, uow shared.UnitOfWork) error {
		if err := s.authors.Save(ctx, a); err != nil {
			return err
		}
		uow.RegisterNew(a)
		return nil
	})
	if a.Version() == 0 {
		return command.Result{}, err
	}
	return command.Result{ID: a.ID(), Version: a.Version()}, err
}

// Rename is a no-op, with no write, when the name does not change.
func (s *Service) Rename(ctx context.Context, cmd RenameAuthor) (command.Result, error) {
	var renamed *author.Author
	err := s.committer.Run(ctx, func(ctx context.Context, uow shared.UnitOfWork) error {
		a, err := s.load(ctx, cmd.AuthorID, cmd.ExpectedVersion)
		if err != nil {
			return err
		}
		if err := a.Rename(cmd.Name); err != nil {
			return err
		}
		renamed = a
		if len(a.UncommittedEvents()) == 0 {
			return nil
		}
		if err := s.authors.Save(ctx, a); err != nil {
			return err
		}
		uow.RegisterDirty(a)
		return nil
	})
	return result(renamed, err)
}

// Delete fails with a business rule violation while the author still has books.
// The count is read in the same transaction as the delete.
func (s *Service) Delete(ctx context.Context, cmd DeleteAuthor) (command.Result, error) {
	var deleted *author.Author
	err := s.committer.Run(ctx, func(ctx context.Context, uow shared.UnitOfWork) error {
		a, err := s.load(ctx, cmd.AuthorID, cmd.ExpectedVersion)
		if err != nil {
			return err
		}
		count, err := s.books.CountByAuthor(ctx, a.ID())
		if err != nil {
			return err
		}
		if err := a.Delete(count); err != nil {
			return err
		}
		if err := s.authors.Delete(ctx, a); err != nil {
			return err
		}
		uow.RegisterRemoved(a)
		deleted = a
		return nil
	})
	return result(deleted, err)
}

func (s *Service) load(ctx context.Context, id string, expected *int) (*author.Author, error) {
	a, err := s.authors.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != nil && *expected != a.Version() {
		return nil, author.NewConcurrencyConflictError(id, *expected)
	}
	return a, nil
}

func result(a *author.Author, err error) (command.Result, error) {
	if a == nil || (err != nil && !errors.Is(err, shared.ErrPublish)) {
		return command.Result{}, err
	}
	return command.Result{ID: a.ID(), Version: a.Version()}, err
}
