/*
Package book Application Layer - book command handlers

Every handler follows the same shape:
 1. load the aggregate inside the unit of work
 2. check ExpectedVersion, then call the business method
 3. save and register the aggregate only if the method recorded events
 4. the committer publishes after commit

A handler that changes nothing (no events) writes nothing and keeps the version.
*/
package book

import (
	"context"
	"errors"
	"strings"

	"library/application/command"
	"library/application/pipeline"
	"library/domain/author"
	"library/domain/book"
	"library/domain/shared"
)

// Service book command handlers
type Service struct {
	books     book.Repository
	authors   author.Repository
	committer *pipeline.Committer
}

func NewService(books book.Repository, authors author.Repository, committer *pipeline.Committer) *Service {
	return &Service{books: books, authors: authors, committer: committer}
}

// Register binds every book command to the bus.
func (s *Service) Register(bus *command.Bus) error {
	for _, register := range []func() error{
		func() error { return command.Register(bus, s.Create) },
		func() error { return command.Register(bus, s.UpdateDetails) },
		func() error { return command.Register(bus, s.ChangeStatus) },
		func() error { return command.Register(bus, s.MarkFinished) },
		func() error { return command.Register(bus, s.AddQuote) },
		func() error { return command.Register(bus, s.UpdateQuote) },
		func() error { return command.Register(bus, s.RemoveQuote) },
		func() error { return command.Register(bus, s.AddNote) },
		func() error { return command.Register(bus, s.RemoveNote) },
		func() error { return command.Register(bus, s.Delete) },
	} {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateBook) (command.Result, error) {
	b, err := book.NewBook(book.NewBookParams{
		AuthorID:  cmd.AuthorID,
		Title:     cmd.Title,
		ISBN:      cmd.ISBN,
		PageCount: cmd.PageCount,
		Status:    book.Status(strings.ToUpper(strings.TrimSpace(cmd.Status))),
	})
	if err != nil {
		return command.Result{}, err
	}

	err = s.committer.Run(ctx, func(ctx context.Context, uow shared.UnitOfWork) error {
		if err := s.requireAuthor(ctx, b.AuthorID()); err != nil {
			return err
		}
		if err := s.books.Save(ctx, b); err != nil {
			return err
		}
		uow.RegisterNew(b)
		return nil
	})
	if err != nil && b.Version() == 0 {
		return command.Result{}, err
	}
	return command.Result{ID: b.ID(), Version: b.Version()}, err
}

func (s *Service) UpdateDetails(ctx context.Context, cmd UpdateDetails) (command.Result, error) {
	return s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		if cmd.AuthorID != nil && *cmd.AuthorID != b.AuthorID() {
			if err := s.requireAuthor(ctx, *cmd.AuthorID); err != nil {
				return err
			}
		}
		return b.UpdateDetails(book.DetailsPatch{
			Title:     cmd.Title,
			AuthorID:  cmd.AuthorID,
			ISBN:      cmd.ISBN,
			PageCount: cmd.PageCount,
		})
	})
}

func (s *Service) ChangeStatus(ctx context.Context, cmd ChangeStatus) (command.Result, error) {
	return s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		return b.ChangeStatus(book.Status(strings.ToUpper(strings.TrimSpace(cmd.Status))))
	})
}

func (s *Service) MarkFinished(ctx context.Context, cmd MarkFinished) (command.Result, error) {
	return s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		return b.MarkAsFinished(cmd.YearRead, cmd.Rating)
	})
}

func (s *Service) AddQuote(ctx context.Context, cmd AddQuote) (command.Result, error) {
	var quoteID string
	res, err := s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		id, err := b.AddQuote(cmd.Text, cmd.Page)
		quoteID = id
		return err
	})
	if quoteID != "" && res.ID != "" {
		res.ChildID = quoteID
	}
	return res, err
}

func (s *Service) UpdateQuote(ctx context.Context, cmd UpdateQuote) (command.Result, error) {
	return s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		return b.UpdateQuote(cmd.QuoteID, book.QuotePatch{Text: cmd.Text, Page: cmd.Page})
	})
}

func (s *Service) RemoveQuote(ctx context.Context, cmd RemoveQuote) (command.Result, error) {
	return s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		return b.RemoveQuote(cmd.QuoteID)
	})
}

func (s *Service) AddNote(ctx context.Context, cmd AddNote) (command.Result, error) {
	var noteID string
	res, err := s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		id, err := b.AddNote(cmd.Content)
		noteID = id
		return err
	})
	if noteID != "" && res.ID != "" {
		res.ChildID = noteID
	}
	return res, err
}

func (s *Service) RemoveNote(ctx context.Context, cmd RemoveNote) (command.Result, error) {
	return s.mutate(ctx, cmd.BookID, cmd.ExpectedVersion, func(ctx context.Context, b *book.Book) error {
		return b.RemoveNote(cmd.NoteID)
	})
}

func (s *Service) Delete(ctx context.Context, cmd DeleteBook) (command.Result, error) {
	var deleted *book.Book
	err := s.committer.Run(ctx, func(ctx context.Context, uow shared.UnitOfWork) error {
		b, err := s.load(ctx, cmd.BookID, cmd.ExpectedVersion)
		if err != nil {
			return err
		}
		if err := b.Delete(); err != nil {
			return err
		}
		if err := s.books.Delete(ctx, b); err != nil {
			return err
		}
		uow.RegisterRemoved(b)
		deleted = b
		return nil
	})
	if deleted == nil || (err != nil && !errors.Is(err, shared.ErrPublish)) {
		return command.Result{}, err
	}
	return command.Result{ID: deleted.ID(), Version: deleted.Version()}, err
}

// mutate loads the book, applies change and saves it when change recorded events.
// The result is filled whenever the write committed, including on publish failure.
func (s *Service) mutate(ctx context.Context, id string, expected *int, change func(ctx context.Context, b *book.Book) error) (command.Result, error) {
	var loaded *book.Book
	err := s.committer.Run(ctx, func(ctx context.Context, uow shared.UnitOfWork) error {
		b, err := s.load(ctx, id, expected)
		if err != nil {
			return err
		}
		if err := change(ctx, b); err != nil {
			return err
		}
		loaded = b
		if len(b.UncommittedEvents()) == 0 {
			return nil
		}
		if err := s.books.Save(ctx, b); err != nil {
			return err
		}
		uow.RegisterDirty(b)
		return nil
	})
	if loaded == nil || (err != nil && !errors.Is(err, shared.ErrPublish)) {
		return command.Result{}, err
	}
	return command.Result{ID: loaded.ID(), Version: loaded.Version()}, err
}

func (s *Service) load(ctx context.Context, id string, expected *int) (*book.Book, error) {
	b, err := s.books.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != nil && *expected != b.Version() {
		return nil, book.NewConcurrencyConflictError(id, *expected)
	}
	return b, nil
}

func (s *Service) requireAuthor(ctx context.Context, authorID string) error {
	if _, err := s.authors.FindByID(ctx, authorID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewValidationError("book", "authorId", "author "+authorID+" does not exist")
		}
		return err
	}
	return nil
}
