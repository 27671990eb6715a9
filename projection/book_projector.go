package projection

import (
	"context"
	"errors"

	"library/domain/book"
	"library/domain/shared"
	"library/infrastructure/readstore"
)

// BookProjector maintains the books collection.
type BookProjector struct {
	books   readstore.Books
	authors readstore.Authors
}

func NewBookProjector(books readstore.Books, authors readstore.Authors) *BookProjector {
	return &BookProjector{books: books, authors: authors}
}

// Register binds every book event to its handler.
func (p *BookProjector) Register(d *Dispatcher) error {
	for name, h := range map[string]Handler{
		book.EventCreated:        p.onCreated,
		book.EventDetailsUpdated: p.onDetailsUpdated,
		book.EventStatusChanged:  p.onStatusChanged,
		book.EventFinished:       p.onFinished,
		book.EventQuoteAdded:     p.onQuoteAdded,
		book.EventQuoteUpdated:   p.onQuoteUpdated,
		book.EventQuoteRemoved:   p.onQuoteRemoved,
		book.EventNoteAdded:      p.onNoteAdded,
		book.EventNoteRemoved:    p.onNoteRemoved,
		book.EventDeleted:        p.onDeleted,
	} {
		if err := d.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// authorName resolves the denormalized author name. A missing author document
// leaves the name empty; the author's own events backfill it.
func (p *BookProjector) authorName(ctx context.Context, authorID string) (string, error) {
	a, err := p.authors.GetAuthor(ctx, authorID)
	if err != nil {
		if errors.Is(err, readstore.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return a.Name, nil
}

func (p *BookProjector) onCreated(ctx context.Context, evt shared.DomainEvent) error {
	var e book.Created
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "authorId", e.AuthorID); err != nil {
		return err
	}
	name, err := p.authorName(ctx, e.AuthorID)
	if err != nil {
		return err
	}
	status := e.Status
	if status == "" {
		status = book.StatusToRead
	}
	return p.books.InsertBook(ctx, readstore.BookDocument{
		ID:         evt.GetAggregateID(),
		AuthorID:   e.AuthorID,
		AuthorName: name,
		Title:      e.Title,
		ISBN:       e.ISBN,
		PageCount:  e.PageCount,
		Status:     string(status),
		Version:    versionOf(evt),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.CreatedAt,
	})
}

func (p *BookProjector) onDetailsUpdated(ctx context.Context, evt shared.DomainEvent) error {
	var e book.DetailsUpdated
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	change := readstore.BookChange{
		Title:     e.Title,
		AuthorID:  e.AuthorID,
		ISBN:      e.ISBN,
		PageCount: e.PageCount,
	}
	if e.AuthorID != nil {
		name, err := p.authorName(ctx, *e.AuthorID)
		if err != nil {
			return err
		}
		change.AuthorName = &name
	}
	return p.books.UpdateBook(ctx, evt.GetAggregateID(), stampOf(evt), change)
}

func (p *BookProjector) onStatusChanged(ctx context.Context, evt shared.DomainEvent) error {
	var e book.StatusChanged
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if !e.To.IsValid() {
		return shared.NewProjectionApplyError(evt.EventName(), "unknown status "+string(e.To))
	}
	status := string(e.To)
	return p.books.UpdateBook(ctx, evt.GetAggregateID(), stampOf(evt), readstore.BookChange{Status: &status})
}

func (p *BookProjector) onFinished(ctx context.Context, evt shared.DomainEvent) error {
	var e book.Finished
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	status := string(book.StatusFinished)
	return p.books.UpdateBook(ctx, evt.GetAggregateID(), stampOf(evt), readstore.BookChange{
		Status:   &status,
		YearRead: &e.YearRead,
		Rating:   &e.Rating,
	})
}

func (p *BookProjector) onQuoteAdded(ctx context.Context, evt shared.DomainEvent) error {
	var e book.QuoteAdded
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "quoteId", e.QuoteID); err != nil {
		return err
	}
	return p.books.PushQuote(ctx, evt.GetAggregateID(), stampOf(evt), readstore.QuoteDocument{
		ID:        e.QuoteID,
		Text:      e.Text,
		Page:      e.Page,
		CreatedAt: e.CreatedAt,
	})
}

func (p *BookProjector) onQuoteUpdated(ctx context.Context, evt shared.DomainEvent) error {
	var e book.QuoteUpdated
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "quoteId", e.QuoteID); err != nil {
		return err
	}
	return p.books.UpdateQuote(ctx, evt.GetAggregateID(), e.QuoteID, stampOf(evt), readstore.QuoteChange{Text: e.Text, Page: e.Page})
}

func (p *BookProjector) onQuoteRemoved(ctx context.Context, evt shared.DomainEvent) error {
	var e book.QuoteRemoved
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "quoteId", e.QuoteID); err != nil {
		return err
	}
	return p.books.PullQuote(ctx, evt.GetAggregateID(), e.QuoteID, stampOf(evt))
}

func (p *BookProjector) onNoteAdded(ctx context.Context, evt shared.DomainEvent) error {
	var e book.NoteAdded
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "noteId", e.NoteID); err != nil {
		return err
	}
	return p.books.PushNote(ctx, evt.GetAggregateID(), stampOf(evt), readstore.NoteDocument{
		ID:        e.NoteID,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
	})
}

func (p *BookProjector) onNoteRemoved(ctx context.Context, evt shared.DomainEvent) error {
	var e book.NoteRemoved
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "noteId", e.NoteID); err != nil {
		return err
	}
	return p.books.PullNote(ctx, evt.GetAggregateID(), e.NoteID, stampOf(evt))
}

func (p *BookProjector) onDeleted(ctx context.Context, evt shared.DomainEvent) error {
	return p.books.DeleteBook(ctx, evt.GetAggregateID(), stampOf(evt))
}
