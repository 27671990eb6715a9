package projection

import (
	"context"
	"errors"

	"library/domain/author"
	"library/domain/shared"
	"library/infrastructure/readstore"
)

// AuthorProjector maintains the authors collection and the author name copied
// into book documents.
type AuthorProjector struct {
	authors readstore.Authors
	books   readstore.Books
}

func NewAuthorProjector(authors readstore.Authors, books readstore.Books) *AuthorProjector {
	return &AuthorProjector{authors: authors, books: books}
}

func (p *AuthorProjector) Register(d *Dispatcher) error {
	if err := d.Register(author.EventCreated, p.onCreated); err != nil {
		return err
	}
	if err := d.Register(author.EventRenamed, p.onRenamed); err != nil {
		return err
	}
	return d.Register(author.EventDeleted, p.onDeleted)
}

func (p *AuthorProjector) onCreated(ctx context.Context, evt shared.DomainEvent) error {
	var e author.Created
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := requireID(evt, "name", e.Name); err != nil {
		return err
	}
	err := p.authors.InsertAuthor(ctx, readstore.AuthorDocument{
		ID:        evt.GetAggregateID(),
		Name:      e.Name,
		Version:   versionOf(evt),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.CreatedAt,
	})
	if err != nil {
		return err
	}
	// books projected before the author have an empty name
	return p.books.RenameAuthorOnBooks(ctx, evt.GetAggregateID(), e.Name)
}

func (p *AuthorProjector) onRenamed(ctx context.Context, evt shared.DomainEvent) error {
	var e author.Renamed
	if err := shared.DecodePayload(evt, &e); err != nil {
		return err
	}
	if err := p.authors.RenameAuthor(ctx, evt.GetAggregateID(), stampOf(evt), e.Name); err != nil {
		return err
	}
	current, err := p.authors.GetAuthor(ctx, evt.GetAggregateID())
	if errors.Is(err, readstore.ErrNotFound) {
		return nil // deleted in the meantime
	}
	if err != nil {
		return err
	}
	// copy whatever name won the version guard
	return p.books.RenameAuthorOnBooks(ctx, evt.GetAggregateID(), current.Name)
}

func (p *AuthorProjector) onDeleted(ctx context.Context, evt shared.DomainEvent) error {
	return p.authors.DeleteAuthor(ctx, evt.GetAggregateID(), stampOf(evt))
}
