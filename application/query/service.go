// Package query 读侧查询
//
// Queries only touch the read store, so results lag the write model by the
// projection delay.
package query

import (
	"context"
	"errors"
	"strings"

	"library/domain/shared"
	"library/infrastructure/readstore"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ListBooks query parameters
type ListBooks struct {
	Status   string `form:"status"`
	AuthorID string `form:"authorId"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// ListAuthors query parameters
type ListAuthors struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type Service struct {
	books   readstore.Books
	authors readstore.Authors
}

func NewService(books readstore.Books, authors readstore.Authors) *Service {
	return &Service{books: books, authors: authors}
}

func (s *Service) GetBook(ctx context.Context, id string) (*readstore.BookDocument, error) {
	doc, err := s.books.GetBook(ctx, id)
	if errors.Is(err, readstore.ErrNotFound) {
		return nil, shared.NewNotFoundError("book", id)
	}
	return doc, err
}

func (s *Service) ListBooks(ctx context.Context, q ListBooks) ([]readstore.BookDocument, error) {
	limit, err := normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return s.books.ListBooks(ctx, readstore.BookFilter{
		Status:   strings.ToUpper(strings.TrimSpace(q.Status)),
		AuthorID: strings.TrimSpace(q.AuthorID),
		Limit:    limit,
		Offset:   q.Offset,
	})
}

func (s *Service) GetAuthor(ctx context.Context, id string) (*readstore.AuthorDocument, error) {
	doc, err := s.authors.GetAuthor(ctx, id)
	if errors.Is(err, readstore.ErrNotFound) {
		return nil, shared.NewNotFoundError("author", id)
	}
	return doc, err
}

func (s *Service) ListAuthors(ctx context.Context, q ListAuthors) ([]readstore.AuthorDocument, error) {
	limit, err := normalizePage(q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return s.authors.ListAuthors(ctx, limit, q.Offset)
}

func normalizePage(limit, offset int) (int, error) {
	if limit < 0 || offset < 0 {
		return 0, shared.NewValidationError("query", "limit", "limit and offset must not be negative")
	}
	if limit == 0 {
		return defaultLimit, nil
	}
	if limit > maxLimit {
		return maxLimit, nil
	}
	return limit, nil
}
