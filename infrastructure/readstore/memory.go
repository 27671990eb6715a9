package readstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in maps. Reads return deep copies.
type MemoryStore struct {
	mu        sync.RWMutex
	books     map[string]*BookDocument
	authors   map[string]*AuthorDocument
	processed map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:     make(map[string]*BookDocument),
		authors:   make(map[string]*AuthorDocument),
		processed: make(map[string]string),
	}
}

func (m *MemoryStore) InsertBook(ctx context.Context, doc BookDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[doc.ID]; ok {
		return nil
	}
	c := copyBook(doc)
	m.books[doc.ID] = &c
	return nil
}

// withBook runs fn on the stored document when the event is next in line (or a
// replay) and moves the document to the event's version.
func (m *MemoryStore) withBook(id string, s Stamp, fn func(*BookDocument)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.books[id]
	if !ok {
		return missing("book", id)
	}
	if doc.Deleted {
		return nil
	}
	switch s.against(doc.Version) {
	case orderSkip:
		return nil
	case orderGap:
		return s.gap("book", id, doc.Version)
	}
	fn(doc)
	if s.Version > 0 {
		doc.Version = s.Version
	}
	doc.UpdatedAt = s.At
	return nil
}

func (m *MemoryStore) UpdateBook(ctx context.Context, id string, s Stamp, ch BookChange) error {
	return m.withBook(id, s, func(doc *BookDocument) {
		if ch.Title != nil {
			doc.Title = *ch.Title
		}
		if ch.AuthorID != nil {
			doc.AuthorID = *ch.AuthorID
		}
		if ch.AuthorName != nil {
			doc.AuthorName = *ch.AuthorName
		}
		if ch.ISBN != nil {
			doc.ISBN = *ch.ISBN
		}
		if ch.PageCount != nil {
			doc.PageCount = *ch.PageCount
		}
		if ch.Status != nil {
			doc.Status = *ch.Status
		}
		if ch.YearRead != nil {
			doc.YearRead = intPtr(*ch.YearRead)
		}
		if ch.Rating != nil {
			doc.Rating = intPtr(*ch.Rating)
		}
	})
}

func (m *MemoryStore) PushQuote(ctx context.Context, bookID string, s Stamp, q QuoteDocument) error {
	return m.withBook(bookID, s, func(doc *BookDocument) {
		for _, existing := range doc.Quotes {
			if existing.ID == q.ID {
				return
			}
		}
		q.Page = copyIntPtr(q.Page)
		doc.Quotes = append(doc.Quotes, q)
		doc.QuoteCount++
	})
}

func (m *MemoryStore) UpdateQuote(ctx context.Context, bookID, quoteID string, s Stamp, ch QuoteChange) error {
	return m.withBook(bookID, s, func(doc *BookDocument) {
		for i := range doc.Quotes {
			if doc.Quotes[i].ID != quoteID {
				continue
			}
			if ch.Text != nil {
				doc.Quotes[i].Text = *ch.Text
			}
			if ch.Page != nil {
				doc.Quotes[i].Page = intPtr(*ch.Page)
			}
			return
		}
	})
}

func (m *MemoryStore) PullQuote(ctx context.Context, bookID, quoteID string, s Stamp) error {
	return m.withBook(bookID, s, func(doc *BookDocument) {
		for i := range doc.Quotes {
			if doc.Quotes[i].ID == quoteID {
				doc.Quotes = append(doc.Quotes[:i], doc.Quotes[i+1:]...)
				doc.QuoteCount--
				return
			}
		}
	})
}

func (m *MemoryStore) PushNote(ctx context.Context, bookID string, s Stamp, n NoteDocument) error {
	return m.withBook(bookID, s, func(doc *BookDocument) {
		for _, existing := range doc.Notes {
			if existing.ID == n.ID {
				return
			}
		}
		doc.Notes = append(doc.Notes, n)
		doc.NoteCount++
	})
}

func (m *MemoryStore) PullNote(ctx context.Context, bookID, noteID string, s Stamp) error {
	return m.withBook(bookID, s, func(doc *BookDocument) {
		for i := range doc.Notes {
			if doc.Notes[i].ID == noteID {
				doc.Notes = append(doc.Notes[:i], doc.Notes[i+1:]...)
				doc.NoteCount--
				return
			}
		}
	})
}

func (m *MemoryStore) DeleteBook(ctx context.Context, id string, s Stamp) error {
	return m.withBook(id, s, func(doc *BookDocument) {
		doc.Deleted = true
	})
}

func (m *MemoryStore) RenameAuthorOnBooks(ctx context.Context, authorID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.books {
		if doc.AuthorID == authorID && !doc.Deleted {
			doc.AuthorName = name
		}
	}
	return nil
}

func (m *MemoryStore) GetBook(ctx context.Context, id string) (*BookDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.books[id]
	if !ok || doc.Deleted {
		return nil, ErrNotFound
	}
	c := copyBook(*doc)
	return &c, nil
}

func (m *MemoryStore) ListBooks(ctx context.Context, f BookFilter) ([]BookDocument, error) {
	m.mu.RLock()
	out := make([]BookDocument, 0, len(m.books))
	for _, doc := range m.books {
		if doc.Deleted {
			continue
		}
		if f.Status != "" && doc.Status != f.Status {
			continue
		}
		if f.AuthorID != "" && doc.AuthorID != f.AuthorID {
			continue
		}
		out = append(out, copyBook(*doc))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (m *MemoryStore) InsertAuthor(ctx context.Context, doc AuthorDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authors[doc.ID]; !ok {
		m.authors[doc.ID] = &doc
	}
	return nil
}

func (m *MemoryStore) withAuthor(id string, s Stamp, fn func(*AuthorDocument)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.authors[id]
	if !ok {
		return missing("author", id)
	}
	if doc.Deleted {
		return nil
	}
	switch s.against(doc.Version) {
	case orderSkip:
		return nil
	case orderGap:
		return s.gap("author", id, doc.Version)
	}
	fn(doc)
	if s.Version > 0 {
		doc.Version = s.Version
	}
	doc.UpdatedAt = s.At
	return nil
}

func (m *MemoryStore) RenameAuthor(ctx context.Context, id string, s Stamp, name string) error {
	return m.withAuthor(id, s, func(doc *AuthorDocument) { doc.Name = name })
}

func (m *MemoryStore) DeleteAuthor(ctx context.Context, id string, s Stamp) error {
	return m.withAuthor(id, s, func(doc *AuthorDocument) { doc.Deleted = true })
}

func (m *MemoryStore) GetAuthor(ctx context.Context, id string) (*AuthorDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.authors[id]
	if !ok || doc.Deleted {
		return nil, ErrNotFound
	}
	c := *doc
	return &c, nil
}

func (m *MemoryStore) ListAuthors(ctx context.Context, limit, offset int) ([]AuthorDocument, error) {
	m.mu.RLock()
	out := make([]AuthorDocument, 0, len(m.authors))
	for _, doc := range m.authors {
		if !doc.Deleted {
			out = append(out, *doc)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return page(out, limit, offset), nil
}

func (m *MemoryStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, eventID, eventName string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventName
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error  { return ctx.Err() }
func (m *MemoryStore) Close(ctx context.Context) error { return nil }

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyBook(doc BookDocument) BookDocument {
	c := doc
	c.YearRead = copyIntPtr(doc.YearRead)
	c.Rating = copyIntPtr(doc.Rating)
	c.Quotes = make([]QuoteDocument, len(doc.Quotes))
	for i, q := range doc.Quotes {
		q.Page = copyIntPtr(q.Page)
		c.Quotes[i] = q
	}
	c.Notes = append([]NoteDocument{}, doc.Notes...)
	return c
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func intPtr(v int) *int { return &v }

var _ Store = (*MemoryStore)(nil)
