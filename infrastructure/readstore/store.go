// Package readstore 读模型存储
//
// Documents here are written only by projection handlers. Every write is
// idempotent and ordered per aggregate: inserts are insert-if-absent, child
// pushes are guarded by the child id, and every update carries the aggregate
// version of its event. A document at version d takes the event of version d+1
// next; an event further ahead fails with ErrOutOfOrder so it is retried
// instead of dropped. Deleted documents stay behind as tombstones so a late
// redelivery cannot bring them back.
package readstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("readstore: document not found")

// ErrOutOfOrder is returned when an event reaches a document before the event
// preceding it. Nothing was written; the caller retries later.
var ErrOutOfOrder = errors.New("readstore: event ahead of document")

// BookDocument 书籍读模型
type BookDocument struct {
	ID         string          `bson:"_id" json:"id"`
	AuthorID   string          `bson:"author_id" json:"authorId"`
	AuthorName string          `bson:"author_name" json:"authorName"`
	Title      string          `bson:"title" json:"title"`
	ISBN       string          `bson:"isbn" json:"isbn,omitempty"`
	PageCount  int             `bson:"page_count" json:"pageCount"`
	Status     string          `bson:"status" json:"status"`
	YearRead   *int            `bson:"year_read" json:"yearRead"`
	Rating     *int            `bson:"rating" json:"rating"`
	Quotes     []QuoteDocument `bson:"quotes" json:"quotes"`
	QuoteCount int             `bson:"quote_count" json:"quoteCount"`
	Notes      []NoteDocument  `bson:"notes" json:"notes"`
	NoteCount  int             `bson:"note_count" json:"noteCount"`
	Version    int             `bson:"version" json:"version"`
	CreatedAt  time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `bson:"updated_at" json:"updatedAt"`
	Deleted    bool            `bson:"deleted,omitempty" json:"-"`
}

type QuoteDocument struct {
	ID        string    `bson:"id" json:"id"`
	Text      string    `bson:"text" json:"text"`
	Page      *int      `bson:"page" json:"page"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type NoteDocument struct {
	ID        string    `bson:"id" json:"id"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// AuthorDocument 作者读模型
type AuthorDocument struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Version   int       `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
	Deleted   bool      `bson:"deleted,omitempty" json:"-"`
}

// Stamp identifies the write an update comes from. Each save of an aggregate
// produces one version, so a document at version d accepts version d+1 next.
// An event at d is a replay, or a sibling recorded by the same save, and is
// applied again; anything below d is already in the document. Version 0 means
// the producer sent no aggregate version and the update is applied unordered.
type Stamp struct {
	Version int
	At      time.Time
}

type order int

const (
	orderApply order = iota
	orderSkip
	orderGap
)

func (s Stamp) against(current int) order {
	switch {
	case s.Version == 0, s.Version == current, s.Version == current+1:
		return orderApply
	case s.Version < current:
		return orderSkip
	default:
		return orderGap
	}
}

func (s Stamp) gap(kind, id string, current int) error {
	return fmt.Errorf("%w: %s %s is at version %d, event has version %d", ErrOutOfOrder, kind, id, current, s.Version)
}

// missing 文档还没投影出来 (Created 事件未到)
func missing(kind, id string) error {
	return fmt.Errorf("%w: %s %s not projected yet", ErrOutOfOrder, kind, id)
}

// BookChange is a sparse set of top-level fields; nil fields are left alone.
type BookChange struct {
	Title      *string
	AuthorID   *string
	AuthorName *string
	ISBN       *string
	PageCount  *int
	Status     *string
	YearRead   *int
	Rating     *int
}

// QuoteChange 摘录的部分更新
type QuoteChange struct {
	Text *string
	Page *int
}

// BookFilter for ListBooks. Zero values match everything.
type BookFilter struct {
	Status   string
	AuthorID string
	Limit    int
	Offset   int
}

// Books is the book collection.
type Books interface {
	InsertBook(ctx context.Context, doc BookDocument) error
	UpdateBook(ctx context.Context, id string, s Stamp, change BookChange) error
	PushQuote(ctx context.Context, bookID string, s Stamp, q QuoteDocument) error
	UpdateQuote(ctx context.Context, bookID, quoteID string, s Stamp, change QuoteChange) error
	PullQuote(ctx context.Context, bookID, quoteID string, s Stamp) error
	PushNote(ctx context.Context, bookID string, s Stamp, n NoteDocument) error
	PullNote(ctx context.Context, bookID, noteID string, s Stamp) error
	// DeleteBook leaves a tombstone; reads no longer see the document.
	DeleteBook(ctx context.Context, id string, s Stamp) error
	// RenameAuthorOnBooks backfills the denormalized author name.
	RenameAuthorOnBooks(ctx context.Context, authorID, name string) error

	GetBook(ctx context.Context, id string) (*BookDocument, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]BookDocument, error)
}

// Authors is the author collection.
type Authors interface {
	InsertAuthor(ctx context.Context, doc AuthorDocument) error
	RenameAuthor(ctx context.Context, id string, s Stamp, name string) error
	DeleteAuthor(ctx context.Context, id string, s Stamp) error

	GetAuthor(ctx context.Context, id string) (*AuthorDocument, error)
	ListAuthors(ctx context.Context, limit, offset int) ([]AuthorDocument, error)
}

// Markers records which events were applied.
type Markers interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventName string, at time.Time) error
}

// Store is everything the projector and the query side need.
type Store interface {
	Books
	Authors
	Markers
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
