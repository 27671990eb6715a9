package book

import "time"

const (
	EventCreated        = "library.book.created"
	EventDetailsUpdated = "library.book.details_updated"
	EventStatusChanged  = "library.book.status_changed"
	EventFinished       = "library.book.finished"
	EventQuoteAdded     = "library.book.quote_added"
	EventQuoteUpdated   = "library.book.quote_updated"
	EventQuoteRemoved   = "library.book.quote_removed"
	EventNoteAdded      = "library.book.note_added"
	EventNoteRemoved    = "library.book.note_removed"
	EventDeleted        = "library.book.deleted"
)

type Created struct {
	BookID    string    `json:"bookId"`
	AuthorID  string    `json:"authorId"`
	Title     string    `json:"title"`
	ISBN      string    `json:"isbn,omitempty"`
	PageCount int       `json:"pageCount"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// DetailsUpdated carries only the fields that changed.
type DetailsUpdated struct {
	BookID    string  `json:"bookId"`
	Title     *string `json:"title,omitempty"`
	AuthorID  *string `json:"authorId,omitempty"`
	ISBN      *string `json:"isbn,omitempty"`
	PageCount *int    `json:"pageCount,omitempty"`
}

type StatusChanged struct {
	BookID string `json:"bookId"`
	From   Status `json:"from"`
	To     Status `json:"to"`
}

type Finished struct {
	BookID   string `json:"bookId"`
	From     Status `json:"from"`
	YearRead int    `json:"yearRead"`
	Rating   int    `json:"rating"`
}

type QuoteAdded struct {
	BookID    string    `json:"bookId"`
	QuoteID   string    `json:"quoteId"`
	Text      string    `json:"text"`
	Page      *int      `json:"page,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type QuoteUpdated struct {
	BookID  string  `json:"bookId"`
	QuoteID string  `json:"quoteId"`
	Text    *string `json:"text,omitempty"`
	Page    *int    `json:"page,omitempty"`
}

type QuoteRemoved struct {
	BookID  string `json:"bookId"`
	QuoteID string `json:"quoteId"`
}

type NoteAdded struct {
	BookID    string    `json:"bookId"`
	NoteID    string    `json:"noteId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type NoteRemoved struct {
	BookID string `json:"bookId"`
	NoteID string `json:"noteId"`
}

type Deleted struct {
	BookID   string `json:"bookId"`
	AuthorID string `json:"authorId"`
}

func (Created) EventName() string        { return EventCreated }
func (DetailsUpdated) EventName() string { return EventDetailsUpdated }
func (StatusChanged) EventName() string  { return EventStatusChanged }
func (Finished) EventName() string       { return EventFinished }
func (QuoteAdded) EventName() string     { return EventQuoteAdded }
func (QuoteUpdated) EventName() string   { return EventQuoteUpdated }
func (QuoteRemoved) EventName() string   { return EventQuoteRemoved }
func (NoteAdded) EventName() string      { return EventNoteAdded }
func (NoteRemoved) EventName() string    { return EventNoteRemoved }
func (Deleted) EventName() string        { return EventDeleted }
