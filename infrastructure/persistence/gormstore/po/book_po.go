package po

import (
	"time"

	"library/domain/book"
)

// BookPO Book persistence object
// Note: Only used for database mapping, does not contain any business logic
// Associations are declared only to get the cascade foreign keys; they are
// never preloaded or saved
type BookPO struct {
	ID        string    `gorm:"primaryKey;size:64"`
	AuthorID  string    `gorm:"size:64;index;not null"` // Only store ID, no association with Author
	Title     string    `gorm:"size:500;not null"`
	ISBN      string    `gorm:"column:isbn;size:32"`
	PageCount int       `gorm:"not null;default:0"`
	Status    string    `gorm:"size:20;not null"`
	YearRead  *int
	Rating    *int
	Version   int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (BookPO) TableName() string {
	return "books"
}

// QuotePO book_quotes row, deleted together with the book
type QuotePO struct {
	ID        string    `gorm:"primaryKey;size:64"`
	BookID    string    `gorm:"size:64;index;not null"`
	Text      string    `gorm:"type:text;not null"`
	Page      *int
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Book *BookPO `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

func (QuotePO) TableName() string {
	return "book_quotes"
}

// NotePO book_notes row, deleted together with the book
type NotePO struct {
	ID        string    `gorm:"primaryKey;size:64"`
	BookID    string    `gorm:"size:64;index;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`

	Book *BookPO `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

func (NotePO) TableName() string {
	return "book_notes"
}

// FromBookDomain Convert domain model to persistence objects
func FromBookDomain(b *book.Book) (*BookPO, []QuotePO, []NotePO) {
	bookPO := &BookPO{
		ID:        b.ID(),
		AuthorID:  b.AuthorID(),
		Title:     b.Title(),
		ISBN:      b.ISBN(),
		PageCount: b.PageCount(),
		Status:    string(b.Status()),
		YearRead:  b.YearRead(),
		Rating:    b.Rating(),
		Version:   b.Version(),
		CreatedAt: b.CreatedAt(),
		UpdatedAt: b.UpdatedAt(),
	}

	quotes := b.Quotes()
	quotePOs := make([]QuotePO, len(quotes))
	for i, q := range quotes {
		quotePOs[i] = QuotePO{
			ID:        q.ID(),
			BookID:    b.ID(),
			Text:      q.Text(),
			Page:      q.Page(),
			CreatedAt: q.CreatedAt(),
			UpdatedAt: q.UpdatedAt(),
		}
	}

	notes := b.Notes()
	notePOs := make([]NotePO, len(notes))
	for i, n := range notes {
		notePOs[i] = NotePO{ID: n.ID(), BookID: b.ID(), Content: n.Content(), CreatedAt: n.CreatedAt()}
	}

	return bookPO, quotePOs, notePOs
}

// ToDomain Convert persistence objects to domain model (no validation, trusted data)
func (po *BookPO) ToDomain(quotePOs []QuotePO, notePOs []NotePO) *book.Book {
	quotes := make([]book.QuoteDTO, len(quotePOs))
	for i, q := range quotePOs {
		quotes[i] = book.QuoteDTO{
			ID:        q.ID,
			Text:      q.Text,
			Page:      q.Page,
			CreatedAt: q.CreatedAt,
			UpdatedAt: q.UpdatedAt,
		}
	}
	notes := make([]book.NoteDTO, len(notePOs))
	for i, n := range notePOs {
		notes[i] = book.NoteDTO{ID: n.ID, Content: n.Content, CreatedAt: n.CreatedAt}
	}

	return book.RebuildFromDTO(book.ReconstructionDTO{
		ID:        po.ID,
		AuthorID:  po.AuthorID,
		Title:     po.Title,
		ISBN:      po.ISBN,
		PageCount: po.PageCount,
		Status:    book.Status(po.Status),
		YearRead:  po.YearRead,
		Rating:    po.Rating,
		Quotes:    quotes,
		Notes:     notes,
		Version:   po.Version,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	})
}
