/*
Package book Book subdomain

Book is the aggregate root for a tracked book. Quotes and notes are entities inside
the aggregate and are persisted and deleted together with it.

Every business method either fails without touching state, or mutates state and
records exactly one event per externally visible fact. Setting a field to its current
value is a no-op and records nothing.
*/
package book

import (
	"fmt"
	"strings"
	"time"

	"library/domain/shared"

	"github.com/google/uuid"
)

const (
	maxTitleLength   = 500
	maxQuoteLength   = 4000
	maxNoteLength    = 10000
	minRating        = 1
	maxRating        = 5
	earliestYearRead = 1900
)

// Book aggregate root
type Book struct {
	shared.Versioned

	id        string
	authorID  string
	title     string
	isbn      string
	pageCount int
	status    Status
	yearRead  *int
	rating    *int
	quotes    []Quote
	notes     []Note
	deleted   bool
	createdAt time.Time
	updatedAt time.Time
}

// NewBookParams Create book options
type NewBookParams struct {
	AuthorID  string
	Title     string
	ISBN      string
	PageCount int
	// Status defaults to TO_READ. FINISHED is reached through MarkAsFinished only.
	Status Status
}

// NewBook validates the input and records a Created event. Version is 0 until saved.
func NewBook(p NewBookParams) (*Book, error) {
	title := strings.TrimSpace(p.Title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.AuthorID) == "" {
		return nil, newValidationError("authorId", "author is required")
	}
	if p.PageCount < 0 {
		return nil, newValidationError("pageCount", "page count cannot be negative")
	}

	status := p.Status
	if status == "" {
		status = StatusToRead
	}
	if !status.IsValid() {
		return nil, newValidationError("status", "unknown status "+string(status))
	}
	if status == StatusFinished {
		return nil, newValidationError("status", "a book can only be finished with a year and rating")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate book ID: %w", err)
	}

	now := time.Now().UTC()
	b := &Book{
		id:        id.String(),
		authorID:  p.AuthorID,
		title:     title,
		isbn:      strings.TrimSpace(p.ISBN),
		pageCount: p.PageCount,
		status:    status,
		createdAt: now,
		updatedAt: now,
	}
	b.record(Created{
		BookID:    b.id,
		AuthorID:  b.authorID,
		Title:     b.title,
		ISBN:      b.isbn,
		PageCount: b.pageCount,
		Status:    b.status,
		CreatedAt: now,
	})
	return b, nil
}

// ReconstructionDTO is used by repositories only. Data is trusted and not re-validated.
type ReconstructionDTO struct {
	ID        string
	AuthorID  string
	Title     string
	ISBN      string
	PageCount int
	Status    Status
	YearRead  *int
	Rating    *int
	Quotes    []QuoteDTO
	Notes     []NoteDTO
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RebuildFromDTO reconstructs a Book without recording events.
func RebuildFromDTO(dto ReconstructionDTO) *Book {
	b := &Book{
		Versioned: shared.NewVersioned(dto.Version),
		id:        dto.ID,
		authorID:  dto.AuthorID,
		title:     dto.Title,
		isbn:      dto.ISBN,
		pageCount: dto.PageCount,
		status:    dto.Status,
		yearRead:  copyInt(dto.YearRead),
		rating:    copyInt(dto.Rating),
		createdAt: dto.CreatedAt,
		updatedAt: dto.UpdatedAt,
	}
	for _, q := range dto.Quotes {
		b.quotes = append(b.quotes, Quote{
			id:        q.ID,
			text:      q.Text,
			page:      copyInt(q.Page),
			createdAt: q.CreatedAt,
			updatedAt: q.UpdatedAt,
		})
	}
	for _, n := range dto.Notes {
		b.notes = append(b.notes, Note{id: n.ID, content: n.Content, createdAt: n.CreatedAt})
	}
	return b
}

// DetailsPatch lists the fields to change. Nil means "leave as is".
type DetailsPatch struct {
	Title     *string
	AuthorID  *string
	ISBN      *string
	PageCount *int
}

// UpdateDetails applies the patch field by field and records a DetailsUpdated event
// carrying only the fields whose value actually changed.
func (b *Book) UpdateDetails(patch DetailsPatch) error {
	if b.deleted {
		return newDeletedError(b.id)
	}

	// validate everything first so a bad field never leaves a partial mutation
	var title, authorID, isbn *string
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if err := validateTitle(t); err != nil {
			return err
		}
		title = &t
	}
	if patch.AuthorID != nil {
		a := strings.TrimSpace(*patch.AuthorID)
		if a == "" {
			return newValidationError("authorId", "author is required")
		}
		authorID = &a
	}
	if patch.ISBN != nil {
		i := strings.TrimSpace(*patch.ISBN)
		isbn = &i
	}
	if patch.PageCount != nil {
		if *patch.PageCount < 0 {
			return newValidationError("pageCount", "page count cannot be negative")
		}
		if *patch.PageCount > 0 && *patch.PageCount < b.highestQuotedPage() {
			return newValidationError("pageCount", "page count is lower than a quoted page")
		}
	}

	evt := DetailsUpdated{BookID: b.id}
	changed := false
	if title != nil && *title != b.title {
		b.title = *title
		evt.Title = title
		changed = true
	}
	if authorID != nil && *authorID != b.authorID {
		b.authorID = *authorID
		evt.AuthorID = authorID
		changed = true
	}
	if isbn != nil && *isbn != b.isbn {
		b.isbn = *isbn
		evt.ISBN = isbn
		changed = true
	}
	if patch.PageCount != nil && *patch.PageCount != b.pageCount {
		b.pageCount = *patch.PageCount
		evt.PageCount = copyInt(patch.PageCount)
		changed = true
	}

	if !changed {
		return nil
	}
	b.touch()
	b.record(evt)
	return nil
}

// ChangeStatus moves the book along the transition table. Moving to the current
// status is a no-op. FINISHED needs a year and a rating, see MarkAsFinished.
func (b *Book) ChangeStatus(target Status) error {
	if b.deleted {
		return newDeletedError(b.id)
	}
	if !target.IsValid() {
		return newValidationError("status", "unknown status "+string(target))
	}
	if target == StatusFinished {
		return newValidationError("status", "use MarkAsFinished to finish a book")
	}
	if target == b.status {
		return nil
	}
	if !b.status.CanTransitionTo(target) {
		return newIllegalTransitionError(b.status, target)
	}

	from := b.status
	b.status = target
	b.touch()
	b.record(StatusChanged{BookID: b.id, From: from, To: target})
	return nil
}

// MarkAsFinished records the year the book was read and its rating.
func (b *Book) MarkAsFinished(yearRead, rating int) error {
	if b.deleted {
		return newDeletedError(b.id)
	}
	if yearRead < earliestYearRead || yearRead > time.Now().UTC().Year() {
		return newValidationError("yearRead", fmt.Sprintf("year read must be between %d and the current year", earliestYearRead))
	}
	if rating < minRating || rating > maxRating {
		return newValidationError("rating", fmt.Sprintf("rating must be between %d and %d", minRating, maxRating))
	}
	if !b.status.CanTransitionTo(StatusFinished) {
		return newIllegalTransitionError(b.status, StatusFinished)
	}

	from := b.status
	b.status = StatusFinished
	b.yearRead = &yearRead
	b.rating = &rating
	b.touch()
	b.record(Finished{BookID: b.id, From: from, YearRead: yearRead, Rating: rating})
	return nil
}

// AddQuote appends a quote and returns its identifier.
func (b *Book) AddQuote(text string, page *int) (string, error) {
	if b.deleted {
		return "", newDeletedError(b.id)
	}
	text = strings.TrimSpace(text)
	if err := validateQuoteText(text); err != nil {
		return "", err
	}
	if err := b.validatePage(page); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate quote ID: %w", err)
	}
	now := time.Now().UTC()
	q := Quote{id: id.String(), text: text, page: copyInt(page), createdAt: now, updatedAt: now}
	b.quotes = append(b.quotes, q)
	b.touch()
	b.record(QuoteAdded{BookID: b.id, QuoteID: q.id, Text: q.text, Page: copyInt(q.page), CreatedAt: now})
	return q.id, nil
}

// QuotePatch lists the quote fields to change. Nil means "leave as is".
type QuotePatch struct {
	Text *string
	Page *int
}

// UpdateQuote edits a quote in place, keeping its identity and creation time.
func (b *Book) UpdateQuote(quoteID string, patch QuotePatch) error {
	if b.deleted {
		return newDeletedError(b.id)
	}
	idx := b.quoteIndex(quoteID)
	if idx < 0 {
		return shared.NewDomainError(ErrQuoteNotFound, entityName, "quoteId", "quote not found: "+quoteID)
	}

	var text *string
	if patch.Text != nil {
		t := strings.TrimSpace(*patch.Text)
		if err := validateQuoteText(t); err != nil {
			return err
		}
		text = &t
	}
	if patch.Page != nil {
		if err := b.validatePage(patch.Page); err != nil {
			return err
		}
	}

	q := &b.quotes[idx]
	evt := QuoteUpdated{BookID: b.id, QuoteID: quoteID}
	changed := false
	if text != nil && *text != q.text {
		q.text = *text
		evt.Text = text
		changed = true
	}
	if patch.Page != nil && !equalIntPtr(patch.Page, q.page) {
		q.page = copyInt(patch.Page)
		evt.Page = copyInt(patch.Page)
		changed = true
	}
	if !changed {
		return nil
	}
	q.updatedAt = time.Now().UTC()
	b.touch()
	b.record(evt)
	return nil
}

// RemoveQuote deletes a quote.
func (b *Book) RemoveQuote(quoteID string) error {
	if b.deleted {
		return newDeletedError(b.id)
	}
	idx := b.quoteIndex(quoteID)
	if idx < 0 {
		return shared.NewDomainError(ErrQuoteNotFound, entityName, "quoteId", "quote not found: "+quoteID)
	}
	b.quotes = append(b.quotes[:idx:idx], b.quotes[idx+1:]...)
	b.touch()
	b.record(QuoteRemoved{BookID: b.id, QuoteID: quoteID})
	return nil
}

// AddNote appends a note and returns its identifier.
func (b *Book) AddNote(content string) (string, error) {
	if b.deleted {
		return "", newDeletedError(b.id)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", newValidationError("content", "note cannot be empty")
	}
	if len(content) > maxNoteLength {
		return "", newValidationError("content", fmt.Sprintf("note cannot exceed %d characters", maxNoteLength))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate note ID: %w", err)
	}
	now := time.Now().UTC()
	b.notes = append(b.notes, Note{id: id.String(), content: content, createdAt: now})
	b.touch()
	b.record(NoteAdded{BookID: b.id, NoteID: id.String(), Content: content, CreatedAt: now})
	return id.String(), nil
}

// RemoveNote deletes a note.
func (b *Book) RemoveNote(noteID string) error {
	if b.deleted {
		return newDeletedError(b.id)
	}
	for i, n := range b.notes {
		if n.id == noteID {
			b.notes = append(b.notes[:i:i], b.notes[i+1:]...)
			b.touch()
			b.record(NoteRemoved{BookID: b.id, NoteID: noteID})
			return nil
		}
	}
	return shared.NewDomainError(ErrNoteNotFound, entityName, "noteId", "note not found: "+noteID)
}

// Delete marks the aggregate deleted. The repository removes the row and its children.
func (b *Book) Delete() error {
	if b.deleted {
		return newDeletedError(b.id)
	}
	b.deleted = true
	b.touch()
	b.record(Deleted{BookID: b.id, AuthorID: b.authorID})
	return nil
}

func (b *Book) ID() string            { return b.id }
func (b *Book) AggregateType() string { return entityName }
func (b *Book) AuthorID() string      { return b.authorID }
func (b *Book) Title() string         { return b.title }
func (b *Book) ISBN() string          { return b.isbn }
func (b *Book) PageCount() int        { return b.pageCount }
func (b *Book) Status() Status        { return b.status }
func (b *Book) YearRead() *int        { return copyInt(b.yearRead) }
func (b *Book) Rating() *int          { return copyInt(b.rating) }
func (b *Book) IsDeleted() bool       { return b.deleted }
func (b *Book) CreatedAt() time.Time  { return b.createdAt }
func (b *Book) UpdatedAt() time.Time  { return b.updatedAt }

func (b *Book) Quotes() []Quote {
	out := make([]Quote, len(b.quotes))
	copy(out, b.quotes)
	return out
}

func (b *Book) Notes() []Note {
	out := make([]Note, len(b.notes))
	copy(out, b.notes)
	return out
}

func (b *Book) record(p shared.Payload) {
	b.Record(shared.NewEvent(b.id, p))
}

func (b *Book) touch() {
	b.updatedAt = time.Now().UTC()
}

func (b *Book) quoteIndex(id string) int {
	for i, q := range b.quotes {
		if q.id == id {
			return i
		}
	}
	return -1
}

func (b *Book) highestQuotedPage() int {
	highest := 0
	for _, q := range b.quotes {
		if q.page != nil && *q.page > highest {
			highest = *q.page
		}
	}
	return highest
}

func (b *Book) validatePage(page *int) error {
	if page == nil {
		return nil
	}
	if *page <= 0 {
		return newValidationError("page", "page must be positive")
	}
	if b.pageCount > 0 && *page > b.pageCount {
		return newValidationError("page", fmt.Sprintf("page %d is beyond the last page (%d)", *page, b.pageCount))
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return newValidationError("title", "title is required")
	}
	if len(title) > maxTitleLength {
		return newValidationError("title", fmt.Sprintf("title cannot exceed %d characters", maxTitleLength))
	}
	return nil
}

func validateQuoteText(text string) error {
	if text == "" {
		return newValidationError("text", "quote cannot be empty")
	}
	if len(text) > maxQuoteLength {
		return newValidationError("text", fmt.Sprintf("quote cannot exceed %d characters", maxQuoteLength))
	}
	return nil
}

// Compile-time check
var _ shared.AggregateRoot = (*Book)(nil)
