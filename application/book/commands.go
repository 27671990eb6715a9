package book

// ExpectedVersion, when set, must equal the persisted version or the command
// fails with a concurrency conflict before anything is changed.

type CreateBook struct {
	AuthorID  string `json:"authorId" binding:"required"`
	Title     string `json:"title" binding:"required"`
	ISBN      string `json:"isbn"`
	PageCount int    `json:"pageCount" binding:"min=0"`
	Status    string `json:"status"`
}

type UpdateDetails struct {
	BookID          string  `json:"-"`
	ExpectedVersion *int    `json:"-"`
	Title           *string `json:"title"`
	AuthorID        *string `json:"authorId"`
	ISBN            *string `json:"isbn"`
	PageCount       *int    `json:"pageCount"`
}

type ChangeStatus struct {
	BookID          string `json:"-"`
	ExpectedVersion *int   `json:"-"`
	Status          string `json:"status" binding:"required"`
}

type MarkFinished struct {
	BookID          string `json:"-"`
	ExpectedVersion *int   `json:"-"`
	YearRead        int    `json:"yearRead" binding:"required"`
	Rating          int    `json:"rating" binding:"required"`
}

type AddQuote struct {
	BookID          string `json:"-"`
	ExpectedVersion *int   `json:"-"`
	Text            string `json:"text" binding:"required"`
	Page            *int   `json:"page"`
}

type UpdateQuote struct {
	BookID          string  `json:"-"`
	QuoteID         string  `json:"-"`
	ExpectedVersion *int    `json:"-"`
	Text            *string `json:"text"`
	Page            *int    `json:"page"`
}

type RemoveQuote struct {
	BookID          string
	QuoteID         string
	ExpectedVersion *int
}

type AddNote struct {
	BookID          string `json:"-"`
	ExpectedVersion *int   `json:"-"`
	Content         string `json:"content" binding:"required"`
}

type RemoveNote struct {
	BookID          string
	NoteID          string
	ExpectedVersion *int
}

type DeleteBook struct {
	BookID          string
	ExpectedVersion *int
}

func (CreateBook) CommandName() string    { return "book.create" }
func (UpdateDetails) CommandName() string { return "book.update_details" }
func (ChangeStatus) CommandName() string  { return "book.change_status" }
func (MarkFinished) CommandName() string  { return "book.mark_finished" }
func (AddQuote) CommandName() string      { return "book.add_quote" }
func (UpdateQuote) CommandName() string   { return "book.update_quote" }
func (RemoveQuote) CommandName() string   { return "book.remove_quote" }
func (AddNote) CommandName() string       { return "book.add_note" }
func (RemoveNote) CommandName() string    { return "book.remove_note" }
func (DeleteBook) CommandName() string    { return "book.delete" }
