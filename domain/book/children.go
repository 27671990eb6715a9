package book

import "time"

// Quote 书摘 - 聚合内实体，只能通过 Book 访问
type Quote struct {
	id        string
	text      string
	page      *int
	createdAt time.Time
	updatedAt time.Time
}

func (q Quote) ID() string           { return q.id }
func (q Quote) Text() string         { return q.text }
func (q Quote) CreatedAt() time.Time { return q.createdAt }
func (q Quote) UpdatedAt() time.Time { return q.updatedAt }

// Page returns a copy so callers cannot reach into the aggregate.
func (q Quote) Page() *int { return copyInt(q.page) }

// Note 笔记 - 聚合内实体
type Note struct {
	id        string
	content   string
	createdAt time.Time
}

func (n Note) ID() string           { return n.id }
func (n Note) Content() string      { return n.content }
func (n Note) CreatedAt() time.Time { return n.createdAt }

// QuoteDTO / NoteDTO rebuild children from trusted storage.
type QuoteDTO struct {
	ID        string
	Text      string
	Page      *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type NoteDTO struct {
	ID        string
	Content   string
	CreatedAt time.Time
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
