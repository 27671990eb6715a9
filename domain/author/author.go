// Package author Author subdomain
package author

import (
	"context"
	"fmt"
	"strings"
	"time"

	"library/domain/shared"

	"github.com/google/uuid"
)

const (
	entityName    = "author"
	maxNameLength = 200

	EventCreated = "library.author.created"
	EventRenamed = "library.author.renamed"
	EventDeleted = "library.author.deleted"
)

var (
	ErrAuthorNotFound = fmt.Errorf("author %w", shared.ErrNotFound)
	ErrAuthorConflict = fmt.Errorf("author %w", shared.ErrConflict)
	ErrAuthorHasBooks = fmt.Errorf("author still has books: %w", shared.ErrBusinessRule)
	ErrAuthorDeleted  = fmt.Errorf("author is deleted: %w", shared.ErrBusinessRule)
)

// Author aggregate root
type Author struct {
	shared.Versioned

	id        string
	name      string
	deleted   bool
	createdAt time.Time
	updatedAt time.Time
}

type Created struct {
	AuthorID  string    `json:"authorId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Renamed struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type Deleted struct {
	AuthorID string `json:"authorId"`
}

func (Created) EventName() string { return EventCreated }
func (Renamed) EventName() string { return EventRenamed }
func (Deleted) EventName() string { return EventDeleted }

// NewAuthor creates an author and records a Created event.
func NewAuthor(name string) (*Author, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate author ID: %w", err)
	}
	now := time.Now().UTC()
	a := &Author{id: id.String(), name: name, createdAt: now, updatedAt: now}
	a.Record(shared.NewEvent(a.id, Created{AuthorID: a.id, Name: name, CreatedAt: now}))
	return a, nil
}

// ReconstructionDTO is used by repositories only.
type ReconstructionDTO struct {
	ID        string
	Name      string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func RebuildFromDTO(dto ReconstructionDTO) *Author {
	return &Author{
		Versioned: shared.NewVersioned(dto.Version),
		id:        dto.ID,
		name:      dto.Name,
		createdAt: dto.CreatedAt,
		updatedAt: dto.UpdatedAt,
	}
}

// Rename is a no-op when the trimmed name equals the current one.
func (a *Author) Rename(name string) error {
	if a.deleted {
		return shared.NewDomainError(ErrAuthorDeleted, entityName, "", "author "+a.id+" is deleted")
	}
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return err
	}
	if name == a.name {
		return nil
	}
	a.name = name
	a.updatedAt = time.Now().UTC()
	a.Record(shared.NewEvent(a.id, Renamed{AuthorID: a.id, Name: name}))
	return nil
}

// Delete marks the author deleted. bookCount comes from the book repository
// inside the same transaction.
func (a *Author) Delete(bookCount int64) error {
	if a.deleted {
		return shared.NewDomainError(ErrAuthorDeleted, entityName, "", "author "+a.id+" is deleted")
	}
	if bookCount > 0 {
		return shared.NewDomainError(ErrAuthorHasBooks, entityName, "",
			fmt.Sprintf("author %s still has %d book(s)", a.id, bookCount))
	}
	a.deleted = true
	a.updatedAt = time.Now().UTC()
	a.Record(shared.NewEvent(a.id, Deleted{AuthorID: a.id}))
	return nil
}

func (a *Author) ID() string            { return a.id }
func (a *Author) AggregateType() string { return entityName }
func (a *Author) Name() string          { return a.name }
func (a *Author) IsDeleted() bool       { return a.deleted }
func (a *Author) CreatedAt() time.Time  { return a.createdAt }
func (a *Author) UpdatedAt() time.Time  { return a.updatedAt }

func validateName(name string) error {
	if name == "" {
		return shared.NewValidationError(entityName, "name", "name is required")
	}
	if len(name) > maxNameLength {
		return shared.NewValidationError(entityName, "name", fmt.Sprintf("name cannot exceed %d characters", maxNameLength))
	}
	return nil
}

// NewAuthorNotFoundError 创建作者未找到错误
func NewAuthorNotFoundError(id string) error {
	return shared.NewDomainError(ErrAuthorNotFound, entityName, "", "author not found: "+id)
}

// NewConcurrencyConflictError 创建版本冲突错误
func NewConcurrencyConflictError(id string, expectedVersion int) error {
	return shared.NewDomainError(ErrAuthorConflict, entityName, "version",
		fmt.Sprintf("author %s was modified concurrently (expected version %d)", id, expectedVersion))
}

// Repository Author repository interface (write side)
type Repository interface {
	FindByID(ctx context.Context, id string) (*Author, error)
	Save(ctx context.Context, a *Author) error
	Delete(ctx context.Context, a *Author) error
}

var _ shared.AggregateRoot = (*Author)(nil)
