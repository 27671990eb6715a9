package po

import (
	"time"

	"library/domain/author"
)

// AuthorPO Author persistence object
type AuthorPO struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:200;not null"`
	Version   int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AuthorPO) TableName() string {
	return "authors"
}

func FromAuthorDomain(a *author.Author) *AuthorPO {
	return &AuthorPO{
		ID:        a.ID(),
		Name:      a.Name(),
		Version:   a.Version(),
		CreatedAt: a.CreatedAt(),
		UpdatedAt: a.UpdatedAt(),
	}
}

func (po *AuthorPO) ToDomain() *author.Author {
	return author.RebuildFromDTO(author.ReconstructionDTO{
		ID:        po.ID,
		Name:      po.Name,
		Version:   po.Version,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	})
}
