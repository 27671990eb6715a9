/*
Package book - 图书领域错误定义

子领域哨兵错误包装 shared 中的分类哨兵，因此两种判断都成立:
  - errors.Is(err, book.ErrIllegalTransition)
  - errors.Is(err, shared.ErrBusinessRule)
*/
package book

import (
	"fmt"

	"library/domain/shared"
)

const entityName = "book"

var (
	ErrBookNotFound      = fmt.Errorf("book %w", shared.ErrNotFound)
	ErrQuoteNotFound     = fmt.Errorf("quote %w", shared.ErrNotFound)
	ErrNoteNotFound      = fmt.Errorf("note %w", shared.ErrNotFound)
	ErrIllegalTransition = fmt.Errorf("illegal status transition: %w", shared.ErrBusinessRule)
	ErrBookDeleted       = fmt.Errorf("book is deleted: %w", shared.ErrBusinessRule)
	ErrBookConflict      = fmt.Errorf("book %w", shared.ErrConflict)
)

// NewBookNotFoundError 创建图书未找到错误（带堆栈）
func NewBookNotFoundError(id string) error {
	return shared.NewDomainError(ErrBookNotFound, entityName, "", "book not found: "+id)
}

// NewConcurrencyConflictError 创建版本冲突错误
func NewConcurrencyConflictError(id string, expectedVersion int) error {
	return shared.NewDomainError(ErrBookConflict, entityName, "version",
		fmt.Sprintf("book %s was modified concurrently (expected version %d)", id, expectedVersion))
}

func newIllegalTransitionError(from, to Status) error {
	return shared.NewDomainError(ErrIllegalTransition, entityName, "status",
		"cannot transition from "+string(from)+" to "+string(to))
}

func newDeletedError(id string) error {
	return shared.NewDomainError(ErrBookDeleted, entityName, "", "book "+id+" is deleted")
}

func newValidationError(field, reason string) error {
	return shared.NewValidationError(entityName, field, reason)
}
