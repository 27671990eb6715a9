package errors

import (
	"context"
	"errors"
	"fmt"

	"library/domain/shared"
)

// ErrorCode 错误码
type ErrorCode string

const (
	// 通用错误码
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeBadRequest     ErrorCode = "BAD_REQUEST"
	CodeTooManyRequest ErrorCode = "TOO_MANY_REQUESTS"
	CodeTimeout        ErrorCode = "TIMEOUT"

	// 领域错误码，与 shared 中的哨兵一一对应
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeBusinessRule   ErrorCode = "BUSINESS_RULE_VIOLATION"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeConflict       ErrorCode = "CONCURRENCY_CONFLICT"
	CodePublishPending ErrorCode = "PUBLISH_PENDING"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message)
}

func TooManyRequests(message string) *AppError {
	return New(CodeTooManyRequest, message)
}

func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

// Is 检查是否为特定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// FromDomainError 将领域错误映射为应用错误
// 只按哨兵分类判断，不解析错误消息
func FromDomainError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	message := err.Error()
	field := ""
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
		field = domainErr.Field
	}

	var code ErrorCode
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		code = CodeValidation
	case errors.Is(err, shared.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, shared.ErrConflict):
		code = CodeConflict
	case errors.Is(err, shared.ErrBusinessRule):
		code = CodeBusinessRule
	case errors.Is(err, shared.ErrPublish):
		code = CodePublishPending
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeTimeout, "request timed out")
	default:
		return Wrap(err, CodeInternal, "internal server error")
	}
	return &AppError{Code: code, Message: message, Field: field, Err: err}
}
