/*
Package shared - 领域层共享错误定义

设计原则:
1. 领域层定义哨兵错误(sentinel errors)，用于 errors.Is() 类型安全判断
2. DomainError 在创建时捕获堆栈，但延迟格式化（按需打印）
3. 领域错误不包含 HTTP 状态码等传输层概念

错误分类:
- ErrInvalidInput      输入不合法，任何修改之前拒绝
- ErrBusinessRule      输入合法但业务规则禁止（如非法状态转换）
- ErrNotFound          聚合不存在
- ErrConflict          持久化时版本号不匹配，调用方决定是否重新加载后重试
- ErrPublish           写入已提交，但事件发布失败，读模型暂时落后
- ErrProjectionApply   消费端无法应用的事件，拒绝且不重新入队
*/
package shared

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("concurrency conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrBusinessRule    = errors.New("business rule violation")
	ErrPublish         = errors.New("publish failure")
	ErrProjectionApply = errors.New("projection apply failure")
)

// DomainError 领域错误 - 携带业务上下文和堆栈的结构化错误
type DomainError struct {
	// Err 底层哨兵错误，用于 errors.Is() 判断
	Err error

	// Entity 发生错误的实体名称（如 "book", "author"）
	Entity string

	// Message 人类可读的错误描述
	Message string

	// Field 可选：发生错误的字段名（用于校验错误）
	Field string

	// Cause 可选：触发该错误的底层错误（如 broker 连接错误）
	Cause error

	stack []uintptr
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *DomainError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Stack 按需格式化堆栈（只在打印日志时调用）
func (e *DomainError) Stack() []string {
	return FormatStack(e.stack)
}

// CaptureStack 捕获当前调用栈（导出供子领域包使用）
// skip: 跳过的帧数（通常为 3：Callers, CaptureStack, NewXxxError）
func CaptureStack(skip int) []uintptr {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	return pcs[:n]
}

// FormatStack 格式化堆栈帧为字符串切片，过滤 runtime 内部帧，最多返回 10 帧
func FormatStack(stack []uintptr) []string {
	if len(stack) == 0 {
		return nil
	}

	frames := runtime.CallersFrames(stack)
	var result []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			result = append(result, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more || len(result) > 10 {
			break
		}
	}
	return result
}

// NewDomainError 供子领域包使用：sentinel 可以是包装了上面哨兵错误的子领域错误
func NewDomainError(sentinel error, entity, field, message string) *DomainError {
	return &DomainError{
		Err:     sentinel,
		Entity:  entity,
		Field:   field,
		Message: message,
		stack:   CaptureStack(3),
	}
}

// NewNotFoundError 创建"未找到"领域错误
func NewNotFoundError(entity, id string) error {
	return &DomainError{
		Err:     ErrNotFound,
		Entity:  entity,
		Message: entity + " not found: " + id,
		stack:   CaptureStack(3),
	}
}

// NewConcurrencyConflictError 创建版本冲突错误
func NewConcurrencyConflictError(entity, id string, expectedVersion int) error {
	return &DomainError{
		Err:     ErrConflict,
		Entity:  entity,
		Message: fmt.Sprintf("%s %s was modified concurrently (expected version %d)", entity, id, expectedVersion),
		stack:   CaptureStack(3),
	}
}

// NewValidationError 创建"校验失败"领域错误
func NewValidationError(entity, field, reason string) error {
	return &DomainError{
		Err:     ErrInvalidInput,
		Entity:  entity,
		Field:   field,
		Message: reason,
		stack:   CaptureStack(3),
	}
}

// NewBusinessRuleError 创建"业务规则不允许"错误
func NewBusinessRuleError(entity, message string) error {
	return &DomainError{
		Err:     ErrBusinessRule,
		Entity:  entity,
		Message: message,
		stack:   CaptureStack(3),
	}
}

// NewPublishError wraps a broker failure that happened after the write committed.
func NewPublishError(eventName string, cause error) error {
	return &DomainError{
		Err:     ErrPublish,
		Entity:  "event",
		Message: "failed to publish " + eventName,
		Cause:   cause,
		stack:   CaptureStack(3),
	}
}

// NewProjectionApplyError marks an event the consumer can never apply.
func NewProjectionApplyError(eventName, reason string) error {
	return &DomainError{
		Err:     ErrProjectionApply,
		Entity:  "event",
		Message: eventName + ": " + reason,
		stack:   CaptureStack(3),
	}
}

// Stacker 可提供堆栈的错误接口，API 层用它统一提取堆栈
type Stacker interface {
	Stack() []string
}
