// Package command 命令总线
//
// Handlers are registered by command name at startup. Dispatch looks the name
// up in the table; there is no reflection on command types.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"library/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrNoHandlerFound   = errors.New("command: no handler found")
	ErrDuplicateHandler = errors.New("command: duplicate handler")
	ErrUnexpectedResult = errors.New("command: unexpected result type")
)

// Command is anything with a stable name.
type Command interface {
	CommandName() string
}

// HandlerFunc handles one command kind.
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Result is what write commands return.
type Result struct {
	ID      string `json:"id"`
	ChildID string `json:"childId,omitempty"`
	Version int    `json:"version"`
}

// Bus 命令总线，一个命令名只对应一个处理器
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	timeout  time.Duration
}

// NewBus creates a bus. A positive timeout bounds every Dispatch that arrives
// without an earlier deadline.
func NewBus(timeout time.Duration) *Bus {
	return &Bus{handlers: make(map[string]HandlerFunc), timeout: timeout}
}

func (b *Bus) Register(name string, h HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	b.handlers[name] = h
	return nil
}

func (b *Bus) Dispatch(ctx context.Context, cmd Command) (any, error) {
	b.mu.RLock()
	h, ok := b.handlers[cmd.CommandName()]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandlerFound, cmd.CommandName())
	}

	if b.timeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
	}

	start := time.Now()
	result, err := h(ctx, cmd)
	logger.FromContext(ctx).Debug("Command dispatched",
		zap.String("command", cmd.CommandName()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return result, err
}

// Register binds a typed handler under the name of C.
func Register[C Command, R any](b *Bus, h func(ctx context.Context, cmd C) (R, error)) error {
	var zero C
	return b.Register(zero.CommandName(), func(ctx context.Context, cmd Command) (any, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %T for %s", ErrUnexpectedResult, cmd, zero.CommandName())
		}
		return h(ctx, typed)
	})
}

// Dispatch sends cmd and asserts the result type. The result is returned even
// when err is non-nil so callers can report partial success (publish pending).
func Dispatch[R any](ctx context.Context, b *Bus, cmd Command) (R, error) {
	var zero R
	result, err := b.Dispatch(ctx, cmd)
	if result == nil {
		return zero, err
	}
	typed, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedResult, result)
	}
	return typed, err
}
