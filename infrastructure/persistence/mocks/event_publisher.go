package mocks

import (
	"context"
	"sync"

	"library/domain/shared"
)

// EventPublisher 记录发布的事件，可以模拟第 N 次发布失败
type EventPublisher struct {
	mu        sync.Mutex
	published []shared.DomainEvent
	failAt    int
	failErr   error
	calls     int
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// FailAt makes the n-th Publish call (1-based) and every later one return err.
func (p *EventPublisher) FailAt(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAt = n
	p.failErr = err
}

func (p *EventPublisher) Publish(ctx context.Context, event shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failErr != nil && p.calls >= p.failAt {
		return p.failErr
	}
	p.published = append(p.published, event)
	return nil
}

func (p *EventPublisher) PublishAll(ctx context.Context, events []shared.DomainEvent) (int, error) {
	for i, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// Published returns the accepted events in publish order.
func (p *EventPublisher) Published() []shared.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shared.DomainEvent(nil), p.published...)
}

var _ shared.EventPublisher = (*EventPublisher)(nil)
