package shared

import "context"

// UnitOfWork 管理事务边界与聚合事件收集。
// Execute 提交成功后，已登记聚合的版本号已递增，未提交事件保持不变，
// 由调用方在交给发布器之后清空。
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	RegisterNew(aggregate AggregateRoot)
	RegisterDirty(aggregate AggregateRoot)
	RegisterRemoved(aggregate AggregateRoot)
	// Committed returns the aggregates of the last successful Execute.
	Committed() []AggregateRoot
}

type UnitOfWorkFactory interface {
	New() UnitOfWork
}

// OutboxRepository stores events in the same transaction as the aggregate row.
type OutboxRepository interface {
	SaveEvents(ctx context.Context, aggregateType string, events []DomainEvent) error
	MarkEventsPublished(ctx context.Context, eventIDs []string) error
	// HasUnpublishedBefore reports whether an event of the aggregate older than
	// version is still waiting for the broker.
	HasUnpublishedBefore(ctx context.Context, aggregateID string, version int) (bool, error)
}

// EventPublisher hands committed events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	// PublishAll publishes sequentially in emission order, stops at the first
	// failure and returns how many events were accepted.
	PublishAll(ctx context.Context, events []DomainEvent) (int, error)
}
