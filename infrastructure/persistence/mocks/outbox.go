package mocks

import (
	"context"
	"sync"

	"library/domain/shared"
)

// OutboxRepository records which event ids were marked published. Rows are
// written by the unit of work, so SaveEvents has nothing to keep.
type OutboxRepository struct {
	mu        sync.Mutex
	published []string

	// MarkErr, when set, fails MarkEventsPublished.
	MarkErr error
	// Backlog holds aggregate ids that still have an older unpublished event.
	Backlog map[string]bool
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{}
}

func (r *OutboxRepository) SaveEvents(ctx context.Context, aggregateType string, events []shared.DomainEvent) error {
	return nil
}

func (r *OutboxRepository) MarkEventsPublished(ctx context.Context, eventIDs []string) error {
	if r.MarkErr != nil {
		return r.MarkErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, eventIDs...)
	return nil
}

func (r *OutboxRepository) HasUnpublishedBefore(ctx context.Context, aggregateID string, version int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Backlog[aggregateID], nil
}

func (r *OutboxRepository) PublishedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.published...)
}

var _ shared.OutboxRepository = (*OutboxRepository)(nil)
