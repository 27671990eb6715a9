// Package pipeline 持久化后发布
//
// Committer is the one place where the persist-then-publish order is enforced:
// the unit of work commits aggregate rows and outbox rows together, and only
// then are the events handed to the publisher. Events are cleared from the
// aggregates after the publisher accepted them.
package pipeline

import (
	"context"
	"errors"

	"library/domain/shared"
	"library/infrastructure/persistence"
	"library/pkg/logger"

	"go.uber.org/zap"
)

// ErrBacklog means an earlier event of the same aggregate is still waiting in the outbox.
var ErrBacklog = errors.New("earlier events of the aggregate are not published yet")

// Committer runs one command's writes and publishes the resulting events.
type Committer struct {
	uowFactory shared.UnitOfWorkFactory
	publisher  shared.EventPublisher
	outbox     shared.OutboxRepository
}

// NewCommitter creates a committer. outbox may be nil when the outbox table is disabled.
func NewCommitter(uowFactory shared.UnitOfWorkFactory, publisher shared.EventPublisher, outbox shared.OutboxRepository) *Committer {
	return &Committer{uowFactory: uowFactory, publisher: publisher, outbox: outbox}
}

// Run executes fn in a unit of work. fn saves aggregates through the
// repositories and registers them with uow.
//
// Errors from fn or the commit come back unchanged and nothing is published.
// After a successful commit a publish failure is returned as a PublishFailure
// error: the write is durable, the outbox rows stay pending and the relay
// republishes them. An aggregate whose earlier events are still in the outbox
// is not published here at all; the relay sends its rows in version order.
func (c *Committer) Run(ctx context.Context, fn func(ctx context.Context, uow shared.UnitOfWork) error) error {
	uow := c.uowFactory.New()
	if err := uow.Execute(ctx, func(txCtx context.Context) error {
		return fn(txCtx, uow)
	}); err != nil {
		return err
	}

	// the write is committed; a cancelled caller must not stop the hand-off
	pubCtx := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	var published []string
	var publishErr error
	for _, agg := range uow.Committed() {
		pending := agg.UncommittedEvents()
		if len(pending) == 0 {
			continue
		}
		events := make([]shared.DomainEvent, len(pending))
		for i, e := range pending {
			// same id and metadata as the outbox row
			events[i] = persistence.StampEvent(ctx, e, agg.Version())
		}

		if err := c.inOrder(pubCtx, agg); err != nil {
			publishErr = shared.NewPublishError(events[0].EventName(), err)
			break
		}

		n, err := c.publisher.PublishAll(pubCtx, events)
		for _, evt := range events[:n] {
			published = append(published, evt.EventID())
		}
		if err != nil {
			if !errors.Is(err, shared.ErrPublish) {
				err = shared.NewPublishError(events[n].EventName(), err)
			}
			publishErr = err
			break
		}
	}

	if c.outbox != nil && len(published) > 0 {
		if err := c.outbox.MarkEventsPublished(pubCtx, published); err != nil {
			// the relay publishes these again; consumers are idempotent
			log.Warn("Failed to mark outbox events published",
				zap.Strings("event_ids", published),
				zap.Error(err),
			)
		}
	}

	if publishErr != nil {
		log.Warn("Write committed but publish failed, left for the outbox relay",
			zap.Int("published", len(published)),
			zap.Error(publishErr),
		)
		return publishErr
	}

	for _, agg := range uow.Committed() {
		agg.ClearEvents()
	}
	return nil
}

// inOrder 同一聚合还有更早的事件没发出去时，本次的事件留给 relay 按版本顺序发
func (c *Committer) inOrder(ctx context.Context, agg shared.AggregateRoot) error {
	if c.outbox == nil {
		return nil
	}
	waiting, err := c.outbox.HasUnpublishedBefore(ctx, agg.ID(), agg.Version())
	if err != nil {
		return err
	}
	if waiting {
		return ErrBacklog
	}
	return nil
}
