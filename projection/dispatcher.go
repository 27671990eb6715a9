// Package projection 投影消费者
//
// The dispatcher turns broker deliveries into read-model updates. Handlers are
// looked up in a table keyed by event name that is filled once at startup.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"library/domain/shared"
	"library/infrastructure/messaging"
	"library/infrastructure/readstore"
	"library/pkg/logger"

	"go.uber.org/zap"
)

// ErrDuplicateHandler is returned when an event name is registered twice.
var ErrDuplicateHandler = errors.New("projection: duplicate handler")

// Handler applies one event to the read store. It must be idempotent.
type Handler func(ctx context.Context, evt shared.DomainEvent) error

// Dispatcher decodes, deduplicates and routes deliveries.
type Dispatcher struct {
	markers  readstore.Markers
	handlers map[string]Handler
	now      func() time.Time
}

func NewDispatcher(markers readstore.Markers) *Dispatcher {
	return &Dispatcher{
		markers:  markers,
		handlers: make(map[string]Handler),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Register(eventName string, h Handler) error {
	if _, ok := d.handlers[eventName]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, eventName)
	}
	d.handlers[eventName] = h
	return nil
}

// EventNames lists the registered event names.
func (d *Dispatcher) EventNames() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Handle implements messaging.Handler.
//
// Malformed messages and ProjectionApply failures are rejected (dead-lettered);
// store failures and events that overtook their predecessor are requeued. The marker is written after the handler, so a
// crash in between replays the handler, which is safe because handlers are idempotent.
func (d *Dispatcher) Handle(ctx context.Context, delivery messaging.Delivery) messaging.Disposition {
	evt, err := messaging.Decode(delivery.Body)
	if err != nil {
		logger.Error("Rejecting undecodable message",
			zap.String("message_id", delivery.ID),
			zap.String("routing_key", delivery.RoutingKey),
			zap.Error(err),
		)
		return messaging.Reject
	}
	log := logger.WithEvent(evt).With(zap.Int("attempt", delivery.Attempt))

	h, ok := d.handlers[evt.EventName()]
	if !ok {
		log.Debug("No projection for event")
		return messaging.Ack
	}

	done, err := d.markers.IsProcessed(ctx, evt.EventID())
	if err != nil {
		log.Warn("Processed-event lookup failed", zap.Error(err))
		return messaging.Requeue
	}
	if done {
		log.Debug("Event already applied, skipping")
		return messaging.Ack
	}

	if err := h(ctx, evt); err != nil {
		if errors.Is(err, shared.ErrProjectionApply) {
			log.Error("Projection rejected event", zap.Error(err))
			return messaging.Reject
		}
		if errors.Is(err, readstore.ErrOutOfOrder) {
			// an earlier event of this aggregate is still on its way
			log.Info("Event ahead of read model, requeueing", zap.Error(err))
			return messaging.Requeue
		}
		log.Warn("Projection failed, requeueing", zap.Error(err))
		return messaging.Requeue
	}

	if err := d.markers.MarkProcessed(ctx, evt.EventID(), evt.EventName(), d.now()); err != nil {
		log.Warn("Failed to record processed event", zap.Error(err))
		return messaging.Requeue
	}
	log.Debug("Event projected")
	return messaging.Ack
}

var _ messaging.Handler = (*Dispatcher)(nil)

func stampOf(evt shared.DomainEvent) readstore.Stamp {
	return readstore.Stamp{Version: evt.Metadata().AggregateVersion, At: evt.OccurredOn()}
}

// versionOf is the version a created document starts at.
func versionOf(evt shared.DomainEvent) int {
	if v := evt.Metadata().AggregateVersion; v > 0 {
		return v
	}
	return 1
}

func requireID(evt shared.DomainEvent, field, value string) error {
	if value == "" {
		return shared.NewProjectionApplyError(evt.EventName(), field+" is missing")
	}
	return nil
}
