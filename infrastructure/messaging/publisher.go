package messaging

import (
	"context"
	"time"

	"library/domain/shared"
	"library/pkg/logger"

	"go.uber.org/zap"
)

// Transport is a topic broker connection. Implementations must only return nil
// once the broker has durably accepted the message.
type Transport interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Disposition tells the transport what to do with a delivery.
type Disposition int

const (
	// Ack removes the message.
	Ack Disposition = iota
	// Requeue leaves the message for redelivery.
	Requeue
	// Reject dead-letters the message without redelivery.
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Delivery is one message handed to a consumer.
type Delivery struct {
	ID         string
	RoutingKey string
	Body       []byte
	// Attempt starts at 1 and grows on every redelivery seen by this consumer group.
	Attempt int
}

// Handler consumes deliveries one at a time.
type Handler interface {
	Handle(ctx context.Context, d Delivery) Disposition
}

type HandlerFunc func(ctx context.Context, d Delivery) Disposition

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) Disposition { return f(ctx, d) }

// EventPublisher implements shared.EventPublisher on top of a Transport.
// Routing key = event name.
type EventPublisher struct {
	transport Transport
	timeout   time.Duration
}

func NewEventPublisher(transport Transport, timeout time.Duration) *EventPublisher {
	return &EventPublisher{transport: transport, timeout: timeout}
}

// Publish encodes and sends one event. Any failure comes back as a PublishFailure.
func (p *EventPublisher) Publish(ctx context.Context, evt shared.DomainEvent) error {
	body, err := Encode(evt)
	if err != nil {
		return shared.NewPublishError(evt.EventName(), err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.transport.Publish(ctx, evt.EventName(), body); err != nil {
		logger.WithEvent(evt).Warn("Event publish failed", zap.Error(err))
		return shared.NewPublishError(evt.EventName(), err)
	}
	logger.WithEvent(evt).Debug("Event published")
	return nil
}

// PublishAll publishes sequentially and stops at the first failure, so a later
// event of the same aggregate never overtakes an earlier one. It returns how
// many events the broker accepted.
func (p *EventPublisher) PublishAll(ctx context.Context, events []shared.DomainEvent) (int, error) {
	for i, evt := range events {
		if err := p.Publish(ctx, evt); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

var _ shared.EventPublisher = (*EventPublisher)(nil)
