package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DomainEvent 领域事件
// 事件一旦创建即不可变，WithXxx 方法返回新对象
type DomainEvent interface {
	EventID() string
	EventName() string
	OccurredOn() time.Time
	GetAggregateID() string
	// Payload returns a copy of the frozen JSON payload.
	Payload() []byte
	Metadata() Metadata
	WithCorrelation(correlationID, causationID string) DomainEvent
	WithAggregateVersion(version int) DomainEvent
	WithUser(userID string) DomainEvent
}

// Payload is implemented by every event body. The name doubles as the routing key.
type Payload interface {
	EventName() string
}

// Metadata carries tracing data next to the event body.
type Metadata struct {
	CorrelationID    string
	CausationID      string
	UserID           string
	AggregateVersion int
}

// Event is the only DomainEvent implementation. Fields are private so nothing
// outside this package can mutate an event after construction.
type Event struct {
	id          string
	name        string
	aggregateID string
	occurredAt  time.Time
	payload     []byte
	metadata    Metadata
}

// NewEvent serializes p once and freezes it. Payload types are plain structs owned by
// the domain packages, so a marshal failure is a programming error.
func NewEvent(aggregateID string, p Payload) *Event {
	raw, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("shared: payload %s is not serializable: %v", p.EventName(), err))
	}
	return &Event{
		id:          uuid.Must(uuid.NewV7()).String(),
		name:        p.EventName(),
		aggregateID: aggregateID,
		occurredAt:  time.Now().UTC().Truncate(time.Millisecond),
		payload:     raw,
	}
}

// EventSnapshot is the trusted input for RebuildEvent (wire decoding, outbox rows).
type EventSnapshot struct {
	ID          string
	Name        string
	AggregateID string
	OccurredAt  time.Time
	Payload     []byte
	Metadata    Metadata
}

// RebuildEvent reconstructs an event without minting a new identifier.
func RebuildEvent(s EventSnapshot) *Event {
	payload := make([]byte, len(s.Payload))
	copy(payload, s.Payload)
	return &Event{
		id:          s.ID,
		name:        s.Name,
		aggregateID: s.AggregateID,
		occurredAt:  s.OccurredAt,
		payload:     payload,
		metadata:    s.Metadata,
	}
}

func (e *Event) EventID() string        { return e.id }
func (e *Event) EventName() string      { return e.name }
func (e *Event) OccurredOn() time.Time  { return e.occurredAt }
func (e *Event) GetAggregateID() string { return e.aggregateID }
func (e *Event) Metadata() Metadata     { return e.metadata }

func (e *Event) Payload() []byte {
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out
}

// WithCorrelation returns a copy carrying the given trace identifiers.
func (e *Event) WithCorrelation(correlationID, causationID string) DomainEvent {
	c := e.clone()
	c.metadata.CorrelationID = correlationID
	c.metadata.CausationID = causationID
	return c
}

// WithAggregateVersion returns a copy stamped with the version the event produced.
func (e *Event) WithAggregateVersion(version int) DomainEvent {
	c := e.clone()
	c.metadata.AggregateVersion = version
	return c
}

// WithUser returns a copy attributed to userID.
func (e *Event) WithUser(userID string) DomainEvent {
	c := e.clone()
	c.metadata.UserID = userID
	return c
}

func (e *Event) clone() *Event {
	c := *e
	c.payload = e.Payload()
	return &c
}

// DecodePayload unmarshals the event body into dst.
func DecodePayload(e DomainEvent, dst any) error {
	if err := json.Unmarshal(e.Payload(), dst); err != nil {
		return NewProjectionApplyError(e.EventName(), fmt.Sprintf("malformed payload: %v", err))
	}
	return nil
}

// ValidateEvent checks the fields every event on the wire must have.
func ValidateEvent(event DomainEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.EventID() == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if event.EventName() == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if event.GetAggregateID() == "" {
		return fmt.Errorf("aggregate ID cannot be empty")
	}
	if event.OccurredOn().IsZero() {
		return fmt.Errorf("occurred on time cannot be zero")
	}
	return nil
}

var _ DomainEvent = (*Event)(nil)
