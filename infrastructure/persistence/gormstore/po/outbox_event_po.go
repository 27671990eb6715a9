package po

import (
	"time"

	"library/domain/shared"
	"library/infrastructure/messaging"
)

// OutboxEventPO Outbox event persistence object
// Written in the same transaction as the aggregate row. The primary key is the
// event id, so the relay and the command pipeline can never publish two
// different ids for one fact.
type OutboxEventPO struct {
	ID               string     `gorm:"primaryKey;size:64"`
	AggregateID      string     `gorm:"size:64;index;not null"`
	AggregateType    string     `gorm:"size:32;not null"`
	AggregateVersion int        `gorm:"not null;default:0"`
	EventType        string     `gorm:"size:100;index;not null"`     // routing key, e.g. "library.book.created"
	Payload          string     `gorm:"type:text;not null"`          // wire envelope, republished byte for byte
	Status           string     `gorm:"size:20;index:idx_outbox_due,priority:1;default:PENDING;not null"` // PENDING, PROCESSING, PUBLISHED, FAILED
	RetryCount       int        `gorm:"default:0;not null"`
	NextAttemptAt    time.Time  `gorm:"index:idx_outbox_due,priority:2;not null"`
	LastError        string     `gorm:"size:1000"`
	CreatedAt        time.Time  `gorm:"index;not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
	PublishedAt      *time.Time
}

func (OutboxEventPO) TableName() string {
	return "outbox_events"
}

// EventStatus Outbox event status enum
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusPublished  EventStatus = "PUBLISHED"
	EventStatusFailed     EventStatus = "FAILED"
)

// FromDomainEvent Convert domain event to outbox persistence object
func FromDomainEvent(event shared.DomainEvent, aggregateType string) (*OutboxEventPO, error) {
	body, err := messaging.Encode(event)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &OutboxEventPO{
		ID:               event.EventID(),
		AggregateID:      event.GetAggregateID(),
		AggregateType:    aggregateType,
		AggregateVersion: event.Metadata().AggregateVersion,
		EventType:        event.EventName(),
		Payload:          string(body),
		Status:           string(EventStatusPending),
		NextAttemptAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
