/*
Package messaging 事件总线适配层

线上格式（camelCase，与既有消费者兼容）:

	{ eventId, eventName, payload, occurredAt,
	  metadata: { eventId, occurredAt, correlationId?, causationId?, userId?, aggregateId?, aggregateVersion? } }

路由键 = eventName，订阅方按 `library.book.*` / `library.#` 模式匹配。
aggregateId 和 aggregateVersion 是追加的可选字段，旧消费者忽略即可；
解码时缺少 aggregateId 就从 payload 的 `<type>Id` 字段取 (library.book.* 取 bookId)。
*/
package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"library/domain/shared"
)

// ISO-8601 with millisecond precision, always UTC ("Z")
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type envelope struct {
	EventID    string          `json:"eventId"`
	EventName  string          `json:"eventName"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt string          `json:"occurredAt"`
	Metadata   wireMetadata    `json:"metadata"`
}

type wireMetadata struct {
	EventID          string `json:"eventId"`
	OccurredAt       string `json:"occurredAt"`
	CorrelationID    string `json:"correlationId,omitempty"`
	CausationID      string `json:"causationId,omitempty"`
	UserID           string `json:"userId,omitempty"`
	AggregateID      string `json:"aggregateId,omitempty"`
	AggregateVersion int    `json:"aggregateVersion,omitempty"`
}

// Encode serializes an event into its wire envelope.
func Encode(evt shared.DomainEvent) ([]byte, error) {
	if err := shared.ValidateEvent(evt); err != nil {
		return nil, fmt.Errorf("invalid domain event: %w", err)
	}
	occurredAt := evt.OccurredOn().UTC().Format(timeLayout)
	md := evt.Metadata()

	payload := json.RawMessage(evt.Payload())
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	return json.Marshal(envelope{
		EventID:    evt.EventID(),
		EventName:  evt.EventName(),
		Payload:    payload,
		OccurredAt: occurredAt,
		Metadata: wireMetadata{
			EventID:          evt.EventID(),
			OccurredAt:       occurredAt,
			CorrelationID:    md.CorrelationID,
			CausationID:      md.CausationID,
			UserID:           md.UserID,
			AggregateID:      evt.GetAggregateID(),
			AggregateVersion: md.AggregateVersion,
		},
	})
}

// Decode parses a wire envelope. Anything that cannot become a valid event is a
// ProjectionApply error so consumers reject it instead of requeueing forever.
func Decode(body []byte) (shared.DomainEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, shared.NewProjectionApplyError("unknown", fmt.Sprintf("malformed envelope: %v", err))
	}
	name := env.EventName
	if name == "" {
		name = "unknown"
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, env.OccurredAt)
	if err != nil {
		return nil, shared.NewProjectionApplyError(name, fmt.Sprintf("bad occurredAt %q", env.OccurredAt))
	}
	if len(env.Payload) == 0 || env.Payload[0] != '{' {
		return nil, shared.NewProjectionApplyError(name, "payload must be an object")
	}

	aggregateID := env.Metadata.AggregateID
	if aggregateID == "" {
		aggregateID = aggregateIDFromPayload(env.EventName, env.Payload)
	}

	evt := shared.RebuildEvent(shared.EventSnapshot{
		ID:          env.EventID,
		Name:        env.EventName,
		AggregateID: aggregateID,
		OccurredAt:  occurredAt.UTC(),
		Payload:     env.Payload,
		Metadata: shared.Metadata{
			CorrelationID:    env.Metadata.CorrelationID,
			CausationID:      env.Metadata.CausationID,
			UserID:           env.Metadata.UserID,
			AggregateVersion: env.Metadata.AggregateVersion,
		},
	})
	if err := shared.ValidateEvent(evt); err != nil {
		return nil, shared.NewProjectionApplyError(name, err.Error())
	}
	return evt, nil
}

// aggregateIDFromPayload reads "<type>Id" from the payload of "<context>.<type>.<action>".
func aggregateIDFromPayload(eventName string, payload json.RawMessage) string {
	parts := strings.Split(eventName, ".")
	if len(parts) < 3 || parts[1] == "" {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(fields[parts[1]+"Id"], &id); err != nil {
		return ""
	}
	return id
}
