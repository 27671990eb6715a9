package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"library/domain/shared"
)

type shelved struct {
	BookID string `json:"bookId"`
	Shelf  string `json:"shelf"`
}

func (shelved) EventName() string { return "library.book.shelved" }

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"library.book.*", "library.book.created", true},
		{"library.book.*", "library.book", false},
		{"library.book.*", "library.book.quote.added", false},
		{"library.#", "library.book.quote.added", true},
		{"library.#", "library", true},
		{"#", "anything.at.all", true},
		{"library.*.created", "library.author.created", true},
		{"library.*.created", "library.author.renamed", false},
		{"library.#.deleted", "library.book.deleted", true},
		{"library.author.*", "library.book.created", false},
	}
	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.key); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestEncodeWireFormat(t *testing.T) {
	evt := shared.NewEvent("b1", shelved{BookID: "b1", Shelf: "sci-fi"}).
		WithCorrelation("req-1", "").
		WithAggregateVersion(2)

	body, err := Encode(evt)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"eventId", "eventName", "payload", "occurredAt", "metadata"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	md := raw["metadata"].(map[string]any)
	if md["eventId"] != evt.EventID() || md["correlationId"] != "req-1" {
		t.Errorf("metadata = %v", md)
	}
	if _, ok := md["causationId"]; ok {
		t.Error("empty causationId should be omitted")
	}

	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.EventID() != evt.EventID() || !decoded.OccurredOn().Equal(evt.OccurredOn()) {
		t.Errorf("decoded = %s@%v, want %s@%v", decoded.EventID(), decoded.OccurredOn(), evt.EventID(), evt.OccurredOn())
	}
	if decoded.Metadata().AggregateVersion != 2 || decoded.GetAggregateID() != "b1" {
		t.Errorf("decoded metadata = %+v", decoded.Metadata())
	}
}

func TestDecodeMalformedIsProjectionApplyFailure(t *testing.T) {
	bodies := map[string]string{
		"not json":       "{oops",
		"no occurredAt":  `{"eventId":"e1","eventName":"library.book.created","payload":{},"metadata":{"aggregateId":"b1"}}`,
		"array payload":  `{"eventId":"e1","eventName":"library.book.created","payload":[],"occurredAt":"2024-01-01T00:00:00.000Z","metadata":{"aggregateId":"b1"}}`,
		"no aggregate id anywhere": `{"eventId":"e1","eventName":"library.book.created","payload":{"title":"Solaris"},"occurredAt":"2024-01-01T00:00:00.000Z","metadata":{}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(body)); !errors.Is(err, shared.ErrProjectionApply) {
				t.Errorf("Decode() error = %v, want ErrProjectionApply", err)
			}
		})
	}
}

// producers that only know the base envelope send no aggregateId/aggregateVersion
func TestDecodeBaseEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		aggregateID string
	}{
		{
			name: "book event",
			body: `{"eventId":"e-1","eventName":"library.book.created",` +
				`"payload":{"bookId":"b-1","authorId":"a-1","title":"Solaris","pageCount":204,"status":"TO_READ"},` +
				`"occurredAt":"2024-05-01T10:00:00.000Z",` +
				`"metadata":{"eventId":"e-1","occurredAt":"2024-05-01T10:00:00.000Z","correlationId":"c-1"}}`,
			aggregateID: "b-1",
		},
		{
			name: "author event",
			body: `{"eventId":"e-2","eventName":"library.author.renamed",` +
				`"payload":{"authorId":"a-1","name":"Stanislaw Lem"},` +
				`"occurredAt":"2024-05-01T10:00:01.000Z",` +
				`"metadata":{"eventId":"e-2","occurredAt":"2024-05-01T10:00:01.000Z","userId":"reader-7"}}`,
			aggregateID: "a-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode([]byte(tt.body))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if evt.GetAggregateID() != tt.aggregateID {
				t.Errorf("aggregate id = %q, want %q", evt.GetAggregateID(), tt.aggregateID)
			}
			if evt.Metadata().AggregateVersion != 0 {
				t.Errorf("aggregate version = %d, want 0 (unordered)", evt.Metadata().AggregateVersion)
			}
		})
	}

	evt, _ := Decode([]byte(tests[0].body))
	if evt.EventID() != "e-1" || evt.Metadata().CorrelationID != "c-1" {
		t.Errorf("event = %s, metadata = %+v", evt.EventID(), evt.Metadata())
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !evt.OccurredOn().Equal(want) {
		t.Errorf("occurredAt = %v, want %v", evt.OccurredOn(), want)
	}
}

type recordingTransport struct {
	keys   []string
	failOn int
}

func (r *recordingTransport) Publish(ctx context.Context, routingKey string, body []byte) error {
	if r.failOn > 0 && len(r.keys)+1 == r.failOn {
		return errors.New("connection refused")
	}
	r.keys = append(r.keys, routingKey)
	return nil
}

func TestPublishAllStopsAtFirstFailure(t *testing.T) {
	transport := &recordingTransport{failOn: 2}
	p := NewEventPublisher(transport, 0)

	events := []shared.DomainEvent{
		shared.NewEvent("b1", shelved{BookID: "b1", Shelf: "a"}),
		shared.NewEvent("b1", shelved{BookID: "b1", Shelf: "b"}),
		shared.NewEvent("b1", shelved{BookID: "b1", Shelf: "c"}),
	}
	n, err := p.PublishAll(context.Background(), events)
	if !errors.Is(err, shared.ErrPublish) {
		t.Fatalf("PublishAll() error = %v, want ErrPublish", err)
	}
	if n != 1 || len(transport.keys) != 1 {
		t.Errorf("PublishAll() = %d, transport saw %d; want 1, 1", n, len(transport.keys))
	}
	if transport.keys[0] != "library.book.shelved" {
		t.Errorf("routing key = %s", transport.keys[0])
	}
}
