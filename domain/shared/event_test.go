package shared

import (
	"errors"
	"testing"
)

type sampleCreated struct {
	Name string `json:"name"`
}

func (sampleCreated) EventName() string { return "library.sample.created" }

func TestWithCorrelationReturnsNewEvent(t *testing.T) {
	original := NewEvent("agg-1", sampleCreated{Name: "x"})

	correlated := original.WithCorrelation("req-1", "cause-1")

	if original.Metadata().CorrelationID != "" {
		t.Fatal("original event was mutated")
	}
	if correlated.Metadata().CorrelationID != "req-1" || correlated.Metadata().CausationID != "cause-1" {
		t.Errorf("metadata = %+v", correlated.Metadata())
	}
	if correlated.EventID() != original.EventID() {
		t.Error("event id changed on re-emission")
	}
}

func TestPayloadIsFrozen(t *testing.T) {
	evt := NewEvent("agg-1", sampleCreated{Name: "x"})

	p := evt.Payload()
	p[0] = 'X'

	if string(evt.Payload()) != `{"name":"x"}` {
		t.Errorf("payload = %s, want unchanged", evt.Payload())
	}
}

func TestValidateEvent(t *testing.T) {
	if err := ValidateEvent(NewEvent("agg-1", sampleCreated{})); err != nil {
		t.Fatalf("ValidateEvent() error = %v", err)
	}
	if err := ValidateEvent(NewEvent("", sampleCreated{})); err == nil {
		t.Error("expected error for empty aggregate id")
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	evt := RebuildEvent(EventSnapshot{ID: "e1", Name: "library.sample.created", AggregateID: "a", Payload: []byte("{")})
	var dst sampleCreated
	if err := DecodePayload(evt, &dst); !errors.Is(err, ErrProjectionApply) {
		t.Fatalf("error = %v, want ErrProjectionApply", err)
	}
}

func TestDomainErrorUnwrapsSentinelAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewPublishError("library.sample.created", cause)

	if !errors.Is(err, ErrPublish) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	var s Stacker
	if !errors.As(err, &s) || len(s.Stack()) == 0 {
		t.Error("expected a captured stack")
	}
}
