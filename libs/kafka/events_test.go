package kafka

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("listings.matched", 1, "corr-1")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := uuid.Parse(env.EventID); err != nil {
		t.Fatalf("event id %q not a uuid: %v", env.EventID, err)
	}
	if env.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q", env.CorrelationID)
	}
}

func TestNewEnvelopeRejectsBadInput(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatal("empty event type accepted")
	}
	if _, err := NewEnvelope("listings.matched", 0, ""); err == nil {
		t.Fatal("zero version accepted")
	}
	if _, err := NewEnvelopeWithID("", "listings.matched", 1, ""); err == nil {
		t.Fatal("empty event id accepted")
	}
}

func TestDeterministicEventID(t *testing.T) {
	a := DeterministicEventID("listings.matched", "session-key-1")
	b := DeterministicEventID("listings.matched", "session-key-1")
	if a != b {
		t.Fatal("same parts produced different ids")
	}

	c := DeterministicEventID("listings.matched", "session-key-2")
	if a == c {
		t.Fatal("different parts collided")
	}

	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("id %q not a uuid: %v", a, err)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	env, err := NewEnvelope("listings.matched", 1, "")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	bad := env
	bad.EventID = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("missing event id passed validation")
	}

	bad = env
	bad.Timestamp = time.Time{}
	if err := bad.Validate(); err == nil {
		t.Fatal("zero timestamp passed validation")
	}
}
