package session

import (
	"testing"

	"github.com/google/uuid"
)

func TestKeyForPairSymmetric(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	if KeyForPair(a, b) != KeyForPair(b, a) {
		t.Fatal("key depends on argument order")
	}
	if KeyForPair(a, b) != KeyForPair(a, b) {
		t.Fatal("key not deterministic")
	}
}

func TestKeyForPairDistinctPairs(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	if KeyForPair(a, b) == KeyForPair(a, c) {
		t.Fatal("distinct pairs collided")
	}
}

func TestKeyForPairIsValidUUID(t *testing.T) {
	key := KeyForPair(uuid.New(), uuid.New())
	if _, err := uuid.Parse(key); err != nil {
		t.Fatalf("key %q not a uuid: %v", key, err)
	}
}
