package waffle

import "testing"

func TestInvalidIDIsZeroAndInvalid(t *testing.T) {
	if InvalidID.Valid() {
		t.Error("InvalidID should never be valid")
	}
	if InvalidID.Uint64() != 0 {
		t.Errorf("InvalidID.Uint64() = %d, want 0", InvalidID.Uint64())
	}
}

func TestIdFromUint64RoundTrips(t *testing.T) {
	id := idFromUint64(12345)
	if !id.Valid() {
		t.Error("a nonzero id should be valid")
	}
	if id.Uint64() != 12345 {
		t.Errorf("Uint64() = %d, want 12345", id.Uint64())
	}
}

func TestCauseWrapsID(t *testing.T) {
	id := idFromUint64(7)
	c := Cause(id)
	if c.id != id {
		t.Errorf("Cause(%v).id = %v, want %v", id, c.id, id)
	}
}

func TestHashStringIsDeterministicAndSensitiveToInput(t *testing.T) {
	if HashString("alpha") != HashString("alpha") {
		t.Error("HashString must be deterministic for the same input")
	}
	if HashString("alpha") == HashString("beta") {
		t.Error("distinct inputs should (overwhelmingly likely) hash differently")
	}
	// The FNV-1a offset basis is nonzero, so an empty string does not hash
	// to 0 — only Id's zero value and the interner's root entry use 0 as a
	// sentinel. HashString itself applies no special-casing to "".
	if HashString("") == 0 {
		t.Error(`HashString("") should be the FNV-1a offset basis, not 0`)
	}
}
