package identifier

import (
	"crypto/ed25519"
	"testing"
)

func TestFromPublicKeyRoundTrip(t *testing.T) {
	public, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id := FromPublicKey(public)
	if !id.IsValid() {
		t.Fatalf("derived identifier should be valid")
	}
	external := id.String()
	parsed, err := Parse(external)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: got %v want %v", parsed, id)
	}
}

func TestZeroValueInvalid(t *testing.T) {
	var id ID
	if id.IsValid() {
		t.Fatalf("zero identifier must be invalid")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-an-identifier"); err == nil {
		t.Fatalf("expected error for malformed external identifier")
	}
	if _, err := Parse(externalPrefix + "!!!not-base58!!!"); err == nil {
		t.Fatalf("expected error for invalid base58 payload")
	}
}
