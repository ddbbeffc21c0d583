package relaycrypto

import "testing"

func TestPubKeyHashLength(t *testing.T) {
	h := PubKeyHash([]byte("some-public-key-bytes"))
	if len(h) != PubKeyHashLen*2 {
		t.Fatalf("expected %d hex chars, got %d (%q)", PubKeyHashLen*2, len(h), h)
	}
}

func TestPubKeyHashDeterministic(t *testing.T) {
	key := []byte("same-key-bytes")
	if PubKeyHash(key) != PubKeyHash(key) {
		t.Fatal("expected PubKeyHash to be deterministic")
	}
}

func TestPubKeyHashDiffersByInput(t *testing.T) {
	if PubKeyHash([]byte("a")) == PubKeyHash([]byte("b")) {
		t.Fatal("expected different inputs to hash differently")
	}
}
