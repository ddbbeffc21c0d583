package revocation

import "testing"

func TestBloomFilterAddAndContains(t *testing.T) {
	b := NewBloomFilter(1000, 0.001)

	if b.MaybeContains("cap-1") {
		t.Fatal("expected fresh filter to not contain cap-1")
	}

	b.Add("cap-1")
	if !b.MaybeContains("cap-1") {
		t.Fatal("expected filter to contain cap-1 after Add")
	}
}

func TestBloomFilterRebuildReplacesContents(t *testing.T) {
	b := NewBloomFilter(1000, 0.001)
	b.Add("cap-1")
	b.Add("cap-2")

	b.Rebuild([]string{"cap-3"})

	if b.MaybeContains("cap-1") {
		t.Fatal("expected cap-1 to be gone after rebuild")
	}
	if !b.MaybeContains("cap-3") {
		t.Fatal("expected cap-3 to be present after rebuild")
	}
}
