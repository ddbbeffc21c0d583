// Package revocation implements the two-layer revocation index: a Bloom
// filter fast path, an advisory LRU cache, and the authoritative persistent
// table (spec.md §4.2).
package revocation

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter wraps a bits-and-blooms/bloom filter with a mutex, since the
// filter is mutated by revoke() and rebuilt wholesale after expiry sweeps
// while being read concurrently by every interactive check.
type BloomFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	n      uint
	fp     float64
}

// NewBloomFilter sizes a filter for n expected items at false-positive rate fp.
func NewBloomFilter(n uint, fp float64) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(n, fp),
		n:      n,
		fp:     fp,
	}
}

// MaybeContains returns false if the id is definitely absent (fast path, no
// I/O required by the caller), or true if it may be present and an
// authoritative check is needed.
func (b *BloomFilter) MaybeContains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(id)
}

// Add marks id as revoked in the filter.
func (b *BloomFilter) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.AddString(id)
}

// Rebuild replaces the filter's contents with exactly the given ids. Used
// after startup load and after the expiry sweep, since Bloom filters cannot
// selectively un-set a bit (spec.md: "rebuilt (not bit-cleared) after expiry sweep").
func (b *BloomFilter) Rebuild(ids []string) {
	fresh := bloom.NewWithEstimates(b.n, b.fp)
	for _, id := range ids {
		fresh.AddString(id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = fresh
}
