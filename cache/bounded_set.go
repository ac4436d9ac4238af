// Package cache implements the bounded, insertion-ordered containers the
// relay engine uses for its per-connection transaction and block caches
// (spec §3, §4.1): fixed capacity, FIFO eviction, and stable positional
// indices that survive eviction of older entries without ever being
// reused.
//
// Neither container is safe for concurrent use on its own: synchronization
// is the caller's job (spec §5 assigns each cache to either the
// single-threaded receive path or a mutex-guarded send path; the
// container itself stays simple).
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// BoundedSet is a fixed-capacity, insertion-ordered set with FIFO
// eviction and stable positional indices (spec §4.1). It is backed by
// hashicorp/golang-lru's simplelru.LRU: since BoundedSet only ever calls
// Add, Contains, Remove and the non-promoting Peek/Keys (never Get), the
// library's recency list never reorders, so its "least recently used"
// eviction is exactly the FIFO eviction the spec requires.
type BoundedSet[K comparable] struct {
	lru      *lru.LRU[K, uint64]
	posToKey map[uint64]K
	next     uint64
}

// NewBoundedSet creates a set with a fixed capacity. Capacity must be >= 1.
func NewBoundedSet[K comparable](capacity int) *BoundedSet[K] {
	s := &BoundedSet[K]{posToKey: make(map[uint64]K, capacity)}
	l, err := lru.NewLRU[K, uint64](capacity, func(key K, pos uint64) {
		delete(s.posToKey, pos)
	})
	if err != nil {
		// Only returns an error for capacity <= 0, which is a caller bug.
		panic("cache: NewBoundedSet: " + err.Error())
	}
	s.lru = l
	return s
}

// Contains reports whether key is currently present.
func (s *BoundedSet[K]) Contains(key K) bool {
	return s.lru.Contains(key)
}

// Add inserts key, evicting the oldest entry if the set is full. It is a
// no-op returning false if key is already present (spec §4.1).
func (s *BoundedSet[K]) Add(key K) bool {
	if s.lru.Contains(key) {
		return false
	}
	pos := s.next
	s.next++
	s.posToKey[pos] = key
	s.lru.Add(key, pos)
	return true
}

// Remove deletes key if present, returning false if it was absent.
func (s *BoundedSet[K]) Remove(key K) bool {
	pos, ok := s.lru.Peek(key)
	if !ok {
		return false
	}
	s.lru.Remove(key)
	delete(s.posToKey, pos)
	return true
}

// IndexOf returns key's stable position, or ok=false if absent.
func (s *BoundedSet[K]) IndexOf(key K) (pos uint64, ok bool) {
	return s.lru.Peek(key)
}

// AtIndex returns the key at position pos, or ok=false if that position
// has been evicted (or never existed).
func (s *BoundedSet[K]) AtIndex(pos uint64) (key K, ok bool) {
	key, ok = s.posToKey[pos]
	return key, ok
}

// Len returns the number of entries currently present.
func (s *BoundedSet[K]) Len() int {
	return s.lru.Len()
}
