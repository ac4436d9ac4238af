package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

type mapSlot[V any] struct {
	pos   uint64
	value V
}

// BoundedMap is a fixed-capacity, insertion-ordered map with FIFO
// eviction and stable positional indices (spec §4.1), used for the
// short-hash -> transaction table in ABBREV_HASH mode.
type BoundedMap[K comparable, V any] struct {
	lru      *lru.LRU[K, mapSlot[V]]
	posToKey map[uint64]K
	next     uint64
}

// NewBoundedMap creates a map with a fixed capacity. Capacity must be >= 1.
func NewBoundedMap[K comparable, V any](capacity int) *BoundedMap[K, V] {
	m := &BoundedMap[K, V]{posToKey: make(map[uint64]K, capacity)}
	l, err := lru.NewLRU[K, mapSlot[V]](capacity, func(key K, slot mapSlot[V]) {
		delete(m.posToKey, slot.pos)
	})
	if err != nil {
		panic("cache: NewBoundedMap: " + err.Error())
	}
	m.lru = l
	return m
}

// Contains reports whether key is currently present.
func (m *BoundedMap[K, V]) Contains(key K) bool {
	return m.lru.Contains(key)
}

// Get returns the value for key, or ok=false if absent.
func (m *BoundedMap[K, V]) Get(key K) (value V, ok bool) {
	slot, ok := m.lru.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return slot.value, true
}

// Add inserts key/value, evicting the oldest entry if the map is full.
// It is a no-op returning false if key is already present (spec §4.1).
func (m *BoundedMap[K, V]) Add(key K, value V) bool {
	if m.lru.Contains(key) {
		return false
	}
	pos := m.next
	m.next++
	m.posToKey[pos] = key
	m.lru.Add(key, mapSlot[V]{pos: pos, value: value})
	return true
}

// Remove deletes key if present, returning false if it was absent.
func (m *BoundedMap[K, V]) Remove(key K) bool {
	slot, ok := m.lru.Peek(key)
	if !ok {
		return false
	}
	m.lru.Remove(key)
	delete(m.posToKey, slot.pos)
	return true
}

// IndexOf returns key's stable position, or ok=false if absent.
func (m *BoundedMap[K, V]) IndexOf(key K) (pos uint64, ok bool) {
	slot, ok := m.lru.Peek(key)
	if !ok {
		return 0, false
	}
	return slot.pos, true
}

// AtIndex returns the value at position pos, or ok=false if that
// position has been evicted (or never existed).
func (m *BoundedMap[K, V]) AtIndex(pos uint64) (value V, ok bool) {
	key, ok := m.posToKey[pos]
	if !ok {
		var zero V
		return zero, false
	}
	slot, ok := m.lru.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return slot.value, true
}

// RemoveAtIndex deletes and returns the value at position pos, or
// ok=false if that position has been evicted (or never existed). This is
// the CACHE_ID receive path's "consumed (removed) on use" (spec §4.4).
func (m *BoundedMap[K, V]) RemoveAtIndex(pos uint64) (value V, ok bool) {
	key, ok := m.posToKey[pos]
	if !ok {
		var zero V
		return zero, false
	}
	value, ok = m.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	m.lru.Remove(key)
	delete(m.posToKey, pos)
	return value, true
}

// Len returns the number of entries currently present.
func (m *BoundedMap[K, V]) Len() int {
	return m.lru.Len()
}
