// Package pairmap implements a map keyed by unordered pairs of ints, used
// throughout the core to associate a single value with a link between two
// peers regardless of which side asserts it first.
package pairmap

import "sort"

// Key is the canonical (lo, hi) form of an unordered pair (a, b), a != b.
type Key struct {
	Lo int
	Hi int
}

func key(a, b int) Key {
	if a > b {
		a, b = b, a
	}
	return Key{Lo: a, Hi: b}
}

// Map associates a value of type V with unordered pairs of peer ids.
// It is not safe for concurrent use; callers that need concurrency guard
// it with their own mutex.
type Map[V any] struct {
	values map[Key]V
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{values: make(map[Key]V)}
}

// Assert returns the value stored for (a, b), creating it via gen if absent.
// gen is only called when no value is already stored, so Assert is
// idempotent: Assert(a, b, gen) followed by Assert(b, a, gen2) returns the
// value from the first call regardless of argument order.
func (m *Map[V]) Assert(a, b int, gen func() V) V {
	k := key(a, b)
	if v, ok := m.values[k]; ok {
		return v
	}
	v := gen()
	m.values[k] = v
	return v
}

// Get returns the value stored for (a, b) and whether it was present.
func (m *Map[V]) Get(a, b int) (V, bool) {
	v, ok := m.values[key(a, b)]
	return v, ok
}

// MustGet returns the value stored for (a, b), panicking if absent. It is
// only appropriate where the caller has already established the pair exists
// (e.g. iterating a Deployment's own edge list).
func (m *Map[V]) MustGet(a, b int) V {
	v, ok := m.Get(a, b)
	if !ok {
		panic("pairmap: no value for pair")
	}
	return v
}

// Set unconditionally stores v for (a, b).
func (m *Map[V]) Set(a, b int, v V) {
	m.values[key(a, b)] = v
}

// Delete removes the value stored for (a, b), if any.
func (m *Map[V]) Delete(a, b int) {
	delete(m.values, key(a, b))
}

// PurgePeer removes every pair involving peer.
func (m *Map[V]) PurgePeer(peer int) {
	for k := range m.values {
		if k.Lo == peer || k.Hi == peer {
			delete(m.values, k)
		}
	}
}

// Len returns the number of stored pairs.
func (m *Map[V]) Len() int {
	return len(m.values)
}

// Keys returns the stored pairs in a deterministic order (sorted by Lo then
// Hi), useful for serialization and tests.
func (m *Map[V]) Keys() []Key {
	keys := make([]Key, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lo != keys[j].Lo {
			return keys[i].Lo < keys[j].Lo
		}
		return keys[i].Hi < keys[j].Hi
	})
	return keys
}

// Pick returns whichever of (va, vb) corresponds to target within the pair
// (a, b), using the canonical ordering: va is the value for the lower peer
// id, vb for the higher one. This mirrors how a value generated "for a
// looking at b" needs to be picked back out from the perspective of either
// side of the pair.
func Pick[V any](a, b, target int, va, vb V) V {
	if key(a, b).Lo == target {
		return va
	}
	return vb
}
