package chm

import "iter"

// Iterator walks a Map without blocking updates. It is weakly consistent:
// every mapping present from creation to exhaustion is returned exactly
// once, and mappings added or removed meanwhile may or may not be. An
// Iterator must not be shared between goroutines.
//
//	for it := m.Iter(); it.Next(); {
//		if it.Value() < 0 {
//			it.Remove()
//		}
//	}
type Iterator[K comparable, V any] struct {
	m       *Map[K, V]
	t       *traverser[K, V]
	key     K
	val     V
	current bool
}

// Iter returns an iterator positioned before the first mapping.
func (m *Map[K, V]) Iter() *Iterator[K, V] {
	m.init()
	it := &Iterator[K, V]{m: m}
	if tab := m.table.Load(); tab != nil {
		it.t = newTraverser(tab, len(tab.bins), 0, len(tab.bins))
	}
	return it
}

// Next advances to the next mapping and reports whether there is one.
func (it *Iterator[K, V]) Next() bool {
	if it.t == nil {
		it.current = false
		return false
	}
	e := it.t.advance()
	if e == nil {
		it.t = nil
		it.current = false
		return false
	}
	it.key, it.val, it.current = e.key, *e.val.Load(), true
	return true
}

// Key returns the key of the current mapping.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value of the current mapping as it was when Next
// reached it.
func (it *Iterator[K, V]) Value() V {
	return it.val
}

// Remove deletes the current key from the map. It returns false if there is
// no current mapping, or if the key was removed already.
func (it *Iterator[K, V]) Remove() bool {
	if !it.current {
		return false
	}
	it.current = false
	_, ok := it.m.replaceNode(it.key, nil, nil)
	return ok
}

// Range calls yield for each mapping until it returns false. It has the
// guarantees of an Iterator.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	m.init()
	tab := m.table.Load()
	if tab == nil {
		return
	}
	t := newTraverser(tab, len(tab.bins), 0, len(tab.bins))
	for e := t.advance(); e != nil; e = t.advance() {
		if !yield(e.key, *e.val.Load()) {
			return
		}
	}
}

// RangeKeys to iterate over all keys
func (m *Map[K, V]) RangeKeys(yield func(key K) bool) {
	m.Range(func(k K, _ V) bool {
		return yield(k)
	})
}

// RangeValues to iterate over all values
func (m *Map[K, V]) RangeValues(yield func(value V) bool) {
	m.Range(func(_ K, v V) bool {
		return yield(v)
	})
}

// All returns an iterator over all mappings.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Keys is the iterator version for iterating over all keys.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return m.RangeKeys
}

// Values is the iterator version for iterating over all values.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return m.RangeValues
}
