package chm

type ComputeOp int

const (
	// CancelOp signals to Compute to not do anything as a result
	// of executing the lambda. If the entry was not present in
	// the map, nothing happens, and if it was present, the
	// returned value is ignored.
	CancelOp ComputeOp = iota
	// UpdateOp signals to Compute to update the entry to the
	// value returned by the lambda, creating it if necessary.
	UpdateOp
	// DeleteOp signals to Compute to always delete the entry
	// from the map.
	DeleteOp
)

// ComputeIfAbsent returns the value of key if present. Otherwise it calls
// valueFn and, if ok is true, stores and returns the value it produced.
// The ok result reports whether key is mapped afterwards.
//
// valueFn runs at most once, while the bin of key is reserved. It must not
// update this map.
func (m *Map[K, V]) ComputeIfAbsent(
	key K,
	valueFn func(key K) (newValue V, ok bool),
) (actual V, ok bool) {
	m.init()
	m.checkKey("ComputeIfAbsent", &key)
	if tab := m.table.Load(); tab != nil {
		if e := m.find(tab, m.hash(&key), &key); e != nil {
			return *e.val.Load(), true
		}
	}
	return m.compute(key, func(old *V) (*V, ComputeOp) {
		if old != nil {
			return old, CancelOp
		}
		v, ok := valueFn(key)
		if !ok {
			return nil, CancelOp
		}
		m.checkValue("ComputeIfAbsent", &v)
		return &v, UpdateOp
	}, false)
}

// ComputeIfPresent calls valueFn with the current value of key, if any.
// The entry is updated to the value returned, or removed when keep is
// false. It returns the new value and whether key is still mapped.
func (m *Map[K, V]) ComputeIfPresent(
	key K,
	valueFn func(key K, oldValue V) (newValue V, keep bool),
) (actual V, ok bool) {
	m.init()
	m.checkKey("ComputeIfPresent", &key)
	actual, ok = m.compute(key, func(old *V) (*V, ComputeOp) {
		if old == nil {
			return nil, CancelOp
		}
		v, keep := valueFn(key, *old)
		if !keep {
			return nil, DeleteOp
		}
		m.checkValue("ComputeIfPresent", &v)
		return &v, UpdateOp
	}, true)
	if !ok {
		var zero V
		return zero, false
	}
	return actual, true
}

// Compute either sets the computed new value for the key,
// deletes the value for the key, or does nothing, based on
// the returned [ComputeOp]. When the op returned by valueFn
// is [UpdateOp], the value is updated to the new value. If
// it is [DeleteOp], the entry is removed from the map
// altogether. And finally, if the op is [CancelOp] then the
// entry is left as-is. The ok result indicates whether the
// entry is present in the map after the compute operation,
// except that a deleted entry returns its last value. The
// actual result contains the value of the map if a
// corresponding entry is present, or the zero value otherwise.
//
// This call locks the bin of key while the compute function
// is executed. Updates of other keys in the same bin are
// blocked until valueFn returns, and valueFn must not update
// this map.
func (m *Map[K, V]) Compute(
	key K,
	valueFn func(oldValue V, loaded bool) (newValue V, op ComputeOp),
) (actual V, ok bool) {
	m.init()
	m.checkKey("Compute", &key)
	return m.compute(key, func(old *V) (*V, ComputeOp) {
		var ov V
		if old != nil {
			ov = *old
		}
		v, op := valueFn(ov, old != nil)
		if op != UpdateOp {
			return nil, op
		}
		m.checkValue("Compute", &v)
		return &v, UpdateOp
	}, false)
}

// Merge stores value if key is absent. Otherwise it replaces the current
// value with mergeFn(current, value), or removes the entry when keep is
// false. It returns the resulting value and whether key is still mapped.
func (m *Map[K, V]) Merge(
	key K,
	value V,
	mergeFn func(oldValue, value V) (newValue V, keep bool),
) (actual V, ok bool) {
	m.init()
	m.checkKey("Merge", &key)
	m.checkValue("Merge", &value)
	actual, ok = m.compute(key, func(old *V) (*V, ComputeOp) {
		if old == nil {
			return &value, UpdateOp
		}
		v, keep := mergeFn(*old, value)
		if !keep {
			return nil, DeleteOp
		}
		m.checkValue("Merge", &v)
		return &v, UpdateOp
	}, false)
	if !ok {
		var zero V
		return zero, false
	}
	return actual, true
}

// compute runs fn on the current value of key, nil when absent, under the
// bin lock and applies the returned op. With presentOnly, empty bins are
// not reserved and fn is not called for them.
func (m *Map[K, V]) compute(
	key K,
	fn func(old *V) (*V, ComputeOp),
	presentOnly bool,
) (actual V, ok bool) {
	hash := m.hash(&key)
	var (
		delta    int64
		binCount int
		tab      = m.table.Load()
		i        int
	)
	for binCount == 0 {
		if tab == nil {
			if presentOnly {
				return
			}
			tab = m.initTable()
			continue
		}
		i = tab.index(hash)
		switch f := tab.at(i); {
		case f == nil:
			if presentOnly {
				return
			}
			actual, ok, delta, binCount = m.computeEmpty(tab, i, hash, key, fn)
		case f.kind == forwardKind:
			tab = m.helpTransfer(tab, f)
		default:
			actual, ok, delta, binCount = m.computeInBin(tab, i, f, hash, key, fn)
		}
	}
	if binCount >= m.treeifyThreshold {
		m.treeifyBin(tab, i)
	}
	if delta != 0 {
		m.addCount(delta, binCount)
	}
	return actual, ok
}

// computeEmpty holds the empty bin i with a reservation node while fn runs.
// The slot is restored even if fn panics.
func (m *Map[K, V]) computeEmpty(
	tab *table[K, V],
	i int,
	hash uint64,
	key K,
	fn func(old *V) (*V, ComputeOp),
) (actual V, ok bool, delta int64, binCount int) {
	r := &node[K, V]{kind: reserveKind}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !tab.cas(i, nil, r) {
		return
	}
	var result *node[K, V]
	defer func() {
		tab.set(i, result)
	}()
	binCount = 1
	nv, op := fn(nil)
	if op != UpdateOp {
		return
	}
	result = newNode(hash, key, nv)
	return *nv, true, 1, binCount
}

// computeInBin applies fn inside the non-empty bin f. binCount is zero when
// f no longer heads the bin.
func (m *Map[K, V]) computeInBin(
	tab *table[K, V],
	i int,
	f *node[K, V],
	hash uint64,
	key K,
	fn func(old *V) (*V, ComputeOp),
) (actual V, ok bool, delta int64, binCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tab.at(i) != f {
		return
	}
	switch f.kind {
	case entryKind:
		binCount = 1
		var pred *node[K, V]
		for e := f; e != nil; binCount++ {
			if e.hash == hash && e.key == key {
				old := e.val.Load()
				nv, op := fn(old)
				switch op {
				case UpdateOp:
					e.val.Store(nv)
					return *nv, true, 0, binCount
				case DeleteOp:
					if pred != nil {
						pred.next.Store(e.next.Load())
					} else {
						tab.set(i, e.next.Load())
					}
					return *old, false, -1, binCount
				}
				return *old, true, 0, binCount
			}
			pred = e
			if e = e.next.Load(); e == nil {
				break
			}
		}
		nv, op := fn(nil)
		if op != UpdateOp {
			return
		}
		pred.next.Store(newNode(hash, key, nv))
		return *nv, true, 1, binCount + 1

	case treeKind:
		binCount = 2
		b := f.tree()
		p := m.findTreeNode(b.root, hash, &key, nil)
		if p == nil {
			nv, op := fn(nil)
			if op != UpdateOp {
				return
			}
			m.putTreeVal(b, hash, key, nv)
			return *nv, true, 1, binCount
		}
		old := p.val.Load()
		nv, op := fn(old)
		switch op {
		case UpdateOp:
			p.val.Store(nv)
			return *nv, true, 0, binCount
		case DeleteOp:
			if m.removeTreeNode(b, p) {
				tab.set(i, untreeify(b.first.Load(), &p.node))
				m.untreeifications.Add(1)
			}
			return *old, false, -1, binCount
		}
		return *old, true, 0, binCount
	}
	return
}
