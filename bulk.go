package chm

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
)

// batchFor returns the number of times a bulk task may split in two, or 0
// to run sequentially. threshold is the estimated number of entries below
// which an operation is not split; math.MaxInt64 disables parallelism and
// 1 allows the most.
func (m *Map[K, V]) batchFor(threshold int64) int {
	n := m.counter.sum()
	threshold = max(threshold, 1)
	if threshold == math.MaxInt64 || n <= 0 {
		return 0
	}
	b := n / threshold
	if b <= 1 {
		return 0
	}
	p := int64(runtime.GOMAXPROCS(0) << 2)
	return int(min(b, p))
}

// bulkRun spreads a task over halves of a table range, one goroutine per
// half, until its batch is used up.
type bulkRun[K comparable, V any] struct {
	tab      *table[K, V]
	task     func(t *traverser[K, V])
	wg       sync.WaitGroup
	once     sync.Once
	panicked bool
	panicVal any
}

func (r *bulkRun[K, V]) run(batch, index, limit int) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.once.Do(func() {
				r.panicked, r.panicVal = true, p
			})
		}
	}()
	for batch > 0 {
		h := (index + limit) >> 1
		if h <= index {
			break
		}
		batch >>= 1
		r.wg.Add(1)
		go r.run(batch, h, limit)
		limit = h
	}
	r.task(newTraverser(r.tab, len(r.tab.bins), index, limit))
}

// bulk runs task over the whole current table, in parallel as allowed by
// threshold, and returns when every part has finished. A panic in any part
// is raised again in the caller.
func (m *Map[K, V]) bulk(threshold int64, task func(t *traverser[K, V])) {
	m.init()
	tab := m.table.Load()
	if tab == nil {
		return
	}
	r := &bulkRun[K, V]{tab: tab, task: task}
	r.wg.Add(1)
	r.run(m.batchFor(threshold), 0, len(tab.bins))
	r.wg.Wait()
	if r.panicked {
		panic(r.panicVal)
	}
}

// ForEach calls fn for each mapping. With parallelism, fn runs concurrently
// on different mappings.
func (m *Map[K, V]) ForEach(threshold int64, fn func(key K, value V)) {
	m.bulk(threshold, func(t *traverser[K, V]) {
		for e := t.advance(); e != nil; e = t.advance() {
			fn(e.key, *e.val.Load())
		}
	})
}

// ForEachKey calls fn for each key.
func (m *Map[K, V]) ForEachKey(threshold int64, fn func(key K)) {
	m.bulk(threshold, func(t *traverser[K, V]) {
		for e := t.advance(); e != nil; e = t.advance() {
			fn(e.key)
		}
	})
}

// ForEachValue calls fn for each value.
func (m *Map[K, V]) ForEachValue(threshold int64, fn func(value V)) {
	m.bulk(threshold, func(t *traverser[K, V]) {
		for e := t.advance(); e != nil; e = t.advance() {
			fn(*e.val.Load())
		}
	})
}

// Search returns a result of fn for which ok is true, or ok false if there
// is none. Once a result is found, the remaining work is abandoned. When
// several mappings qualify, which one wins is unspecified.
func Search[K comparable, V, U any](
	m *Map[K, V],
	threshold int64,
	fn func(key K, value V) (result U, ok bool),
) (result U, ok bool) {
	var found atomic.Pointer[U]
	m.bulk(threshold, func(t *traverser[K, V]) {
		for e := t.advance(); e != nil && found.Load() == nil; e = t.advance() {
			if u, ok := fn(e.key, *e.val.Load()); ok {
				found.CompareAndSwap(nil, &u)
				return
			}
		}
	})
	if p := found.Load(); p != nil {
		return *p, true
	}
	return
}

// SearchKeys is Search over keys.
func SearchKeys[K comparable, V, U any](
	m *Map[K, V],
	threshold int64,
	fn func(key K) (result U, ok bool),
) (U, bool) {
	return Search(m, threshold, func(k K, _ V) (U, bool) {
		return fn(k)
	})
}

// SearchValues is Search over values.
func SearchValues[K comparable, V, U any](
	m *Map[K, V],
	threshold int64,
	fn func(value V) (result U, ok bool),
) (U, bool) {
	return Search(m, threshold, func(_ K, v V) (U, bool) {
		return fn(v)
	})
}

// Reduce combines transform(key, value) of every mapping for which keep is
// true using reducer. reducer must be associative and commutative: parts
// are combined in no particular order. ok is false when no mapping was
// kept.
func Reduce[K comparable, V, U any](
	m *Map[K, V],
	threshold int64,
	transform func(key K, value V) (u U, keep bool),
	reducer func(a, b U) U,
) (result U, ok bool) {
	var mu sync.Mutex
	m.bulk(threshold, func(t *traverser[K, V]) {
		var acc U
		has := false
		for e := t.advance(); e != nil; e = t.advance() {
			u, keep := transform(e.key, *e.val.Load())
			if !keep {
				continue
			}
			if has {
				acc = reducer(acc, u)
			} else {
				acc, has = u, true
			}
		}
		if !has {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if ok {
			result = reducer(result, acc)
		} else {
			result, ok = acc, true
		}
	})
	return result, ok
}

// ReduceKeys combines all keys with reducer.
func ReduceKeys[K comparable, V any](
	m *Map[K, V],
	threshold int64,
	reducer func(a, b K) K,
) (K, bool) {
	return Reduce(m, threshold, func(k K, _ V) (K, bool) {
		return k, true
	}, reducer)
}

// ReduceValues combines all values with reducer.
func ReduceValues[K comparable, V any](
	m *Map[K, V],
	threshold int64,
	reducer func(a, b V) V,
) (V, bool) {
	return Reduce(m, threshold, func(_ K, v V) (V, bool) {
		return v, true
	}, reducer)
}
