package chm

import (
	"hash/maphash"
	"math"
	"math/rand/v2"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Map is a hash table supporting full concurrency of retrievals and high
// expected concurrency for updates.
//
// Retrievals (Get, ContainsKey, iteration) never block and generally
// overlap with updates. They reflect the results of the most recently
// completed update operations holding upon their onset. Updates lock only
// the bin they touch; operations on keys in different bins proceed in
// parallel. Aggregate results such as Size are exact only when no update
// is in flight.
//
// The table grows when the number of entries exceeds its length times the
// load factor. Goroutines that meet a bin being moved help move the rest,
// so a resize makes progress as long as anyone writes. Bins that collect
// many colliding keys are turned into red-black trees, bounding lookups by
// O(log n) even for a poor hash.
//
// Keys and values must not be nil when their types allow it; passing one
// panics with an *ArgumentError.
//
// The zero Map is empty and ready for use. A Map must not be copied after
// first use.
type Map[K comparable, V any] struct {
	counter counter

	table         atomic.Pointer[table[K, V]]
	nextTable     atomic.Pointer[table[K, V]]
	sizeCtl       atomic.Int64 // table length to allocate, -1 while initializing, resize stamp while resizing, else next threshold
	transferIndex atomic.Int64 // next bin index (plus one) to split while resizing

	totalGrowths     atomic.Uint32
	treeifications   atomic.Uint32
	untreeifications atomic.Uint32

	ready atomic.Bool
	once  sync.Once

	seed               uint64
	tieSeed            maphash.Seed
	keyHash            hashFunc
	valEqual           equalFunc
	keyCmp             compareFunc
	loadFactor         float64
	treeifyThreshold   int
	untreeifyThreshold int
	minTreeifyCapacity int
	transferStride     int
	ncpu               int
	keyNilable         bool
	valNilable         bool
}

// New creates a Map configured by options. The table itself is allocated
// by the first update.
func New[K comparable, V any](options ...func(*MapConfig)) (*Map[K, V], error) {
	c := defaultConfig()
	for _, o := range options {
		o(c)
	}
	if err := validateConfig[K, V](c); err != nil {
		return nil, err
	}
	m := &Map[K, V]{}
	m.once.Do(func() {
		m.configure(c)
	})
	return m, nil
}

// MustNew is like New but panics if an option is invalid.
func MustNew[K comparable, V any](options ...func(*MapConfig)) *Map[K, V] {
	m, err := New[K, V](options...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Map[K, V]) configure(c *MapConfig) {
	kt, vt := reflect.TypeFor[K](), reflect.TypeFor[V]()
	m.seed = rand.Uint64()
	m.tieSeed = maphash.MakeSeed()
	m.keyHash = c.keyHash
	if m.keyHash == nil {
		m.keyHash = defaultKeyHasher[K](maphash.MakeSeed())
	}
	m.valEqual = c.valEqual
	if m.valEqual == nil {
		m.valEqual = defaultValueEqual[V]()
	}
	m.keyCmp = c.keyCmp
	if m.keyCmp == nil {
		m.keyCmp = defaultKeyCompare[K]()
	}
	m.loadFactor = c.loadFactor
	m.treeifyThreshold = c.treeifyThreshold
	m.untreeifyThreshold = c.untreeifyThreshold
	m.minTreeifyCapacity = c.minTreeifyCapacity
	m.transferStride = c.transferStride
	m.ncpu = runtime.GOMAXPROCS(0)
	m.keyNilable = nilable(kt)
	m.valNilable = nilable(vt)
	m.counter.maxCells = nextPowOf2(c.concurrency)
	n, _ := initialTableLen(c)
	m.sizeCtl.Store(int64(n))
	m.ready.Store(true)
}

// init applies the default configuration to a zero Map.
func (m *Map[K, V]) init() {
	if !m.ready.Load() {
		m.initSlow()
	}
}

func (m *Map[K, V]) initSlow() {
	m.once.Do(func() {
		m.configure(defaultConfig())
	})
}

func (m *Map[K, V]) hash(key *K) uint64 {
	return spread(m.keyHash(unsafe.Pointer(key), m.seed))
}

func (m *Map[K, V]) tieHash(key *K) uint64 {
	return maphash.Comparable(m.tieSeed, *key)
}

func (m *Map[K, V]) checkKey(op string, key *K) {
	if m.keyNilable && isNil(unsafe.Pointer(key)) {
		panic(invalidArgument(op, "nil key"))
	}
}

func (m *Map[K, V]) checkValue(op string, val *V) {
	if m.valNilable && isNil(unsafe.Pointer(val)) {
		panic(invalidArgument(op, "nil value"))
	}
}

// valuesEqual compares the values behind a and b, short-circuiting on
// identity.
func (m *Map[K, V]) valuesEqual(a, b *V) bool {
	if a == b {
		return true
	}
	if m.valEqual == nil {
		panic(invalidArgument("compare", "value type %v is not comparable, use WithValueEqual",
			reflect.TypeFor[V]()))
	}
	return m.valEqual(unsafe.Pointer(a), unsafe.Pointer(b))
}

// find returns the entry for key in tab or in the tables it forwards to.
func (m *Map[K, V]) find(tab *table[K, V], hash uint64, key *K) *node[K, V] {
	for {
		e := tab.at(tab.index(hash))
		if e == nil {
			return nil
		}
		switch e.kind {
		case entryKind:
			return findInChain(e, hash, key)
		case treeKind:
			return m.findInTree(e.tree(), hash, key, nil)
		case forwardKind:
			tab = e.forward()
		default:
			return nil
		}
	}
}

// Get returns the value stored for key and whether it was found.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	m.init()
	m.checkKey("Get", &key)
	tab := m.table.Load()
	if tab == nil {
		return
	}
	if e := m.find(tab, m.hash(&key), &key); e != nil {
		return *e.val.Load(), true
	}
	return
}

// GetOrDefault returns the value stored for key, or def if there is none.
func (m *Map[K, V]) GetOrDefault(key K, def V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	return def
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// ContainsValue reports whether some key maps to value. It traverses the
// whole table.
func (m *Map[K, V]) ContainsValue(value V) bool {
	m.init()
	m.checkValue("ContainsValue", &value)
	tab := m.table.Load()
	if tab == nil {
		return false
	}
	t := newTraverser(tab, len(tab.bins), 0, len(tab.bins))
	for e := t.advance(); e != nil; e = t.advance() {
		if m.valuesEqual(&value, e.val.Load()) {
			return true
		}
	}
	return false
}

// Put maps key to value and returns the previous value, if any.
func (m *Map[K, V]) Put(key K, value V) (previous V, loaded bool) {
	m.init()
	m.checkKey("Put", &key)
	m.checkValue("Put", &value)
	return m.putVal(key, &value, false)
}

// PutIfAbsent maps key to value unless key is already present. It returns
// the value present afterwards and whether it was already there.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	m.init()
	m.checkKey("PutIfAbsent", &key)
	m.checkValue("PutIfAbsent", &value)
	if previous, loaded := m.putVal(key, &value, true); loaded {
		return previous, true
	}
	return value, false
}

func (m *Map[K, V]) putVal(key K, val *V, onlyIfAbsent bool) (previous V, loaded bool) {
	hash := m.hash(&key)
	for tab := m.table.Load(); ; {
		if tab == nil {
			tab = m.initTable()
			continue
		}
		i := tab.index(hash)
		f := tab.at(i)
		switch {
		case f == nil:
			if tab.cas(i, nil, newNode(hash, key, val)) {
				m.addCount(1, 0)
				return
			}
		case f.kind == forwardKind:
			tab = m.helpTransfer(tab, f)
		case onlyIfAbsent && f.kind == entryKind && f.hash == hash && f.key == key:
			return *f.val.Load(), true
		default:
			previous, loaded, binCount := m.putInBin(tab, i, f, hash, key, val, onlyIfAbsent)
			if binCount == 0 {
				continue
			}
			if binCount >= m.treeifyThreshold {
				m.treeifyBin(tab, i)
			}
			if !loaded {
				m.addCount(1, binCount)
			}
			return previous, loaded
		}
	}
}

// putInBin inserts into the non-empty bin f. binCount is zero when f no
// longer heads the bin and the caller must retry; otherwise it is the bin
// length after an insert, or the position of the replaced entry.
func (m *Map[K, V]) putInBin(
	tab *table[K, V],
	i int,
	f *node[K, V],
	hash uint64,
	key K,
	val *V,
	onlyIfAbsent bool,
) (previous V, loaded bool, binCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tab.at(i) != f {
		return
	}
	switch f.kind {
	case entryKind:
		binCount = 1
		for e := f; ; binCount++ {
			if e.hash == hash && e.key == key {
				previous, loaded = *e.val.Load(), true
				if !onlyIfAbsent {
					e.val.Store(val)
				}
				return
			}
			next := e.next.Load()
			if next == nil {
				e.next.Store(newNode(hash, key, val))
				binCount++
				return
			}
			e = next
		}
	case treeKind:
		binCount = 2
		if p := m.putTreeVal(f.tree(), hash, key, val); p != nil {
			previous, loaded = *p.val.Load(), true
			if !onlyIfAbsent {
				p.val.Store(val)
			}
		}
	}
	return
}

// minParallelBatchItems is the smallest share of a PutAll worth its own
// goroutine.
const minParallelBatchItems = 1 << 12

// PutAll copies every mapping of src into the map. The table is grown for
// len(src) entries first; large sources are inserted in parallel.
func (m *Map[K, V]) PutAll(src map[K]V) {
	m.init()
	for k, v := range src {
		m.checkKey("PutAll", &k)
		m.checkValue("PutAll", &v)
	}
	if len(src) == 0 {
		return
	}
	m.tryPresize(m.tableLenFor(len(src)))

	chunkSize, chunks := calcParallelism(len(src), minParallelBatchItems, m.ncpu)
	if chunks <= 1 {
		for k, v := range src {
			m.putVal(k, &v, false)
		}
		return
	}
	keys := make([]K, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	var wg sync.WaitGroup
	wg.Add(chunks)
	for c := 0; c < chunks; c++ {
		go func(start, end int) {
			defer wg.Done()
			for _, k := range keys[start:end] {
				v := src[k]
				m.putVal(k, &v, false)
			}
		}(c*chunkSize, min((c+1)*chunkSize, len(keys)))
	}
	wg.Wait()
}

// Grow makes room for sizeHint entries without further resizing. A negative
// hint is an ErrInvalidArgument, one needing more than MaximumCapacity bins
// an ErrCapacityExceeded; the table is left as is in both cases.
func (m *Map[K, V]) Grow(sizeHint int) error {
	m.init()
	switch {
	case sizeHint < 0:
		return invalidArgument("Grow", "negative size hint %d", sizeHint)
	case sizeHint == 0:
		return nil
	case 1+float64(sizeHint)/m.loadFactor > MaximumCapacity:
		return capacityExceeded(sizeHint)
	}
	m.tryPresize(m.tableLenFor(sizeHint))
	return nil
}

// tableLenFor returns the table length holding size entries under the load
// factor, capped at MaximumCapacity.
func (m *Map[K, V]) tableLenFor(size int) int {
	n := 1 + float64(size)/m.loadFactor
	if n >= MaximumCapacity {
		return MaximumCapacity
	}
	return nextPowOf2(int(n))
}

// Remove deletes key and returns the value it had.
func (m *Map[K, V]) Remove(key K) (previous V, loaded bool) {
	m.init()
	m.checkKey("Remove", &key)
	return m.replaceNode(key, nil, nil)
}

// CompareAndRemove deletes key only if it is mapped to old.
func (m *Map[K, V]) CompareAndRemove(key K, old V) (deleted bool) {
	m.init()
	m.checkKey("CompareAndRemove", &key)
	m.checkValue("CompareAndRemove", &old)
	_, deleted = m.replaceNode(key, nil, &old)
	return deleted
}

// Replace maps key to value only if key is present, returning the value it
// replaced.
func (m *Map[K, V]) Replace(key K, value V) (previous V, loaded bool) {
	m.init()
	m.checkKey("Replace", &key)
	m.checkValue("Replace", &value)
	return m.replaceNode(key, &value, nil)
}

// CompareAndReplace maps key to new only if it is currently mapped to old.
func (m *Map[K, V]) CompareAndReplace(key K, old, new V) (replaced bool) {
	m.init()
	m.checkKey("CompareAndReplace", &key)
	m.checkValue("CompareAndReplace", &old)
	m.checkValue("CompareAndReplace", &new)
	_, replaced = m.replaceNode(key, &new, &old)
	return replaced
}

// replaceNode replaces the value of key with val, or removes the entry when
// val is nil. With cv set, it acts only if the current value equals *cv.
func (m *Map[K, V]) replaceNode(key K, val, cv *V) (previous V, ok bool) {
	hash := m.hash(&key)
	for tab := m.table.Load(); tab != nil; {
		i := tab.index(hash)
		f := tab.at(i)
		if f == nil {
			break
		}
		if f.kind == forwardKind {
			tab = m.helpTransfer(tab, f)
			continue
		}
		previous, ok, validated := m.replaceInBin(tab, i, f, hash, key, val, cv)
		if validated {
			if ok && val == nil {
				m.addCount(-1, -1)
			}
			return previous, ok
		}
	}
	return
}

func (m *Map[K, V]) replaceInBin(
	tab *table[K, V],
	i int,
	f *node[K, V],
	hash uint64,
	key K,
	val, cv *V,
) (previous V, ok, validated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tab.at(i) != f {
		return
	}
	switch f.kind {
	case entryKind:
		validated = true
		var pred *node[K, V]
		for e := f; e != nil; pred, e = e, e.next.Load() {
			if e.hash != hash || e.key != key {
				continue
			}
			ev := e.val.Load()
			if cv != nil && !m.valuesEqual(cv, ev) {
				return
			}
			previous, ok = *ev, true
			switch {
			case val != nil:
				e.val.Store(val)
			case pred != nil:
				pred.next.Store(e.next.Load())
			default:
				tab.set(i, e.next.Load())
			}
			return
		}
	case treeKind:
		validated = true
		b := f.tree()
		p := m.findTreeNode(b.root, hash, &key, nil)
		if p == nil {
			return
		}
		pv := p.val.Load()
		if cv != nil && !m.valuesEqual(cv, pv) {
			return
		}
		previous, ok = *pv, true
		if val != nil {
			p.val.Store(val)
		} else if m.removeTreeNode(b, p) {
			tab.set(i, untreeify(b.first.Load(), &p.node))
			m.untreeifications.Add(1)
		}
	}
	return
}

// Size returns the number of mappings, saturating at math.MaxInt.
func (m *Map[K, V]) Size() int {
	n := m.MappingCount()
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// MappingCount returns the number of mappings as an int64. The value is an
// estimate while updates are in flight.
func (m *Map[K, V]) MappingCount() int64 {
	return max(m.counter.sum(), 0)
}

// IsEmpty reports whether the map holds no mappings.
func (m *Map[K, V]) IsEmpty() bool {
	return m.counter.sum() <= 0
}

// Clear removes all mappings. Bins are emptied one at a time, so concurrent
// updates may survive.
func (m *Map[K, V]) Clear() {
	m.init()
	var delta int64
	tab := m.table.Load()
	for i := 0; tab != nil && i < len(tab.bins); {
		f := tab.at(i)
		switch {
		case f == nil:
			i++
		case f.kind == forwardKind:
			tab = m.helpTransfer(tab, f)
			i = 0
		default:
			if removed, ok := m.clearBin(tab, i, f); ok {
				delta -= int64(removed)
				i++
			}
		}
	}
	if delta != 0 {
		m.addCount(delta, -1)
	}
}

func (m *Map[K, V]) clearBin(tab *table[K, V], i int, f *node[K, V]) (removed int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tab.at(i) != f {
		return 0, false
	}
	switch f.kind {
	case entryKind:
		removed = chainLen(f)
	case treeKind:
		removed = chainLen(f.tree().first.Load())
	default:
		return 0, false
	}
	tab.set(i, nil)
	return removed, true
}
