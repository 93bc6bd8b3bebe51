package chm

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// binKind tags what a node heading a bin stands for.
type binKind uint8

const (
	// entryKind is a plain entry, either alone or heading a chain.
	entryKind binKind = iota
	// treeKind heads a bin organized as a red-black tree; aux is the *treeBin.
	treeKind
	// forwardKind marks a bin already moved to the next table; aux is that table.
	forwardKind
	// reserveKind holds an empty bin while a compute function runs.
	reserveKind
)

// node is an entry, or the header of a tree, forwarding or reserved bin.
// key and hash never change after publication. The mutex of the node
// currently heading a bin is that bin's exclusive scope.
type node[K comparable, V any] struct {
	hash uint64
	key  K
	val  atomic.Pointer[V]
	next atomic.Pointer[node[K, V]]
	aux  unsafe.Pointer
	mu   sync.Mutex
	kind binKind
}

func newNode[K comparable, V any](hash uint64, key K, val *V) *node[K, V] {
	n := &node[K, V]{hash: hash, key: key}
	n.val.Store(val)
	return n
}

func newForwardingNode[K comparable, V any](next *table[K, V]) *node[K, V] {
	return &node[K, V]{kind: forwardKind, aux: unsafe.Pointer(next)}
}

// forward returns the table a forwarding node points at.
func (n *node[K, V]) forward() *table[K, V] {
	return (*table[K, V])(n.aux)
}

// tree returns the tree a tree bin header owns.
func (n *node[K, V]) tree() *treeBin[K, V] {
	return (*treeBin[K, V])(n.aux)
}

// table is a power-of-two array of bins. Slots are only ever accessed
// atomically: acquire loads, CAS and release stores.
type table[K comparable, V any] struct {
	bins []atomic.Pointer[node[K, V]]
}

func newTable[K comparable, V any](n int) *table[K, V] {
	return &table[K, V]{bins: make([]atomic.Pointer[node[K, V]], n)}
}

func (t *table[K, V]) index(hash uint64) int {
	return int(hash & uint64(len(t.bins)-1))
}

func (t *table[K, V]) at(i int) *node[K, V] {
	return t.bins[i].Load()
}

func (t *table[K, V]) cas(i int, old, new *node[K, V]) bool {
	return t.bins[i].CompareAndSwap(old, new)
}

func (t *table[K, V]) set(i int, n *node[K, V]) {
	t.bins[i].Store(n)
}

// findInChain scans a chain starting at e.
func findInChain[K comparable, V any](e *node[K, V], hash uint64, key *K) *node[K, V] {
	for ; e != nil; e = e.next.Load() {
		if e.hash == hash && e.key == *key {
			return e
		}
	}
	return nil
}

// chainLen counts the entries reachable from e.
func chainLen[K comparable, V any](e *node[K, V]) int {
	n := 0
	for ; e != nil; e = e.next.Load() {
		n++
	}
	return n
}

// splitChain divides a chain for a table of twice length n. The trailing run
// of nodes that all go to one side is reused as is, the rest is copied.
func splitChain[K comparable, V any](f *node[K, V], n int) (lo, hi *node[K, V]) {
	bit := f.hash & uint64(n)
	lastRun := f
	for p := f.next.Load(); p != nil; p = p.next.Load() {
		if b := p.hash & uint64(n); b != bit {
			bit = b
			lastRun = p
		}
	}
	if bit == 0 {
		lo = lastRun
	} else {
		hi = lastRun
	}
	for p := f; p != lastRun; p = p.next.Load() {
		c := newNode(p.hash, p.key, p.val.Load())
		if p.hash&uint64(n) == 0 {
			c.next.Store(lo)
			lo = c
		} else {
			c.next.Store(hi)
			hi = c
		}
	}
	return lo, hi
}

// untreeify copies the linked view of a tree into a fresh chain, leaving out
// skip when it is not nil.
func untreeify[K comparable, V any](first, skip *node[K, V]) *node[K, V] {
	var hd, tl *node[K, V]
	for q := first; q != nil; q = q.next.Load() {
		if q == skip {
			continue
		}
		p := newNode(q.hash, q.key, q.val.Load())
		if tl == nil {
			hd = p
		} else {
			tl.next.Store(p)
		}
		tl = p
	}
	return hd
}
