package chm

import (
	"sync/atomic"
	"unsafe"
)

// lockState bits of a treeBin.
const (
	writer = 1 // set while holding the write lock
	waiter = 2 // set when waiting for the write lock
	reader = 4 // increment value for a reader
)

// treeNode is an entry of a tree bin. The embedded node must stay the first
// field: tree entries are linked through node.next and converted back with
// asTree. parent, left, right and red are written only under the bin's write
// lock and read only under its read lock. prev is used by writers only.
type treeNode[K comparable, V any] struct {
	node[K, V]
	parent *treeNode[K, V]
	left   *treeNode[K, V]
	right  *treeNode[K, V]
	prev   *treeNode[K, V]
	red    bool
}

func newTreeNode[K comparable, V any](hash uint64, key K, val *V) *treeNode[K, V] {
	p := &treeNode[K, V]{}
	p.hash = hash
	p.key = key
	p.val.Store(val)
	return p
}

func asTree[K comparable, V any](n *node[K, V]) *treeNode[K, V] {
	return (*treeNode[K, V])(unsafe.Pointer(n))
}

// treeBin owns the red-black tree of one bin. The bin mutex serializes
// writers. Readers never take it: they hold the read side of lockState while
// walking the tree, or walk the first/next list while a writer is
// restructuring.
type treeBin[K comparable, V any] struct {
	root      *treeNode[K, V]
	first     atomic.Pointer[node[K, V]]
	lockState atomic.Int32
	count     int // guarded by the bin mutex
}

// newTreeBin builds a tree over the list starting at first and returns the
// bin header for it.
func (m *Map[K, V]) newTreeBin(first *treeNode[K, V], count int) *node[K, V] {
	b := &treeBin[K, V]{count: count}
	var r *treeNode[K, V]
	for x := first; x != nil; {
		var next *treeNode[K, V]
		if nn := x.next.Load(); nn != nil {
			next = asTree(nn)
		}
		x.left, x.right = nil, nil
		if r == nil {
			x.parent = nil
			x.red = false
			r = x
		} else {
			for p := r; ; {
				dir := m.dirOf(x.hash, &x.key, p)
				if dir == 0 {
					dir = m.tieBreak(&x.key, &p.key)
				}
				xp := p
				if dir <= 0 {
					p = p.left
				} else {
					p = p.right
				}
				if p == nil {
					x.parent = xp
					if dir <= 0 {
						xp.left = x
					} else {
						xp.right = x
					}
					r = balanceInsertion(r, x)
					break
				}
			}
		}
		x = next
	}
	b.root = r
	if first != nil {
		b.first.Store(&first.node)
	}
	return &node[K, V]{kind: treeKind, aux: unsafe.Pointer(b)}
}

// dirOf orders (hash, key) relative to p by hash and then by the key
// comparator. Zero means the order is undecided.
func (m *Map[K, V]) dirOf(hash uint64, key *K, p *treeNode[K, V]) int {
	switch {
	case p.hash > hash:
		return -1
	case p.hash < hash:
		return 1
	}
	return m.compareKeys(key, &p.key)
}

func (m *Map[K, V]) compareKeys(a, b *K) int {
	if m.keyCmp == nil {
		return 0
	}
	return m.keyCmp(unsafe.Pointer(a), unsafe.Pointer(b))
}

// tieBreak totally orders keys the comparator cannot. Equal tie hashes
// resolve to -1, the same way for the lifetime of the map.
func (m *Map[K, V]) tieBreak(a, b *K) int {
	if m.tieHash(a) > m.tieHash(b) {
		return 1
	}
	return -1
}

// findTreeNode searches the subtree rooted at p. When hash and comparator
// cannot tell the way, both subtrees are searched. probes, if not nil,
// counts visited nodes.
func (m *Map[K, V]) findTreeNode(p *treeNode[K, V], hash uint64, key *K, probes *int) *treeNode[K, V] {
	for p != nil {
		if probes != nil {
			*probes++
		}
		pl, pr := p.left, p.right
		switch {
		case p.hash > hash:
			p = pl
		case p.hash < hash:
			p = pr
		case p.key == *key:
			return p
		case pl == nil:
			p = pr
		case pr == nil:
			p = pl
		default:
			if dir := m.compareKeys(key, &p.key); dir != 0 {
				if dir < 0 {
					p = pl
				} else {
					p = pr
				}
			} else if q := m.findTreeNode(pr, hash, key, probes); q != nil {
				return q
			} else {
				p = pl
			}
		}
	}
	return nil
}

// findInTree looks up key without the bin mutex.
func (m *Map[K, V]) findInTree(b *treeBin[K, V], hash uint64, key *K, probes *int) *node[K, V] {
	for e := b.first.Load(); e != nil; {
		s := b.lockState.Load()
		if s&(waiter|writer) != 0 {
			if probes != nil {
				*probes++
			}
			if e.hash == hash && e.key == *key {
				return e
			}
			e = e.next.Load()
		} else if b.lockState.CompareAndSwap(s, s+reader) {
			return m.readTree(b, hash, key, probes)
		}
	}
	return nil
}

func (m *Map[K, V]) readTree(b *treeBin[K, V], hash uint64, key *K, probes *int) *node[K, V] {
	defer b.lockState.Add(-reader)
	if p := m.findTreeNode(b.root, hash, key, probes); p != nil {
		return &p.node
	}
	return nil
}

func (b *treeBin[K, V]) lockRoot() {
	if !b.lockState.CompareAndSwap(0, writer) {
		b.contendedLock()
	}
}

func (b *treeBin[K, V]) unlockRoot() {
	b.lockState.Store(0)
}

// contendedLock raises the waiter bit so that new readers fall back to the
// list, then waits for the active readers to drain.
func (b *treeBin[K, V]) contendedLock() {
	spins := 0
	for {
		s := b.lockState.Load()
		switch {
		case s&^waiter == 0:
			if b.lockState.CompareAndSwap(s, writer) {
				return
			}
		case s&waiter == 0:
			b.lockState.CompareAndSwap(s, s|waiter)
		default:
			delay(&spins)
		}
	}
}

// putTreeVal returns the node already holding key, or inserts a new one and
// returns nil. Must be called with the bin mutex held.
func (m *Map[K, V]) putTreeVal(b *treeBin[K, V], hash uint64, key K, val *V) *treeNode[K, V] {
	searched := false
	var xp *treeNode[K, V]
	dir := 0
	for p := b.root; p != nil; {
		switch {
		case p.hash > hash:
			dir = -1
		case p.hash < hash:
			dir = 1
		case p.key == key:
			return p
		default:
			if dir = m.compareKeys(&key, &p.key); dir == 0 {
				if !searched {
					searched = true
					if q := m.findTreeNode(p.left, hash, &key, nil); q != nil {
						return q
					}
					if q := m.findTreeNode(p.right, hash, &key, nil); q != nil {
						return q
					}
				}
				dir = m.tieBreak(&key, &p.key)
			}
		}
		xp = p
		if dir <= 0 {
			p = p.left
		} else {
			p = p.right
		}
	}

	x := newTreeNode(hash, key, val)
	b.lockRoot()
	defer b.unlockRoot()
	f := b.first.Load()
	x.next.Store(f)
	if f != nil {
		asTree(f).prev = x
	}
	b.first.Store(&x.node)
	x.parent = xp
	switch {
	case xp == nil:
		b.root = x
	case dir <= 0:
		xp.left = x
	default:
		xp.right = x
	}
	b.root = balanceInsertion(b.root, x)
	b.count++
	return nil
}

// removeTreeNode unlinks p, which must be present. It returns true without
// touching the tree when the bin is small enough to be turned back into a
// chain; the caller then installs untreeify(first, p). Must be called with
// the bin mutex held.
func (m *Map[K, V]) removeTreeNode(b *treeBin[K, V], p *treeNode[K, V]) bool {
	if b.count-1 <= m.untreeifyThreshold {
		return true
	}
	b.lockRoot()
	defer b.unlockRoot()

	next := p.next.Load()
	if pred := p.prev; pred == nil {
		b.first.Store(next)
	} else {
		pred.next.Store(next)
	}
	if next != nil {
		asTree(next).prev = p.prev
	}
	b.count--

	r := b.root
	var replacement *treeNode[K, V]
	pl, pr := p.left, p.right
	switch {
	case pl != nil && pr != nil:
		s := pr
		for s.left != nil {
			s = s.left
		}
		s.red, p.red = p.red, s.red
		sr := s.right
		pp := p.parent
		if s == pr {
			p.parent = s
			s.right = p
		} else {
			sp := s.parent
			if p.parent = sp; sp != nil {
				if s == sp.left {
					sp.left = p
				} else {
					sp.right = p
				}
			}
			if s.right = pr; pr != nil {
				pr.parent = s
			}
		}
		p.left = nil
		if p.right = sr; sr != nil {
			sr.parent = p
		}
		if s.left = pl; pl != nil {
			pl.parent = s
		}
		switch s.parent = pp; {
		case pp == nil:
			r = s
		case p == pp.left:
			pp.left = s
		default:
			pp.right = s
		}
		if sr != nil {
			replacement = sr
		} else {
			replacement = p
		}
	case pl != nil:
		replacement = pl
	case pr != nil:
		replacement = pr
	default:
		replacement = p
	}
	if replacement != p {
		pp := p.parent
		replacement.parent = pp
		switch {
		case pp == nil:
			r = replacement
		case p == pp.left:
			pp.left = replacement
		default:
			pp.right = replacement
		}
		p.left, p.right, p.parent = nil, nil, nil
	}

	if p.red {
		b.root = r
	} else {
		b.root = balanceDeletion(r, replacement)
	}

	if p == replacement {
		if pp := p.parent; pp != nil {
			if p == pp.left {
				pp.left = nil
			} else if p == pp.right {
				pp.right = nil
			}
			p.parent = nil
		}
	}
	return false
}

func rotateLeft[K comparable, V any](root, p *treeNode[K, V]) *treeNode[K, V] {
	if p == nil || p.right == nil {
		return root
	}
	r := p.right
	if p.right = r.left; r.left != nil {
		r.left.parent = p
	}
	pp := p.parent
	switch r.parent = pp; {
	case pp == nil:
		root = r
		r.red = false
	case pp.left == p:
		pp.left = r
	default:
		pp.right = r
	}
	r.left = p
	p.parent = r
	return root
}

func rotateRight[K comparable, V any](root, p *treeNode[K, V]) *treeNode[K, V] {
	if p == nil || p.left == nil {
		return root
	}
	l := p.left
	if p.left = l.right; l.right != nil {
		l.right.parent = p
	}
	pp := p.parent
	switch l.parent = pp; {
	case pp == nil:
		root = l
		l.red = false
	case pp.right == p:
		pp.right = l
	default:
		pp.left = l
	}
	l.right = p
	p.parent = l
	return root
}

func balanceInsertion[K comparable, V any](root, x *treeNode[K, V]) *treeNode[K, V] {
	x.red = true
	for {
		xp := x.parent
		if xp == nil {
			x.red = false
			return x
		}
		xpp := xp.parent
		if !xp.red || xpp == nil {
			return root
		}
		if xppl := xpp.left; xp == xppl {
			if xppr := xpp.right; xppr != nil && xppr.red {
				xppr.red = false
				xp.red = false
				xpp.red = true
				x = xpp
				continue
			}
			if x == xp.right {
				x = xp
				root = rotateLeft(root, x)
				xp, xpp = parentOf(x), grandparentOf(x)
			}
			if xp != nil {
				xp.red = false
				if xpp != nil {
					xpp.red = true
					root = rotateRight(root, xpp)
				}
			}
		} else {
			if xppl != nil && xppl.red {
				xppl.red = false
				xp.red = false
				xpp.red = true
				x = xpp
				continue
			}
			if x == xp.left {
				x = xp
				root = rotateRight(root, x)
				xp, xpp = parentOf(x), grandparentOf(x)
			}
			if xp != nil {
				xp.red = false
				if xpp != nil {
					xpp.red = true
					root = rotateLeft(root, xpp)
				}
			}
		}
	}
}

func balanceDeletion[K comparable, V any](root, x *treeNode[K, V]) *treeNode[K, V] {
	for {
		if x == nil || x == root {
			return root
		}
		xp := x.parent
		if xp == nil {
			x.red = false
			return x
		}
		if x.red {
			x.red = false
			return root
		}
		if xpl := xp.left; xpl == x {
			xpr := xp.right
			if xpr != nil && xpr.red {
				xpr.red = false
				xp.red = true
				root = rotateLeft(root, xp)
				xp = x.parent
				xpr = rightOf(xp)
			}
			if xpr == nil {
				x = xp
				continue
			}
			sl, sr := xpr.left, xpr.right
			if !isRed(sr) && !isRed(sl) {
				xpr.red = true
				x = xp
				continue
			}
			if !isRed(sr) {
				if sl != nil {
					sl.red = false
				}
				xpr.red = true
				root = rotateRight(root, xpr)
				xp = x.parent
				xpr = rightOf(xp)
			}
			if xpr != nil {
				xpr.red = xp != nil && xp.red
				if sr = xpr.right; sr != nil {
					sr.red = false
				}
			}
			if xp != nil {
				xp.red = false
				root = rotateLeft(root, xp)
			}
			x = root
		} else {
			if xpl != nil && xpl.red {
				xpl.red = false
				xp.red = true
				root = rotateRight(root, xp)
				xp = x.parent
				xpl = leftOf(xp)
			}
			if xpl == nil {
				x = xp
				continue
			}
			sl, sr := xpl.left, xpl.right
			if !isRed(sl) && !isRed(sr) {
				xpl.red = true
				x = xp
				continue
			}
			if !isRed(sl) {
				if sr != nil {
					sr.red = false
				}
				xpl.red = true
				root = rotateLeft(root, xpl)
				xp = x.parent
				xpl = leftOf(xp)
			}
			if xpl != nil {
				xpl.red = xp != nil && xp.red
				if sl = xpl.left; sl != nil {
					sl.red = false
				}
			}
			if xp != nil {
				xp.red = false
				root = rotateRight(root, xp)
			}
			x = root
		}
	}
}

func isRed[K comparable, V any](p *treeNode[K, V]) bool {
	return p != nil && p.red
}

func parentOf[K comparable, V any](p *treeNode[K, V]) *treeNode[K, V] {
	if p == nil {
		return nil
	}
	return p.parent
}

func grandparentOf[K comparable, V any](p *treeNode[K, V]) *treeNode[K, V] {
	return parentOf(parentOf(p))
}

func leftOf[K comparable, V any](p *treeNode[K, V]) *treeNode[K, V] {
	if p == nil {
		return nil
	}
	return p.left
}

func rightOf[K comparable, V any](p *treeNode[K, V]) *treeNode[K, V] {
	if p == nil {
		return nil
	}
	return p.right
}
