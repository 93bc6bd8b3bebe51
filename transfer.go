package chm

import (
	"math"
	"math/bits"
)

// sizeCtl encoding while resizing: the upper resizeStampBits hold the stamp
// of the table length being resized (sign bit set), the lower bits hold the
// number of active resizers plus one.
const (
	resizeStampBits  = 16
	resizeStampShift = 64 - resizeStampBits
	maxResizers      = 1<<resizeStampShift - 1
)

// resizeStamp identifies a resize of a table of length n. Shifted left by
// resizeStampShift it is always negative.
func resizeStamp(n int) int64 {
	return int64(bits.LeadingZeros64(uint64(n))) | 1<<(resizeStampBits-1)
}

// threshold returns the entry count above which a table of length n grows.
func (m *Map[K, V]) threshold(n int) int64 {
	if n >= MaximumCapacity {
		return math.MaxInt64
	}
	t := float64(n) * m.loadFactor
	if t >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(t)
}

// initTable allocates the table once, using the length recorded in sizeCtl.
func (m *Map[K, V]) initTable() *table[K, V] {
	spins := 0
	for {
		if tab := m.table.Load(); tab != nil {
			return tab
		}
		sc := m.sizeCtl.Load()
		if sc < 0 {
			// Lost the race; the winner is allocating.
			delay(&spins)
			continue
		}
		if !m.sizeCtl.CompareAndSwap(sc, -1) {
			continue
		}
		tab := m.table.Load()
		if tab == nil {
			n := DefaultCapacity
			if sc > 0 {
				n = int(sc)
			}
			tab = newTable[K, V](n)
			m.table.Store(tab)
			sc = m.threshold(n)
		}
		m.sizeCtl.Store(sc)
		return tab
	}
}

// addCount adds x to the entry count. With check >= 0 it then grows the
// table, or joins a running resize, while the count exceeds the threshold.
func (m *Map[K, V]) addCount(x int64, check int) {
	s, ok := m.counter.add(x, check)
	if !ok || check < 0 {
		return
	}
	for {
		sc := m.sizeCtl.Load()
		tab := m.table.Load()
		if s <= sc || tab == nil {
			return
		}
		n := len(tab.bins)
		if n >= MaximumCapacity {
			return
		}
		rs := resizeStamp(n) << resizeStampShift
		if sc < 0 {
			if sc>>resizeStampShift != rs>>resizeStampShift ||
				sc == rs+maxResizers || sc == rs+1 {
				return
			}
			next := m.nextTable.Load()
			if next == nil || m.transferIndex.Load() <= 0 {
				return
			}
			if m.sizeCtl.CompareAndSwap(sc, sc+1) {
				m.transfer(tab, next)
			}
		} else if m.sizeCtl.CompareAndSwap(sc, rs+2) {
			m.transfer(tab, nil)
		}
		s = m.counter.sum()
	}
}

// helpTransfer joins the resize that forwarded f and returns the table
// being filled.
func (m *Map[K, V]) helpTransfer(tab *table[K, V], f *node[K, V]) *table[K, V] {
	next := f.forward()
	rs := resizeStamp(len(tab.bins)) << resizeStampShift
	for next == m.nextTable.Load() && tab == m.table.Load() {
		sc := m.sizeCtl.Load()
		if sc >= 0 || sc == rs+maxResizers || sc == rs+1 || m.transferIndex.Load() <= 0 {
			break
		}
		if m.sizeCtl.CompareAndSwap(sc, sc+1) {
			m.transfer(tab, next)
			break
		}
	}
	return next
}

// tryPresize grows the table until its length reaches c, which is rounded
// up to a power of two. A first table is never shorter than the configured
// or default length. It gives up when another resize is running.
func (m *Map[K, V]) tryPresize(c int) {
	c = min(nextPowOf2(c), MaximumCapacity)
	for {
		sc := m.sizeCtl.Load()
		if sc < 0 {
			return
		}
		tab := m.table.Load()
		if tab == nil {
			n := max(int(sc), c)
			if sc == 0 {
				n = max(n, DefaultCapacity)
			}
			if m.sizeCtl.CompareAndSwap(sc, -1) {
				if m.table.Load() == nil {
					m.table.Store(newTable[K, V](n))
					sc = m.threshold(n)
				}
				m.sizeCtl.Store(sc)
			}
			continue
		}
		n := len(tab.bins)
		if c <= n || n >= MaximumCapacity {
			return
		}
		if m.sizeCtl.CompareAndSwap(sc, resizeStamp(n)<<resizeStampShift+2) {
			m.transfer(tab, nil)
		}
	}
}

// transfer moves the bins of tab into next, a table twice as long. The
// first resizer passes a nil next. Bins are claimed in strides from
// transferIndex, top down; the last resizer to leave rechecks every bin and
// publishes next.
func (m *Map[K, V]) transfer(tab, next *table[K, V]) {
	n := len(tab.bins)
	stride := max((n>>3)/m.ncpu, m.transferStride)
	if next == nil {
		next = newTable[K, V](n << 1)
		m.nextTable.Store(next)
		m.transferIndex.Store(int64(n))
	}
	fwd := newForwardingNode(next)
	advance, finishing := true, false
	for i, bound := 0, 0; ; {
		for advance {
			i--
			if i >= bound || finishing {
				advance = false
				break
			}
			nextIndex := int(m.transferIndex.Load())
			if nextIndex <= 0 {
				i = -1
				advance = false
				break
			}
			nextBound := max(nextIndex-stride, 0)
			if m.transferIndex.CompareAndSwap(int64(nextIndex), int64(nextBound)) {
				bound = nextBound
				i = nextIndex - 1
				advance = false
			}
		}
		if i < 0 || i >= n {
			if finishing {
				m.nextTable.Store(nil)
				m.table.Store(next)
				m.totalGrowths.Add(1)
				m.sizeCtl.Store(m.threshold(n << 1))
				return
			}
			sc := m.sizeCtl.Load()
			if m.sizeCtl.CompareAndSwap(sc, sc-1) {
				if sc-2 != resizeStamp(n)<<resizeStampShift {
					return
				}
				finishing, advance = true, true
				i = n // recheck before commit
			}
			continue
		}
		switch f := tab.at(i); {
		case f == nil:
			advance = tab.cas(i, nil, fwd)
		case f.kind == forwardKind:
			advance = true
		default:
			advance = m.transferBin(tab, next, i, f, fwd)
		}
	}
}

// transferBin splits bin i of tab into bins i and i+n of next and leaves
// fwd behind. It returns false if f no longer heads the bin.
func (m *Map[K, V]) transferBin(tab, next *table[K, V], i int, f, fwd *node[K, V]) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tab.at(i) != f {
		return false
	}
	n := len(tab.bins)
	var lo, hi *node[K, V]
	switch f.kind {
	case entryKind:
		lo, hi = splitChain(f, n)
	case treeKind:
		lo, hi = m.splitTree(f, n)
	default:
		return false
	}
	next.set(i, lo)
	next.set(i+n, hi)
	tab.set(i, fwd)
	return true
}

// splitTree copies the entries of tree bin f into a low and a high list and
// turns each into a bin of its own.
func (m *Map[K, V]) splitTree(f *node[K, V], n int) (lo, hi *node[K, V]) {
	var loHead, loTail, hiHead, hiTail *treeNode[K, V]
	lc, hc := 0, 0
	for e := f.tree().first.Load(); e != nil; e = e.next.Load() {
		p := newTreeNode(e.hash, e.key, e.val.Load())
		if e.hash&uint64(n) == 0 {
			if p.prev = loTail; loTail == nil {
				loHead = p
			} else {
				loTail.next.Store(&p.node)
			}
			loTail = p
			lc++
		} else {
			if p.prev = hiTail; hiTail == nil {
				hiHead = p
			} else {
				hiTail.next.Store(&p.node)
			}
			hiTail = p
			hc++
		}
	}
	return m.rebin(f, loHead, lc, hc), m.rebin(f, hiHead, hc, lc)
}

// rebin turns one side of a split tree into a bin. A side that took every
// entry reuses the old bin as is.
func (m *Map[K, V]) rebin(f *node[K, V], head *treeNode[K, V], count, other int) *node[K, V] {
	switch {
	case count == 0:
		return nil
	case count <= m.untreeifyThreshold:
		m.untreeifications.Add(1)
		return untreeify(&head.node, nil)
	case other != 0:
		return m.newTreeBin(head, count)
	default:
		return f
	}
}

// treeifyBin replaces the chain at index i with a tree bin, or doubles the
// table instead while it is shorter than the minimum treeify capacity.
func (m *Map[K, V]) treeifyBin(tab *table[K, V], i int) {
	if n := len(tab.bins); n < m.minTreeifyCapacity {
		m.tryPresize(n << 1)
		return
	}
	f := tab.at(i)
	if f == nil || f.kind != entryKind {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tab.at(i) != f {
		return
	}
	var hd, tl *treeNode[K, V]
	count := 0
	for e := f; e != nil; e = e.next.Load() {
		p := newTreeNode(e.hash, e.key, e.val.Load())
		if p.prev = tl; tl == nil {
			hd = p
		} else {
			tl.next.Store(&p.node)
		}
		tl = p
		count++
	}
	if count < m.treeifyThreshold {
		return
	}
	tab.set(i, m.newTreeBin(hd, count))
	m.treeifications.Add(1)
}
