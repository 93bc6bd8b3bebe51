package chm

// traverser walks the entries of a table range, following forwarding nodes
// into the tables they point at. Every entry present for the whole walk is
// returned exactly once, even across concurrent resizes. Entries added or
// removed meanwhile may or may not be seen.
//
// A forwarded bin i of a table of length n is covered by visiting bins i
// and i+n of the next table before moving on; tableStack remembers where to
// resume in the outer tables.
type traverser[K comparable, V any] struct {
	tab       *table[K, V]
	next      *node[K, V]
	stack     *tableStack[K, V]
	spare     *tableStack[K, V]
	index     int // index of the bin to use next
	baseIndex int // current index in the initial table
	baseLimit int // index bound for the initial table
	baseSize  int // length of the initial table
}

type tableStack[K comparable, V any] struct {
	length int
	index  int
	tab    *table[K, V]
	next   *tableStack[K, V]
}

func newTraverser[K comparable, V any](tab *table[K, V], size, index, limit int) *traverser[K, V] {
	return &traverser[K, V]{
		tab:       tab,
		baseSize:  size,
		baseIndex: index,
		index:     index,
		baseLimit: limit,
	}
}

// advance returns the next entry, or nil at the end.
func (t *traverser[K, V]) advance() *node[K, V] {
	e := t.next
	if e != nil {
		e = e.next.Load()
	}
	for {
		if e != nil {
			t.next = e
			return e
		}
		i := t.index
		if t.baseIndex >= t.baseLimit || t.tab == nil || i < 0 || i >= len(t.tab.bins) {
			t.next = nil
			return nil
		}
		tab := t.tab
		n := len(tab.bins)
		if e = tab.at(i); e != nil {
			switch e.kind {
			case forwardKind:
				t.tab = e.forward()
				e = nil
				t.pushState(tab, i, n)
				continue
			case treeKind:
				e = e.tree().first.Load()
			case reserveKind:
				e = nil
			}
		}
		if t.stack != nil {
			t.recoverState(n)
		} else if t.index = i + t.baseSize; t.index >= n {
			t.baseIndex++
			t.index = t.baseIndex
		}
	}
}

// pushState saves the position in tab before descending into its next table.
func (t *traverser[K, V]) pushState(tab *table[K, V], i, n int) {
	s := t.spare
	if s != nil {
		t.spare = s.next
	} else {
		s = &tableStack[K, V]{}
	}
	s.tab = tab
	s.length = n
	s.index = i
	s.next = t.stack
	t.stack = s
}

// recoverState pops saved positions whose mirror bins have all been
// visited.
func (t *traverser[K, V]) recoverState(n int) {
	var s *tableStack[K, V]
	for {
		s = t.stack
		if s == nil {
			break
		}
		t.index += s.length
		if t.index < n {
			break
		}
		n = s.length
		t.index = s.index
		t.tab = s.tab
		s.tab = nil
		t.stack = s.next
		s.next = t.spare
		t.spare = s
	}
	if s == nil {
		if t.index += t.baseSize; t.index >= n {
			t.baseIndex++
			t.index = t.baseIndex
		}
	}
}
