package chm

import (
	"math/rand/v2"
	"sync/atomic"
	"unsafe"
)

// counter is a striped entry counter. Updates go to base until a CAS on it
// fails, after which they are spread over lazily allocated cells picked by a
// random probe. The cell table doubles under contention up to maxCells.
type counter struct {
	base     atomic.Int64
	busy     atomic.Bool // spin lock guarding cell creation and growth
	cells    atomic.Pointer[cellTable]
	maxCells int

	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		base     atomic.Int64
		busy     atomic.Bool
		cells    atomic.Pointer[cellTable]
		maxCells int
	}{})%CacheLineSize) % CacheLineSize]byte
}

type cellTable struct {
	cells []atomic.Pointer[counterCell]
}

// add adds x to the count. When it returns true, s is the exact sum at the
// time of the update and the caller may use it to decide on a resize. Cell
// updates on bins holding at most one entry (check <= 1) skip the sum.
func (c *counter) add(x int64, check int) (s int64, ok bool) {
	ct := c.cells.Load()
	if ct == nil {
		b := c.base.Load()
		if c.base.CompareAndSwap(b, b+x) {
			return b + x, true
		}
	}
	probe := rand.Uint32() | 1
	uncontended := true
	if ct != nil {
		if cell := ct.cells[probe&uint32(len(ct.cells)-1)].Load(); cell != nil {
			if cell.tryAdd(x) {
				if check <= 1 {
					return 0, false
				}
				return c.sum(), true
			}
			uncontended = false
		}
	}
	c.fullAdd(x, probe, uncontended)
	return 0, false
}

func (c *counter) fullAdd(x int64, probe uint32, uncontended bool) {
	collide := false
	for {
		ct := c.cells.Load()
		switch {
		case ct != nil:
			n := uint32(len(ct.cells))
			slot := &ct.cells[probe&(n-1)]
			cell := slot.Load()
			switch {
			case cell == nil:
				if !c.busy.Load() {
					nc := new(counterCell)
					nc.v.Store(x)
					if c.busy.CompareAndSwap(false, true) {
						created := false
						if c.cells.Load() == ct && slot.Load() == nil {
							slot.Store(nc)
							created = true
						}
						c.busy.Store(false)
						if created {
							return
						}
						continue
					}
				}
				collide = false
			case !uncontended:
				uncontended = true
			case cell.tryAdd(x):
				return
			case c.cells.Load() != ct || int(n) >= c.maxCells:
				collide = false
			case !collide:
				collide = true
			case c.busy.CompareAndSwap(false, true):
				if c.cells.Load() == ct {
					c.cells.Store(ct.grow())
				}
				c.busy.Store(false)
				collide = false
				continue
			}
			probe = nextProbe(probe)

		case !c.busy.Load() && c.busy.CompareAndSwap(false, true):
			initialized := false
			if c.cells.Load() == nil {
				ct := &cellTable{cells: make([]atomic.Pointer[counterCell], 2)}
				nc := new(counterCell)
				nc.v.Store(x)
				ct.cells[probe&1].Store(nc)
				c.cells.Store(ct)
				initialized = true
			}
			c.busy.Store(false)
			if initialized {
				return
			}

		default:
			if b := c.base.Load(); c.base.CompareAndSwap(b, b+x) {
				return
			}
		}
	}
}

func (cell *counterCell) tryAdd(x int64) bool {
	v := cell.v.Load()
	return cell.v.CompareAndSwap(v, v+x)
}

// grow returns a table twice as large sharing the existing cells.
func (ct *cellTable) grow() *cellTable {
	nt := &cellTable{cells: make([]atomic.Pointer[counterCell], len(ct.cells)<<1)}
	for i := range ct.cells {
		nt.cells[i].Store(ct.cells[i].Load())
	}
	return nt
}

// sum returns base plus every cell. It is exact only in a quiescent state.
func (c *counter) sum() int64 {
	s := c.base.Load()
	if ct := c.cells.Load(); ct != nil {
		for i := range ct.cells {
			if cell := ct.cells[i].Load(); cell != nil {
				s += cell.v.Load()
			}
		}
	}
	return s
}

// cellCount returns the number of allocated cells.
func (c *counter) cellCount() int {
	ct := c.cells.Load()
	if ct == nil {
		return 0
	}
	n := 0
	for i := range ct.cells {
		if ct.cells[i].Load() != nil {
			n++
		}
	}
	return n
}

// nextProbe is a xorshift step; it never returns zero for a non-zero input.
func nextProbe(p uint32) uint32 {
	p ^= p << 13
	p ^= p >> 17
	p ^= p << 5
	return p
}
