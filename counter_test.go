package chm

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCounter_Sequential(t *testing.T) {
	var c counter
	c.maxCells = 8
	for i := 0; i < 100; i++ {
		s, ok := c.add(1, 0)
		if !ok || s != int64(i+1) {
			t.Fatalf("exact sum %d expected, got: %d %v", i+1, s, ok)
		}
	}
	c.add(-40, -1)
	if s := c.sum(); s != 60 {
		t.Fatalf("sum of 60 expected, got: %d", s)
	}
	if n := c.cellCount(); n != 0 {
		t.Fatalf("no cells expected without contention, got: %d", n)
	}
}

func TestCounter_Parallel(t *testing.T) {
	const numWorkers = 16
	const numIters = 100_000
	var c counter
	c.maxCells = 4
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < numIters; i++ {
				if w%2 == 0 {
					c.add(2, 2)
				} else {
					c.add(-1, -1)
				}
			}
		}(w)
	}
	wg.Wait()
	if s := c.sum(); s != numWorkers/2*numIters {
		t.Fatalf("sum of %d expected, got: %d", numWorkers/2*numIters, s)
	}
	ct := c.cells.Load()
	if ct != nil && len(ct.cells) > c.maxCells {
		t.Fatalf("cell table grew past %d: %d", c.maxCells, len(ct.cells))
	}
	t.Logf("cells: %d", c.cellCount())
}

func TestCounter_CellTableGrow(t *testing.T) {
	ct := &cellTable{cells: make([]atomic.Pointer[counterCell], 2)}
	a, b := new(counterCell), new(counterCell)
	a.v.Store(1)
	b.v.Store(2)
	ct.cells[0].Store(a)
	ct.cells[1].Store(b)
	nt := ct.grow()
	if len(nt.cells) != 4 || nt.cells[0].Load() != a || nt.cells[1].Load() != b {
		t.Fatal("grown table must keep the existing cells in place")
	}
	if nt.cells[2].Load() != nil || nt.cells[3].Load() != nil {
		t.Fatal("new slots must be empty")
	}
}

func TestNextProbe(t *testing.T) {
	p := uint32(1)
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		p = nextProbe(p)
		if p == 0 {
			t.Fatal("probe must never become zero")
		}
		seen[p] = true
	}
	if len(seen) != 1000 {
		t.Fatalf("probe sequence repeats early: %d distinct", len(seen))
	}
}

func TestMap_CounterCellsBoundedByConcurrency(t *testing.T) {
	m := MustNew[int, int](WithConcurrencyLevel(2))
	if m.counter.maxCells != 2 {
		t.Fatalf("2 cells expected, got: %d", m.counter.maxCells)
	}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10_000; i++ {
				m.Put(w*10_000+i, i)
			}
		}(w)
	}
	wg.Wait()
	stats := m.Stats()
	if stats.CounterCells > 2 {
		t.Fatalf("at most 2 cells expected: %s", stats.ToString())
	}
	if stats.Counter != 80_000 || stats.Size != 80_000 {
		t.Fatalf("size 80000 expected: %s", stats.ToString())
	}
}
