package chm

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

func newIntMap(numEntries int) *Map[int, int] {
	m := MustNew[int, int](WithPresize(numEntries))
	for i := 0; i < numEntries; i++ {
		m.Put(i, i)
	}
	return m
}

func TestMap_BatchFor(t *testing.T) {
	m := newIntMap(1000)
	if b := m.batchFor(math.MaxInt64); b != 0 {
		t.Fatalf("sequential run expected, got batch %d", b)
	}
	if b := m.batchFor(1000); b != 0 {
		t.Fatalf("sequential run expected at the threshold, got batch %d", b)
	}
	if b := m.batchFor(100); b != min(10, 4*m.ncpu) {
		t.Fatalf("batch %d expected, got: %d", min(10, 4*m.ncpu), b)
	}
	if b := m.batchFor(1); b <= 0 {
		t.Fatalf("parallel run expected, got batch %d", b)
	}
	if b := MustNew[int, int]().batchFor(1); b != 0 {
		t.Fatalf("sequential run expected on an empty map, got batch %d", b)
	}
}

func TestMap_ForEach(t *testing.T) {
	const numEntries = 10_000
	m := newIntMap(numEntries)
	for _, threshold := range []int64{math.MaxInt64, 1000, 1} {
		var sum, count atomic.Int64
		m.ForEach(threshold, func(k, v int) {
			if k != v {
				t.Errorf("values do not match for %d: %d", k, v)
			}
			sum.Add(int64(v))
			count.Add(1)
		})
		if count.Load() != numEntries || sum.Load() != numEntries*(numEntries-1)/2 {
			t.Fatalf("threshold %d: visited %d entries, sum %d", threshold, count.Load(), sum.Load())
		}

		var keys sync.Map
		var dup atomic.Bool
		m.ForEachKey(threshold, func(k int) {
			if _, loaded := keys.LoadOrStore(k, true); loaded {
				dup.Store(true)
			}
		})
		if dup.Load() {
			t.Fatalf("threshold %d: a key was visited twice", threshold)
		}

		var vsum atomic.Int64
		m.ForEachValue(threshold, func(v int) {
			vsum.Add(int64(v))
		})
		if vsum.Load() != sum.Load() {
			t.Fatalf("threshold %d: value sum %d, expected %d", threshold, vsum.Load(), sum.Load())
		}
	}
}

func TestMap_ForEachEmpty(t *testing.T) {
	var m Map[string, int]
	m.ForEach(1, func(string, int) {
		t.Fatal("no call expected on an empty map")
	})
}

func TestMap_ForEachPanic(t *testing.T) {
	m := newIntMap(10_000)
	for _, threshold := range []int64{math.MaxInt64, 1} {
		func() {
			defer func() {
				if r := recover(); r != "stop" {
					t.Fatalf("threshold %d: stop panic expected, got: %v", threshold, r)
				}
			}()
			m.ForEach(threshold, func(k, _ int) {
				if k == 5000 {
					panic("stop")
				}
			})
		}()
	}
	// The map stays usable.
	if v, ok := m.Get(5000); !ok || v != 5000 {
		t.Fatalf("values do not match for 5000: %v", v)
	}
}

func TestSearch(t *testing.T) {
	const numEntries = 10_000
	m := newIntMap(numEntries)
	for _, threshold := range []int64{math.MaxInt64, 1} {
		r, ok := Search(m, threshold, func(k, v int) (string, bool) {
			return "found", k == 4321
		})
		if !ok || r != "found" {
			t.Fatalf("threshold %d: result expected, got: %q %v", threshold, r, ok)
		}
		_, ok = Search(m, threshold, func(k, v int) (int, bool) {
			return 0, k < 0
		})
		if ok {
			t.Fatalf("threshold %d: no result expected", threshold)
		}
		k, ok := SearchKeys(m, threshold, func(k int) (int, bool) {
			return k, k > 0 && k%1000 == 0
		})
		if !ok || k%1000 != 0 || k == 0 {
			t.Fatalf("threshold %d: a multiple of 1000 expected, got: %d", threshold, k)
		}
		v, ok := SearchValues(m, threshold, func(v int) (int, bool) {
			return v * 2, v == numEntries-1
		})
		if !ok || v != 2*(numEntries-1) {
			t.Fatalf("threshold %d: %d expected, got: %d", threshold, 2*(numEntries-1), v)
		}
	}
}

func TestReduce(t *testing.T) {
	const numEntries = 10_000
	m := newIntMap(numEntries)
	sum := func(a, b int) int { return a + b }
	for _, threshold := range []int64{math.MaxInt64, 100, 1} {
		r, ok := Reduce(m, threshold, func(k, v int) (int, bool) {
			return v, v%2 == 0
		}, sum)
		if want := numEntries * (numEntries - 2) / 4; !ok || r != want {
			t.Fatalf("threshold %d: sum of evens %d expected, got: %d", threshold, want, r)
		}
		_, ok = Reduce(m, threshold, func(k, v int) (int, bool) {
			return 0, false
		}, sum)
		if ok {
			t.Fatalf("threshold %d: no result expected", threshold)
		}
		k, ok := ReduceKeys(m, threshold, func(a, b int) int { return max(a, b) })
		if !ok || k != numEntries-1 {
			t.Fatalf("threshold %d: max key %d expected, got: %d", threshold, numEntries-1, k)
		}
		v, ok := ReduceValues(m, threshold, func(a, b int) int { return min(a, b) })
		if !ok || v != 0 {
			t.Fatalf("threshold %d: min value 0 expected, got: %d", threshold, v)
		}
	}
	if _, ok := ReduceValues(MustNew[int, int](), 1, func(a, b int) int { return a + b }); ok {
		t.Fatal("no result expected on an empty map")
	}
}

func TestMap_ForEachDuringUpdates(t *testing.T) {
	const numEntries = 10_000
	m := newIntMap(numEntries)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := numEntries; i < 4*numEntries; i++ {
			m.Put(i, i)
			m.Remove(i - numEntries/2)
		}
	}()
	var seen sync.Map
	m.ForEachKey(1, func(k int) {
		if _, loaded := seen.LoadOrStore(k, true); loaded {
			t.Errorf("key %d was visited twice", k)
		}
	})
	wg.Wait()
}
