package chm

import (
	"math"
	"sync"
	"testing"
)

func BenchmarkMapGetSmall(b *testing.B) {
	benchmarkMapGet(b, testDataSmall[:])
}

func BenchmarkMapGet(b *testing.B) {
	benchmarkMapGet(b, testData[:])
}

func BenchmarkMapGetLarge(b *testing.B) {
	benchmarkMapGet(b, testDataLarge[:])
}

func benchmarkMapGet(b *testing.B, data []string) {
	b.ReportAllocs()
	var m Map[string, int]
	for i := range data {
		m.PutIfAbsent(data[i], i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Get(data[i])
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapPutIfAbsent(b *testing.B) {
	benchmarkMapPutIfAbsent(b, testData[:])
}

func BenchmarkMapPutIfAbsentLarge(b *testing.B) {
	benchmarkMapPutIfAbsent(b, testDataLarge[:])
}

func benchmarkMapPutIfAbsent(b *testing.B, data []string) {
	b.ReportAllocs()
	var m Map[string, int]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.PutIfAbsent(data[i], i)
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapPutRemove(b *testing.B) {
	benchmarkMapPutRemove(b, testDataInt[:])
}

func BenchmarkMapPutRemoveLarge(b *testing.B) {
	benchmarkMapPutRemove(b, testDataIntLarge[:])
}

func benchmarkMapPutRemove(b *testing.B, data []int) {
	b.ReportAllocs()
	var m Map[int, int]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i&1 == 0 {
				m.Put(data[i], i)
			} else {
				m.Remove(data[i-1])
			}
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapMerge(b *testing.B) {
	b.ReportAllocs()
	var m Map[int, int]
	add := func(old, v int) (int, bool) {
		return old + v, true
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Merge(testDataInt[i], 1, add)
			i++
			if i >= len(testDataInt) {
				i = 0
			}
		}
	})
}

func BenchmarkMapGrowth(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		var m Map[int, int]
		for _, k := range testDataIntLarge {
			m.Put(k, k)
		}
	}
}

func BenchmarkMapCollidingGet(b *testing.B) {
	m := MustNew[int, int](WithKeyHasher(constHasher[int]))
	for _, k := range testDataIntLarge[:10_000] {
		m.Put(k, k)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Get(i)
			i++
			if i >= 10_000 {
				i = 0
			}
		}
	})
}

func BenchmarkMapForEach(b *testing.B) {
	m := newIntMap(len(testDataIntLarge))
	for _, threshold := range []struct {
		name string
		n    int64
	}{{"sequential", math.MaxInt64}, {"parallel", 1024}} {
		b.Run(threshold.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = ReduceValues(m, threshold.n, func(a, b int) int { return a + b })
			}
		})
	}
}

func BenchmarkSyncMapGet(b *testing.B) {
	b.ReportAllocs()
	var m sync.Map
	for i, s := range testData {
		m.Store(s, i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Load(testData[i])
			i++
			if i >= len(testData) {
				i = 0
			}
		}
	})
}
