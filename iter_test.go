package chm

import (
	"sort"
	"strconv"
	"testing"
)

func TestMap_Range(t *testing.T) {
	const numEntries = 1000
	m := MustNew[string, int]()
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	iters := 0
	met := make(map[string]int)
	m.Range(func(key string, value int) bool {
		if key != strconv.Itoa(value) {
			t.Fatalf("got unexpected key/value for iteration %d: %v/%v", iters, key, value)
			return false
		}
		met[key] += 1
		iters++
		return true
	})
	if iters != numEntries {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
	for i := 0; i < numEntries; i++ {
		if c := met[strconv.Itoa(i)]; c != 1 {
			t.Fatalf("range did not iterate correctly over %d: %d", i, c)
		}
	}
}

func TestMap_Range_FalseReturned(t *testing.T) {
	m := MustNew[string, int]()
	for i := 0; i < 100; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	iters := 0
	m.Range(func(key string, value int) bool {
		iters++
		return iters != 13
	})
	if iters != 13 {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
}

func TestMap_Range_NestedRemove(t *testing.T) {
	const numEntries = 256
	m := MustNew[string, int]()
	for i := 0; i < numEntries; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	m.Range(func(key string, value int) bool {
		m.Remove(key)
		return true
	})
	for i := 0; i < numEntries; i++ {
		if _, ok := m.Get(strconv.Itoa(i)); ok {
			t.Fatalf("value found for %d", i)
		}
	}
}

func TestMap_Seqs(t *testing.T) {
	m := MustNew[int, string]()
	for i := 0; i < 50; i++ {
		m.Put(i, strconv.Itoa(i))
	}
	count := 0
	for k, v := range m.All() {
		if strconv.Itoa(k) != v {
			t.Fatalf("values do not match for %d: %v", k, v)
		}
		count++
	}
	if count != 50 {
		t.Fatalf("50 mappings expected, got: %d", count)
	}

	var keys []int
	for k := range m.Keys() {
		keys = append(keys, k)
		if len(keys) == 10 {
			break
		}
	}
	if len(keys) != 10 {
		t.Fatalf("early break expected after 10 keys, got: %d", len(keys))
	}

	var values []string
	for v := range m.Values() {
		values = append(values, v)
	}
	sort.Strings(values)
	if len(values) != 50 || values[0] != "0" {
		t.Fatalf("50 values expected, got: %v", values)
	}
}

func TestIterator(t *testing.T) {
	var empty Map[string, int]
	if it := empty.Iter(); it.Next() || it.Remove() {
		t.Fatal("an empty map has nothing to iterate")
	}

	m := MustNew[int, int]()
	for i := 0; i < 1000; i++ {
		m.Put(i, -i)
	}
	seen := make(map[int]bool)
	for it := m.Iter(); it.Next(); {
		if it.Value() != -it.Key() {
			t.Fatalf("values do not match for %d: %d", it.Key(), it.Value())
		}
		if seen[it.Key()] {
			t.Fatalf("key %d was reported twice", it.Key())
		}
		seen[it.Key()] = true
	}
	if len(seen) != 1000 {
		t.Fatalf("1000 keys expected, got: %d", len(seen))
	}
}

func TestIterator_Remove(t *testing.T) {
	m := MustNew[int, int]()
	for i := 0; i < 1000; i++ {
		m.Put(i, i)
	}
	it := m.Iter()
	if it.Remove() {
		t.Fatal("Remove before Next must fail")
	}
	for it.Next() {
		if it.Value()%2 == 0 {
			if !it.Remove() {
				t.Fatalf("removal of %d failed", it.Key())
			}
			if it.Remove() {
				t.Fatalf("second removal of %d succeeded", it.Key())
			}
		}
	}
	if m.Size() != 500 {
		t.Fatalf("size of 500 was expected, got: %d", m.Size())
	}
	for i := 0; i < 1000; i++ {
		if _, ok := m.Get(i); ok != (i%2 == 1) {
			t.Fatalf("unexpected presence of %d: %v", i, ok)
		}
	}
}
