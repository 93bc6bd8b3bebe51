package chm

import (
	"cmp"
	"hash/maphash"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

type hashFunc func(key unsafe.Pointer, seed uint64) uint64
type equalFunc func(a, b unsafe.Pointer) bool
type compareFunc func(a, b unsafe.Pointer) int

// defaultKeyHasher picks the hasher for K. Integer keys hash to themselves
// xored with the map seed, strings go through xxhash and everything else
// through maphash.
func defaultKeyHasher[K comparable](seed maphash.Seed) hashFunc {
	t := reflect.TypeFor[K]()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		switch t.Size() {
		case 1:
			return func(p unsafe.Pointer, seed uint64) uint64 {
				return uint64(*(*uint8)(p)) ^ seed
			}
		case 2:
			return func(p unsafe.Pointer, seed uint64) uint64 {
				return uint64(*(*uint16)(p)) ^ seed
			}
		case 4:
			return func(p unsafe.Pointer, seed uint64) uint64 {
				return uint64(*(*uint32)(p)) ^ seed
			}
		default:
			return func(p unsafe.Pointer, seed uint64) uint64 {
				return *(*uint64)(p) ^ seed
			}
		}
	case reflect.String:
		return func(p unsafe.Pointer, _ uint64) uint64 {
			return xxhash.Sum64String(*(*string)(p))
		}
	default:
		return func(p unsafe.Pointer, _ uint64) uint64 {
			return maphash.Comparable(seed, *(*K)(p))
		}
	}
}

// sipKeyHasher hashes string keys with SipHash-2-4 under the given key.
func sipKeyHasher(k0, k1 uint64) hashFunc {
	return func(p unsafe.Pointer, _ uint64) uint64 {
		s := *(*string)(p)
		return siphash.Hash(k0, k1, unsafe.Slice(unsafe.StringData(s), len(s)))
	}
}

// defaultValueEqual returns nil when V cannot be compared with ==.
func defaultValueEqual[V any]() equalFunc {
	if !reflect.TypeFor[V]().Comparable() {
		return nil
	}
	return func(a, b unsafe.Pointer) bool {
		return any(*(*V)(a)) == any(*(*V)(b))
	}
}

type comparer[K any] interface {
	Compare(other K) int
}

// defaultKeyCompare orders keys of an ordered kind, or keys with a
// Compare(K) int method. It returns nil for anything else; tree bins then
// fall back to a seeded tie-break.
func defaultKeyCompare[K comparable]() compareFunc {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.Int:
		return orderedCompare[int]
	case reflect.Int8:
		return orderedCompare[int8]
	case reflect.Int16:
		return orderedCompare[int16]
	case reflect.Int32:
		return orderedCompare[int32]
	case reflect.Int64:
		return orderedCompare[int64]
	case reflect.Uint:
		return orderedCompare[uint]
	case reflect.Uint8:
		return orderedCompare[uint8]
	case reflect.Uint16:
		return orderedCompare[uint16]
	case reflect.Uint32:
		return orderedCompare[uint32]
	case reflect.Uint64:
		return orderedCompare[uint64]
	case reflect.Uintptr:
		return orderedCompare[uintptr]
	case reflect.Float32:
		return orderedCompare[float32]
	case reflect.Float64:
		return orderedCompare[float64]
	case reflect.String:
		return orderedCompare[string]
	}
	if _, ok := any(*new(K)).(comparer[K]); ok {
		return func(a, b unsafe.Pointer) int {
			return any(*(*K)(a)).(comparer[K]).Compare(*(*K)(b))
		}
	}
	return nil
}

func orderedCompare[T cmp.Ordered](a, b unsafe.Pointer) int {
	return cmp.Compare(*(*T)(a), *(*T)(b))
}

// nilable reports whether values of t can be nil. For every such kind the
// first machine word of the value is nil exactly when the value is nil.
func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice,
		reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	}
	return false
}

func isNil(p unsafe.Pointer) bool {
	return *(*unsafe.Pointer)(p) == nil
}

// spread folds the upper bits into the lower ones used for bin selection.
func spread(h uint64) uint64 {
	return h ^ (h >> 16) ^ (h >> 32)
}
