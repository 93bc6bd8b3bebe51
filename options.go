package chm

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"unsafe"
)

const (
	// DefaultCapacity is the table length used when none is configured.
	DefaultCapacity = 16
	// MaximumCapacity is the largest table length. Growth stops there and
	// bins absorb further entries.
	MaximumCapacity = 1 << 30
	// DefaultLoadFactor is the ratio of entries to bins that triggers a resize.
	DefaultLoadFactor = 0.75
	// DefaultTreeifyThreshold is the bin length at which a chain becomes a tree.
	DefaultTreeifyThreshold = 8
	// DefaultUntreeifyThreshold is the size at which a tree bin reverts to a chain.
	DefaultUntreeifyThreshold = 6
	// DefaultMinTreeifyCapacity is the smallest table whose bins may be
	// treeified; smaller tables are doubled instead.
	DefaultMinTreeifyCapacity = 64
	// DefaultTransferStride is the minimum number of bins a goroutine claims
	// at a time while transferring.
	DefaultTransferStride = 16
)

// MapConfig defines configurable Map options.
type MapConfig struct {
	capacity           int
	sizeHint           int
	loadFactor         float64
	concurrency        int
	concurrencySet     bool
	treeifyThreshold   int
	untreeifyThreshold int
	minTreeifyCapacity int
	transferStride     int

	keyHash  hashFunc
	keyType  reflect.Type
	valEqual equalFunc
	valType  reflect.Type
	keyCmp   compareFunc
	cmpType  reflect.Type
	sipKey   *[2]uint64
}

func defaultConfig() *MapConfig {
	return &MapConfig{
		loadFactor:         DefaultLoadFactor,
		concurrency:        runtime.GOMAXPROCS(0),
		treeifyThreshold:   DefaultTreeifyThreshold,
		untreeifyThreshold: DefaultUntreeifyThreshold,
		minTreeifyCapacity: DefaultMinTreeifyCapacity,
		transferStride:     DefaultTransferStride,
	}
}

// WithCapacity configures the initial number of bins, rounded up to a power
// of two. Zero keeps the default.
func WithCapacity(capacity int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.capacity = capacity
	}
}

// WithPresize configures new Map instance with capacity enough to hold
// sizeHint entries without resizing. If sizeHint is zero, the value is ignored.
func WithPresize(sizeHint int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.sizeHint = sizeHint
	}
}

// WithLoadFactor sets the entries-per-bin ratio that triggers growth.
func WithLoadFactor(loadFactor float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.loadFactor = loadFactor
	}
}

// WithConcurrencyLevel sets the expected number of concurrently updating
// goroutines. It bounds the counter cells and, as with WithPresize, the
// initial capacity.
func WithConcurrencyLevel(level int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.concurrency = level
		c.concurrencySet = true
	}
}

// WithTreeifyThreshold sets the chain length at which a bin becomes a tree.
func WithTreeifyThreshold(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.treeifyThreshold = n
	}
}

// WithUntreeifyThreshold sets the size at or below which a tree bin becomes
// a chain again.
func WithUntreeifyThreshold(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.untreeifyThreshold = n
	}
}

// WithMinTreeifyCapacity sets the smallest table length allowing tree bins.
func WithMinTreeifyCapacity(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.minTreeifyCapacity = n
	}
}

// WithTransferStride sets the minimum number of bins claimed per transfer step.
func WithTransferStride(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.transferStride = n
	}
}

// WithKeyHasher sets a custom key hasher. seed is fixed per map.
// K must match the key type of the map being created.
func WithKeyHasher[K comparable](keyHash func(key K, seed uint64) uint64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyType = reflect.TypeFor[K]()
		c.sipKey = nil
		c.keyHash = func(p unsafe.Pointer, seed uint64) uint64 {
			return keyHash(*(*K)(p), seed)
		}
	}
}

// WithKeyHasherUnsafe sets a custom key hasher working on a pointer to the key.
// The following example uses an unbalanced and unsafe version:
//
//	m, _ := New[int, int](WithKeyHasherUnsafe(
//		func(ptr unsafe.Pointer, _ uint64) uint64 {
//			return uint64(*(*int)(ptr))
//		}))
func WithKeyHasherUnsafe(keyHash func(ptr unsafe.Pointer, seed uint64) uint64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyType = nil
		c.sipKey = nil
		c.keyHash = keyHash
	}
}

// WithSipHasher hashes string keys with SipHash-2-4 keyed by k0 and k1.
// It is meant for keys chosen by untrusted parties.
func WithSipHasher(k0, k1 uint64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyType = nil
		c.sipKey = &[2]uint64{k0, k1}
		c.keyHash = sipKeyHasher(k0, k1)
	}
}

// WithValueEqual sets the equality used by CompareAndRemove,
// CompareAndReplace and ContainsValue. It is required when V is not comparable.
func WithValueEqual[V any](valEqual func(a, b V) bool) func(*MapConfig) {
	return func(c *MapConfig) {
		c.valType = reflect.TypeFor[V]()
		c.valEqual = func(a, b unsafe.Pointer) bool {
			return valEqual(*(*V)(a), *(*V)(b))
		}
	}
}

// WithKeyCompare sets the order used inside tree bins between keys with the
// same hash. It must be consistent with ==.
func WithKeyCompare[K comparable](compare func(a, b K) int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.cmpType = reflect.TypeFor[K]()
		c.keyCmp = func(a, b unsafe.Pointer) int {
			return compare(*(*K)(a), *(*K)(b))
		}
	}
}

// validateConfig checks c against the key and value types of the map.
func validateConfig[K comparable, V any](c *MapConfig) error {
	const op = "New"
	kt, vt := reflect.TypeFor[K](), reflect.TypeFor[V]()
	switch {
	case c.capacity < 0:
		return invalidArgument(op, "negative capacity %d", c.capacity)
	case c.capacity > MaximumCapacity:
		return capacityExceeded(c.capacity)
	case c.sizeHint < 0:
		return invalidArgument(op, "negative size hint %d", c.sizeHint)
	case math.IsNaN(c.loadFactor) || math.IsInf(c.loadFactor, 0) || c.loadFactor <= 0:
		return invalidArgument(op, "load factor %v", c.loadFactor)
	case c.concurrency <= 0:
		return invalidArgument(op, "concurrency level %d", c.concurrency)
	case c.treeifyThreshold < 2:
		return invalidArgument(op, "treeify threshold %d", c.treeifyThreshold)
	case c.untreeifyThreshold < 0 || c.untreeifyThreshold >= c.treeifyThreshold:
		return invalidArgument(op, "untreeify threshold %d with treeify threshold %d",
			c.untreeifyThreshold, c.treeifyThreshold)
	case c.minTreeifyCapacity < 0:
		return invalidArgument(op, "min treeify capacity %d", c.minTreeifyCapacity)
	case c.transferStride <= 0:
		return invalidArgument(op, "transfer stride %d", c.transferStride)
	case c.keyType != nil && c.keyType != kt:
		return invalidArgument(op, "key hasher for %v used with key type %v", c.keyType, kt)
	case c.valType != nil && c.valType != vt:
		return invalidArgument(op, "value equality for %v used with value type %v", c.valType, vt)
	case c.cmpType != nil && c.cmpType != kt:
		return invalidArgument(op, "key comparator for %v used with key type %v", c.cmpType, kt)
	case c.sipKey != nil && kt.Kind() != reflect.String:
		return invalidArgument(op, "SipHash needs string keys, got %v", kt)
	}
	if _, err := initialTableLen(c); err != nil {
		return err
	}
	return nil
}

// initialTableLen returns the table length the first mutation allocates,
// or 0 when the default applies.
func initialTableLen(c *MapConfig) (int, error) {
	n := 0
	if c.capacity > 0 {
		n = nextPowOf2(c.capacity)
	}
	hint := c.sizeHint
	if c.concurrencySet && hint < c.concurrency {
		hint = c.concurrency
	}
	if hint > 0 {
		size := 1 + float64(hint)/c.loadFactor
		if size > MaximumCapacity {
			return 0, capacityExceeded(hint)
		}
		n = max(n, nextPowOf2(int(size)))
	}
	return n, nil
}

func capacityExceeded(n int) error {
	return fmt.Errorf("%w: %d exceeds %d bins", ErrCapacityExceeded, n, MaximumCapacity)
}
