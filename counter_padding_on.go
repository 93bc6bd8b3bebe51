//go:build !chm_opt_nopadding

package chm

import (
	"sync/atomic"
	"unsafe"
)

// enablePadding reports whether counter cells are padded to a full cache line.
// Build with the `chm_opt_nopadding` tag to trade contention for memory.
const enablePadding = true

// counterCell is one stripe of the size counter.
type counterCell struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		v atomic.Int64
	}{})%CacheLineSize) % CacheLineSize]byte
	v atomic.Int64
}
