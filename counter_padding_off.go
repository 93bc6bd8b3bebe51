//go:build chm_opt_nopadding

package chm

import "sync/atomic"

const enablePadding = false

// counterCell is one stripe of the size counter.
type counterCell struct {
	v atomic.Int64
}
