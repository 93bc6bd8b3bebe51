package chm

import (
	"runtime"
	"time"
)

const (
	// maxSpins bounds the yields before delay falls back to sleeping.
	maxSpins = 32
	// yieldSleep is the backoff once spinning has not helped.
	yieldSleep = 50 * time.Microsecond
)

// delay is the backoff step of every spin loop in this package.
func delay(spins *int) {
	if *spins < maxSpins {
		runtime.Gosched()
		*spins++
		return
	}
	// time.Sleep with a non-zero duration works effectively as backoff
	// under high concurrency.
	time.Sleep(yieldSleep)
	*spins = 0
}

// calcParallelism splits items into at most cpus chunks of at least
// threshold items each.
func calcParallelism(items, threshold, cpus int) (chunkSize, chunks int) {
	if items <= threshold {
		return items, 1
	}
	chunks = min(items/threshold, cpus)
	chunkSize = (items + chunks - 1) / chunks
	return chunkSize, chunks
}

// nextPowOf2 returns the smallest power of 2 that is greater than or equal to n.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	v := uint64(n - 1)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return int(v + 1)
}
