package chm

import (
	"fmt"
	"strings"
)

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Map[K, V]) Stats() *MapStats {
	m.init()
	stats := &MapStats{
		Counter:          m.counter.sum(),
		CounterCells:     m.counter.cellCount(),
		TotalGrowths:     m.totalGrowths.Load(),
		Treeifications:   m.treeifications.Load(),
		Untreeifications: m.untreeifications.Load(),
		LoadFactor:       m.loadFactor,
	}
	tab := m.table.Load()
	if tab == nil {
		return stats
	}
	stats.Resizing = m.sizeCtl.Load() < 0
	stats.TableLen = len(tab.bins)
	for i := range tab.bins {
		f := tab.at(i)
		n := 0
		switch {
		case f == nil:
			stats.EmptyBins++
		case f.kind == entryKind:
			stats.ChainBins++
			n = chainLen(f)
		case f.kind == treeKind:
			stats.TreeBins++
			n = chainLen(f.tree().first.Load())
		case f.kind == forwardKind:
			stats.ForwardingBins++
		default:
			stats.ReservedBins++
		}
		stats.MaxBinLen = max(stats.MaxBinLen, n)
	}
	t := newTraverser(tab, len(tab.bins), 0, len(tab.bins))
	for e := t.advance(); e != nil; e = t.advance() {
		stats.Size++
	}
	return stats
}

// MapStats is Map statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// TableLen is the number of bins of the current table.
	TableLen int
	// EmptyBins is the number of bins holding nothing.
	EmptyBins int
	// ChainBins is the number of bins holding a linked chain.
	ChainBins int
	// TreeBins is the number of bins holding a red-black tree.
	TreeBins int
	// ForwardingBins is the number of bins already moved to the
	// next table by a running resize.
	ForwardingBins int
	// ReservedBins is the number of empty bins held by a running
	// compute function.
	ReservedBins int
	// MaxBinLen is the number of entries of the fullest bin.
	MaxBinLen int
	// Size is the number of entries found by walking the table.
	Size int
	// Counter is the number of entries according to the striped
	// counter. In case of concurrent map modifications this
	// number may be different from Size.
	Counter int64
	// CounterCells is the number of allocated counter cells.
	CounterCells int
	// TotalGrowths is the number of times the hash table grew.
	TotalGrowths uint32
	// Treeifications is the number of chains turned into trees.
	Treeifications uint32
	// Untreeifications is the number of trees turned back into
	// chains, by removal or by a split during growth.
	Untreeifications uint32
	// Resizing reports whether a resize was running.
	Resizing bool
	// LoadFactor is the configured load factor.
	LoadFactor float64
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("TableLen:         %d\n", s.TableLen))
	sb.WriteString(fmt.Sprintf("EmptyBins:        %d\n", s.EmptyBins))
	sb.WriteString(fmt.Sprintf("ChainBins:        %d\n", s.ChainBins))
	sb.WriteString(fmt.Sprintf("TreeBins:         %d\n", s.TreeBins))
	sb.WriteString(fmt.Sprintf("ForwardingBins:   %d\n", s.ForwardingBins))
	sb.WriteString(fmt.Sprintf("ReservedBins:     %d\n", s.ReservedBins))
	sb.WriteString(fmt.Sprintf("MaxBinLen:        %d\n", s.MaxBinLen))
	sb.WriteString(fmt.Sprintf("Size:             %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:          %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterCells:     %d\n", s.CounterCells))
	sb.WriteString(fmt.Sprintf("TotalGrowths:     %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("Treeifications:   %d\n", s.Treeifications))
	sb.WriteString(fmt.Sprintf("Untreeifications: %d\n", s.Untreeifications))
	sb.WriteString(fmt.Sprintf("Resizing:         %t\n", s.Resizing))
	sb.WriteString(fmt.Sprintf("LoadFactor:       %g\n", s.LoadFactor))
	sb.WriteString("}\n")
	return sb.String()
}
