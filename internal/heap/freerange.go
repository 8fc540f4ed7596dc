package heap

import "github.com/google/btree"

// rangeItem is one entry in the FreeRangeSet: a free Large range, keyed by
// (size, addr) so the set orders itself for both best-fit (take) and
// largest-first (takeGreedy) extraction.
type rangeItem struct {
	addr  uintptr
	size  uintptr
	chunk *Chunk
}

func rangeLess(a, b rangeItem) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.addr < b.addr
}

// freeRangeSet is an ordered multi-map of size -> Range over every Large
// chunk's free ranges, backed by a B-tree so both best-fit extraction
// (smallest range that still satisfies a request) and scavenging (largest
// range first) are O(log n) instead of a linear scan.
type freeRangeSet struct {
	tree *btree.BTreeG[rangeItem]
}

func newFreeRangeSet() *freeRangeSet {
	return &freeRangeSet{tree: btree.NewG(32, rangeLess)}
}

func (s *freeRangeSet) insert(c *Chunk, addr, size uintptr) {
	s.tree.ReplaceOrInsert(rangeItem{addr: addr, size: size, chunk: c})
}

func (s *freeRangeSet) deleteItem(addr, size uintptr) {
	s.tree.Delete(rangeItem{addr: addr, size: size})
}

// take removes and returns the smallest free range whose size is >= want
// (best fit), or ok=false if none exists.
func (s *freeRangeSet) take(want uintptr) (item rangeItem, ok bool) {
	s.tree.AscendGreaterOrEqual(rangeItem{size: want}, func(it rangeItem) bool {
		item, ok = it, true
		return false
	})
	if ok {
		s.tree.Delete(item)
	}
	return item, ok
}

// takeGreedy removes and returns the largest free range whose interior
// (the range rounded inward to alignment) is non-empty, or ok=false if the
// set is empty or every range is smaller than one alignment unit.
func (s *freeRangeSet) takeGreedy(alignment uintptr) (item rangeItem, ok bool) {
	s.tree.Descend(func(it rangeItem) bool {
		start := roundUp(it.addr, alignment)
		end := roundDown(it.addr+it.size, alignment)
		if end > start {
			item, ok = it, true
			return false
		}
		return true
	})
	if ok {
		s.tree.Delete(item)
	}
	return item, ok
}

func (s *freeRangeSet) len() int { return s.tree.Len() }

func roundUp(v, quantum uintptr) uintptr   { return (v + quantum - 1) &^ (quantum - 1) }
func roundDown(v, quantum uintptr) uintptr { return v &^ (quantum - 1) }
