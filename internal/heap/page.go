package heap

import "github.com/gomalloc/gomalloc/internal/sizeclass"

// lineState tracks how many live objects a Line currently holds.
type lineState struct {
	refCount int
}

// Page is a fixed-size slice of a Chunk serving one size class at a time.
type Page struct {
	chunk     *Chunk
	index     int
	base      uintptr
	sizeClass int // -1 when unowned
	refCount  int // number of referenced lines, invariant: == count(lines[i].refCount>0)
	lines     []lineState

	// list membership bookkeeping: a page is on exactly one of the
	// heap's lists at a time (active, pagesWithFreeLines, or a free
	// pool). freeListIdx is -1 unless the page is linked into one of
	// the heap's slice-backed lists, in which case it records its
	// position so removal is O(1) via swap-with-last.
	freeListIdx int
}

// Base returns the page's VM start address.
func (p *Page) Base() uintptr { return p.base }

// LineMetadata is the precomputed, per-(sizeClass, lineIndex) layout of
// objects inside a page: which byte a line's first object starts at, and how
// many object starts fall within the line. It is computed once, at Heap
// construction, for every dense size class and both page flavors (Small and
// Medium), and never changes afterward.
type LineMetadata struct {
	StartOffset uintptr
	ObjectCount int
}

// buildLineMetadata lays objects of objectSize back-to-back across a page of
// pageSize bytes split into lines of lineSize bytes, and records, for each
// line, where its first object begins and how many objects begin in it.
//
// Because a line's size is chosen to be >= the largest object size in its
// regime (SmallLineSize == SmallMax, MediumLineSize == MediumMax), no single
// object spans more than two lines, so at most the trailing line of the page
// can end up with zero object starts (the remainder left over once the last
// whole object has been placed).
func buildLineMetadata(objectSize, lineSize, pageSize uintptr) []LineMetadata {
	lineCount := int(pageSize / lineSize)
	meta := make([]LineMetadata, lineCount)
	for offset := uintptr(0); offset+objectSize <= pageSize; offset += objectSize {
		line := int(offset / lineSize)
		if meta[line].ObjectCount == 0 {
			meta[line].StartOffset = offset % lineSize
		}
		meta[line].ObjectCount++
	}
	return meta
}

// lineMetadataTables holds the precomputed tables for every dense size
// class, for both the Small and Medium page flavors.
type lineMetadataTables struct {
	small  [][]LineMetadata // indexed by small size-class index
	medium [][]LineMetadata // indexed by (class index - numSmallClasses)
}

func buildLineMetadataTables() *lineMetadataTables {
	t := &lineMetadataTables{}
	for idx := 0; idx < sizeclass.NumClasses; idx++ {
		objSize := sizeclass.ObjectSize(idx)
		if sizeclass.IsSmallIndex(idx) {
			t.small = append(t.small, buildLineMetadata(objSize, SmallLineSize, SmallPageSize))
		} else {
			t.medium = append(t.medium, buildLineMetadata(objSize, MediumLineSize, MediumPageSize))
		}
	}
	return t
}

func (t *lineMetadataTables) forClass(classIdx int) []LineMetadata {
	if sizeclass.IsSmallIndex(classIdx) {
		return t.small[classIdx]
	}
	return t.medium[classIdx-len(t.small)]
}

// BumpRange is a contiguous run of free, same-size slots inside one page,
// ready for a single thread's bump allocator to consume.
type BumpRange struct {
	Begin       uintptr
	ObjectCount int
}

// emitBumpRanges walks p's lines in order and appends one BumpRange per
// maximal run of consecutive unreferenced lines, marking every line in each
// run that holds an object start referenced for the size class being
// refilled. It implements Heap.RefillSmall / RefillMedium's per-page step.
func emitBumpRanges(p *Page, meta []LineMetadata, lineSize uintptr, dst []BumpRange) []BumpRange {
	lineCount := len(p.lines)
	i := 0
	for i < lineCount {
		if p.lines[i].refCount != 0 {
			i++
			continue
		}
		runStart := i
		sum := 0
		for i < lineCount && p.lines[i].refCount == 0 {
			sum += meta[i].ObjectCount
			i++
		}
		if sum == 0 {
			// A run of lines entirely consumed by overlap from a
			// prior object's tail; nothing to hand out.
			continue
		}
		for j := runStart; j < i; j++ {
			if meta[j].ObjectCount > 0 {
				p.lines[j].refCount = meta[j].ObjectCount
				p.refCount++
			}
		}
		begin := p.base + uintptr(runStart)*lineSize + meta[runStart].StartOffset
		dst = append(dst, BumpRange{Begin: begin, ObjectCount: sum})
	}
	return dst
}
