// Package heap is the single locked authority behind the allocator: it
// mints Chunks from the vm package, carves them into Pages and Lines for
// Small/Medium requests, maintains the boundary-tagged free-range index for
// Large requests, dispatches XLarge requests straight to the VM layer, and
// runs the background scavenger. Everything in this package is guarded by
// one mutex; the per-thread fast paths living in internal/cache never touch
// it except to refill or drain.
package heap

import (
	"sync"
	"time"

	"github.com/gomalloc/gomalloc/internal/sizeclass"
	"github.com/gomalloc/gomalloc/internal/vm"
)

// ScavengeSleepDuration is the nominal interval the scavenger sleeps
// between passes, and the cooldown it backs off by whenever it observes
// fresh page-allocation activity. It is a variable, not a constant, purely
// so tests can shrink it; production callers should leave it alone.
var ScavengeSleepDuration = 500 * time.Millisecond

// Heap is the process-wide central allocator authority.
type Heap struct {
	mu sync.Mutex

	lineMeta *lineMetadataTables

	// Small/Medium bookkeeping.
	chunkIndex         map[uintptr]*Chunk // key: addr &^ (ChunkSize-1)
	pagesWithFreeLines [sizeclass.NumClasses][]*Page
	freeSmallPages     []*Page
	freeMediumPages    []*Page

	// Large bookkeeping.
	largeTags   map[*Chunk]*largeChunkTags
	largeChunks []*Chunk
	freeRanges  *freeRangeSet

	// XLarge bookkeeping.
	xlarge map[uintptr]xlargeDescriptor

	isAllocatingPages bool

	scavengeWake chan struct{}
	scavengeDone chan struct{}
	closeOnce    sync.Once
	closed       chan struct{}
}

// New constructs a Heap and starts its scavenger goroutine. Callers are
// expected to keep exactly one Heap for the process lifetime (see the root
// package's package-level singleton).
func New() *Heap {
	h := &Heap{
		lineMeta:     buildLineMetadataTables(),
		chunkIndex:   make(map[uintptr]*Chunk),
		largeTags:    make(map[*Chunk]*largeChunkTags),
		freeRanges:   newFreeRangeSet(),
		xlarge:       make(map[uintptr]xlargeDescriptor),
		scavengeWake: make(chan struct{}, 1),
		scavengeDone: make(chan struct{}),
		closed:       make(chan struct{}),
	}
	go h.scavengerLoop()
	return h
}

// Close stops the background scavenger. The scavenger is otherwise
// implicitly cancelled at process exit; Close exists so tests can tear a
// Heap down cleanly between runs.
func (h *Heap) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
	<-h.scavengeDone
}

func (h *Heap) notifyScavenger() {
	select {
	case h.scavengeWake <- struct{}{}:
	default:
	}
}

// ---- chunk minting -------------------------------------------------------

func chunkAlignedBase(addr uintptr) uintptr { return addr &^ (ChunkSize - 1) }

// mintSmallChunk must be called with h.mu held.
func (h *Heap) mintSmallChunk() *Chunk {
	r, err := vm.ReserveAligned(ChunkSize, ChunkSize)
	if err != nil {
		fatal("reserve small chunk", err)
	}
	c := newSmallChunk(r)
	h.chunkIndex[chunkAlignedBase(r.Base)] = c
	return c
}

// mintMediumChunk must be called with h.mu held.
func (h *Heap) mintMediumChunk() *Chunk {
	r, err := vm.ReserveAligned(ChunkSize, ChunkSize)
	if err != nil {
		fatal("reserve medium chunk", err)
	}
	c := newMediumChunk(r)
	h.chunkIndex[chunkAlignedBase(r.Base)] = c
	return c
}

// mintLargeChunk must be called with h.mu held.
func (h *Heap) mintLargeChunk(atLeast uintptr) *Chunk {
	size := uintptr(LargeChunkSize)
	for size < atLeast+2*tagOverhead() {
		size *= 2
	}
	r, err := vm.ReserveAligned(size, sizeclass.LargeAlignment)
	if err != nil {
		fatal("reserve large chunk", err)
	}
	c := &Chunk{Region: r, Kind: KindLarge}
	lt := newLargeChunkTags(c)
	h.largeTags[c] = lt
	h.largeChunks = append(h.largeChunks, c)
	h.freeRanges.insert(c, lt.beginTags[c.Region.Base].addr, lt.beginTags[c.Region.Base].size)
	return c
}

// tagOverhead is the per-range bookkeeping cost the split/sentinel scheme
// reserves conceptually; with tags kept in a side index (see tag.go) and
// zero-size sentinels there is no physical overhead, so it is zero.
func tagOverhead() uintptr { return 0 }

// ---- address classification ---------------------------------------------

func (h *Heap) chunkAt(addr uintptr) (*Chunk, bool) {
	c, ok := h.chunkIndex[chunkAlignedBase(addr)]
	return c, ok
}

// Classify reports which regime the pointer p, previously returned by
// Allocate, belongs to. It aborts if p lies in no known Small/Medium chunk
// and does not begin a live Large or XLarge allocation: freeing an
// unrecognized address is caller misuse the allocator cannot recover from.
// A Small/Medium address is recognized by its chunk alone, whether or not
// its slot is currently live.
func (h *Heap) Classify(p uintptr) sizeclass.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, _, ok := h.kindLocked(p)
	if !ok {
		fatal("deallocate: address does not belong to any known allocation", nil)
	}
	return k
}

func (h *Heap) kindLocked(p uintptr) (sizeclass.Kind, uintptr, bool) {
	if c, ok := h.chunkAt(p); ok {
		pg := c.pageAt(p)
		if c.Kind == KindSmall {
			return sizeclass.Small, sizeclass.ObjectSize(pg.sizeClass), true
		}
		return sizeclass.Medium, sizeclass.ObjectSize(pg.sizeClass), true
	}
	if d, ok := h.xlarge[p]; ok {
		return sizeclass.XLarge, d.size, true
	}
	for _, lt := range h.largeTags {
		if t, ok := lt.beginTags[p]; ok && !t.isFree {
			return sizeclass.Large, t.size, true
		}
	}
	return 0, 0, false
}

// ObjectSize recovers the usable size of a live allocation, for
// Reallocate's copy length.
func (h *Heap) ObjectSize(p uintptr) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, size, ok := h.kindLocked(p)
	if !ok {
		fatal("reallocate: address does not belong to any known allocation", nil)
	}
	return size
}

// ---- Small / Medium page allocation --------------------------------------

// allocateSmallPage returns a page ready to serve classIdx, per Heap section
// 4.5.2: prefer a page that already has free lines for this class, else pop
// the free pool, else mint.
func (h *Heap) allocateSmallPage(classIdx int) *Page {
	h.isAllocatingPages = true
	if p := h.popPageWithFreeLines(classIdx); p != nil {
		return p
	}
	if len(h.freeSmallPages) > 0 {
		p := h.popFreePage(&h.freeSmallPages)
		h.initPage(p, classIdx)
		return p
	}
	c := h.mintSmallChunk()
	for _, p := range c.pages[1:] {
		h.pushFreePage(&h.freeSmallPages, p)
	}
	h.initPage(c.pages[0], classIdx)
	return c.pages[0]
}

func (h *Heap) allocateMediumPage(classIdx int) *Page {
	h.isAllocatingPages = true
	if p := h.popPageWithFreeLines(classIdx); p != nil {
		return p
	}
	if len(h.freeMediumPages) > 0 {
		p := h.popFreePage(&h.freeMediumPages)
		h.initPage(p, classIdx)
		return p
	}
	c := h.mintMediumChunk()
	for _, p := range c.pages[1:] {
		h.pushFreePage(&h.freeMediumPages, p)
	}
	h.initPage(c.pages[0], classIdx)
	return c.pages[0]
}

func (h *Heap) initPage(p *Page, classIdx int) {
	p.sizeClass = classIdx
	p.refCount = 0
	for i := range p.lines {
		p.lines[i] = lineState{}
	}
	if err := vm.HintResidentSloppy(p.base, p.chunk.pageSize); err != nil {
		fatal("hint resident", err)
	}
}

func (h *Heap) popPageWithFreeLines(classIdx int) *Page {
	list := h.pagesWithFreeLines[classIdx]
	for len(list) > 0 {
		p := list[len(list)-1]
		list = list[:len(list)-1]
		h.pagesWithFreeLines[classIdx] = list
		if p.refCount == 0 || p.sizeClass != classIdx {
			// Stale: reassigned to another class, or fully freed
			// out from under us before we got to it.
			continue
		}
		p.freeListIdx = -1
		return p
	}
	return nil
}

func (h *Heap) pushPageWithFreeLines(classIdx int, p *Page) {
	p.freeListIdx = len(h.pagesWithFreeLines[classIdx])
	h.pagesWithFreeLines[classIdx] = append(h.pagesWithFreeLines[classIdx], p)
}

func (h *Heap) removePageWithFreeLines(classIdx int, p *Page) {
	list := h.pagesWithFreeLines[classIdx]
	i := p.freeListIdx
	if i < 0 || i >= len(list) || list[i] != p {
		return
	}
	last := len(list) - 1
	list[i] = list[last]
	list[i].freeListIdx = i
	h.pagesWithFreeLines[classIdx] = list[:last]
	p.freeListIdx = -1
}

func (h *Heap) pushFreePage(pool *[]*Page, p *Page) {
	p.freeListIdx = len(*pool)
	*pool = append(*pool, p)
}

func (h *Heap) popFreePage(pool *[]*Page) *Page {
	list := *pool
	p := list[len(list)-1]
	*pool = list[:len(list)-1]
	p.freeListIdx = -1
	return p
}

// ---- bump-range cache refill ----------------------------------------------

// RefillSmall obtains a page for classIdx (see allocateSmallPage) and slices
// its free lines into BumpRanges, appending them to dst.
func (h *Heap) RefillSmall(classIdx int, dst []BumpRange) []BumpRange {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.allocateSmallPage(classIdx)
	return emitBumpRanges(p, h.lineMeta.forClass(classIdx), SmallLineSize, dst)
}

// RefillMedium is RefillSmall's Medium-regime counterpart.
func (h *Heap) RefillMedium(classIdx int, dst []BumpRange) []BumpRange {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.allocateMediumPage(classIdx)
	return emitBumpRanges(p, h.lineMeta.forClass(classIdx), MediumLineSize, dst)
}

// ---- free-object log draining --------------------------------------------

// DrainLog decrements the line refcount for every Small/Medium pointer in
// ptrs, reclaiming lines and pages as they empty out. It implements Heap
// section 4.5.3.
func (h *Heap) DrainLog(ptrs []uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ptr := range ptrs {
		h.processFreeLocked(ptr)
	}
}

func (h *Heap) processFreeLocked(ptr uintptr) {
	c, ok := h.chunkAt(ptr)
	if !ok {
		fatal("deallocate: address does not belong to any known chunk", nil)
	}
	p := c.pageAt(ptr)
	lineIdx := c.lineIndex(ptr)
	line := &p.lines[lineIdx]
	if line.refCount == 0 {
		fatal("double free detected (line refcount underflow)", nil)
	}

	wasFull := p.refCount == c.lineCount
	line.refCount--
	if line.refCount != 0 {
		return
	}
	if wasFull {
		h.pushPageWithFreeLines(p.sizeClass, p)
	}
	p.refCount--
	if p.refCount == 0 {
		h.removePageWithFreeLines(p.sizeClass, p)
		pool := &h.freeSmallPages
		if c.Kind == KindMedium {
			pool = &h.freeMediumPages
		}
		h.pushFreePage(pool, p)
		h.notifyScavenger()
	}
}

// ---- Large allocation ------------------------------------------------------

// AllocateLarge implements Heap section 4.5.4.
func (h *Heap) AllocateLarge(size uintptr) uintptr {
	size = sizeclass.LargeSize(size)

	h.mu.Lock()
	item, ok := h.freeRanges.take(size)
	var c *Chunk
	if !ok {
		c = h.mintLargeChunk(size)
		item, ok = h.freeRanges.take(size)
		if !ok {
			fatal("large chunk mint did not yield a usable range", nil)
		}
	} else {
		c = item.chunk
	}

	lt := h.largeTags[c]
	whole := lt.beginTags[item.addr]
	allocated, leftover := lt.split(whole, size)
	if leftover != nil {
		h.freeRanges.insert(c, leftover.addr, leftover.size)
	}
	hadPhysicalPages := allocated.hasPhysicalPages
	allocated.hasPhysicalPages = true
	h.mu.Unlock()

	if !hadPhysicalPages {
		if err := vm.HintResidentSloppy(allocated.addr, allocated.size); err != nil {
			fatal("hint resident (large)", err)
		}
	}
	return allocated.addr
}

// DeallocateLarge implements Heap section 4.5.4's deallocateLarge.
func (h *Heap) DeallocateLarge(ptr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lt *largeChunkTags
	var c *Chunk
	for cc, ltags := range h.largeTags {
		if _, ok := ltags.beginTags[ptr]; ok {
			lt, c = ltags, cc
			break
		}
	}
	if lt == nil {
		fatal("deallocateLarge: unknown pointer", nil)
	}

	// Free neighbors that deallocate merges in must leave the index first,
	// so it never holds a range that no longer exists.
	t := lt.beginTags[ptr]
	if prev := lt.predecessor(ptr); prev != nil && prev.isFree && !prev.isEnd {
		h.freeRanges.deleteItem(prev.addr, prev.size)
	}
	if next := lt.successor(t.end()); next != nil && next.isFree && !next.isEnd {
		h.freeRanges.deleteItem(next.addr, next.size)
	}

	coalesced := lt.deallocate(ptr)
	h.freeRanges.insert(c, coalesced.addr, coalesced.size)
	h.notifyScavenger()
}

// ---- XLarge allocation ----------------------------------------------------
// allocateXLarge / deallocateXLarge live in xlarge.go, next to the
// descriptor type they operate on.
