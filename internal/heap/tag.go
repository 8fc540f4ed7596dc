package heap

// boundaryTag describes one Large range: its size and a few status bits.
// Every range has conceptually a tag at its Begin and an identical one at
// its End, so a neighbor can be identified in O(1) from either direction.
//
// The real bmalloc embeds these words directly in the range's own memory.
// Doing that here would mean the allocator's coalescing metadata lives in
// the same bytes the application is writing its payload into -- the tag
// would be corrupted the moment the caller touched the first/last word of
// a live allocation. Instead this Heap keeps tags in two side-indexes,
// beginTags and endTags, both pointing at the same *boundaryTag, so the
// lookup-by-address arithmetic (predecessor = tag just before Begin,
// successor = tag just after End) becomes a couple of map reads instead of
// raw memory reads, at the cost of an allocation per tag.
type boundaryTag struct {
	addr             uintptr // range start, also its key in beginTags
	size             uintptr
	isFree           bool
	hasPhysicalPages bool
	isEnd            bool // sentinel: never coalesce across this tag
}

func (t *boundaryTag) end() uintptr { return t.addr + t.size }

// largeChunkTags is the boundary-tag index for a single Large chunk.
type largeChunkTags struct {
	chunk     *Chunk
	beginTags map[uintptr]*boundaryTag
	endTags   map[uintptr]*boundaryTag
}

func newLargeChunkTags(c *Chunk) *largeChunkTags {
	lt := &largeChunkTags{
		chunk:     c,
		beginTags: make(map[uintptr]*boundaryTag),
		endTags:   make(map[uintptr]*boundaryTag),
	}

	// Sentinels at both edges of the chunk prevent coalescing from ever
	// walking off the reservation.
	headSentinel := &boundaryTag{addr: c.Region.Base, size: 0, isEnd: true}
	lt.endTags[c.Region.Base] = headSentinel

	usableBegin := c.Region.Base
	usableEnd := c.Region.Base + c.Region.Size
	tailSentinel := &boundaryTag{addr: usableEnd, size: 0, isEnd: true}
	lt.beginTags[usableEnd] = tailSentinel

	whole := &boundaryTag{addr: usableBegin, size: usableEnd - usableBegin, isFree: true}
	lt.insert(whole)
	return lt
}

func (lt *largeChunkTags) insert(t *boundaryTag) {
	lt.beginTags[t.addr] = t
	lt.endTags[t.end()] = t
}

func (lt *largeChunkTags) remove(t *boundaryTag) {
	delete(lt.beginTags, t.addr)
	delete(lt.endTags, t.end())
}

// predecessor returns the tag of the range immediately before addr; if addr
// sits at the chunk's first usable byte, that is the head sentinel (isEnd).
func (lt *largeChunkTags) predecessor(addr uintptr) *boundaryTag {
	return lt.endTags[addr]
}

// successor returns the tag of the range immediately after the range ending
// at end; if end is the chunk's end, that is the tail sentinel (isEnd).
func (lt *largeChunkTags) successor(end uintptr) *boundaryTag {
	return lt.beginTags[end]
}

// split carves a prefix of exactly size bytes off free range t and returns
// the boundary tag for the leftover suffix, if any bytes remain. The
// returned allocated tag's hasPhysicalPages is copied from t.
func (lt *largeChunkTags) split(t *boundaryTag, size uintptr) (allocated *boundaryTag, leftover *boundaryTag) {
	lt.remove(t)

	allocated = &boundaryTag{
		addr:             t.addr,
		size:             size,
		isFree:           false,
		hasPhysicalPages: t.hasPhysicalPages,
	}
	lt.insert(allocated)

	remaining := t.size - size
	if remaining == 0 {
		return allocated, nil
	}
	leftover = &boundaryTag{
		addr:             t.addr + size,
		size:             remaining,
		isFree:           true,
		hasPhysicalPages: t.hasPhysicalPages,
	}
	lt.insert(leftover)
	return allocated, leftover
}

// deallocate flips the range at addr back to free and coalesces it with any
// immediately adjacent free neighbor, returning the fully coalesced tag.
func (lt *largeChunkTags) deallocate(addr uintptr) *boundaryTag {
	t, ok := lt.beginTags[addr]
	if !ok {
		fatal("heap: deallocateLarge: address does not begin a known range", nil)
		return nil
	}
	lt.remove(t)
	t.isFree = true

	if prev := lt.predecessor(t.addr); prev != nil && prev.isFree && !prev.isEnd {
		lt.remove(prev)
		t = &boundaryTag{addr: prev.addr, size: prev.size + t.size, isFree: true, hasPhysicalPages: prev.hasPhysicalPages && t.hasPhysicalPages}
	}
	if next := lt.successor(t.end()); next != nil && next.isFree && !next.isEnd {
		lt.remove(next)
		t = &boundaryTag{addr: t.addr, size: t.size + next.size, isFree: true, hasPhysicalPages: t.hasPhysicalPages && next.hasPhysicalPages}
	}

	lt.insert(t)
	return t
}
