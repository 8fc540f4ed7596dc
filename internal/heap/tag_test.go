package heap

import (
	"testing"

	"github.com/gomalloc/gomalloc/internal/vm"
	"github.com/stretchr/testify/require"
)

func TestBoundaryTagSplitAndCoalesce(t *testing.T) {
	c := &Chunk{Region: vm.Region{Base: 0x10000, Size: 0x10000}, Kind: KindLarge}
	lt := newLargeChunkTags(c)

	whole, ok := lt.beginTags[c.Region.Base]
	require.True(t, ok)
	require.Equal(t, c.Region.Size, whole.size)
	require.True(t, whole.isFree)

	allocated, leftover := lt.split(whole, 0x1000)
	require.Equal(t, c.Region.Base, allocated.addr)
	require.Equal(t, uintptr(0x1000), allocated.size)
	require.False(t, allocated.isFree)
	require.NotNil(t, leftover)
	require.Equal(t, c.Region.Size-0x1000, leftover.size)
	require.True(t, leftover.isFree)

	coalesced := lt.deallocate(allocated.addr)
	require.Equal(t, c.Region.Base, coalesced.addr, "freeing the only allocated prefix should coalesce back to the whole range")
	require.Equal(t, c.Region.Size, coalesced.size)
	require.True(t, coalesced.isFree)
}

func TestBoundaryTagCoalescingIsIdempotentUnderAnyFreeOrder(t *testing.T) {
	c := &Chunk{Region: vm.Region{Base: 0x20000, Size: 0x4000}, Kind: KindLarge}
	lt := newLargeChunkTags(c)

	whole, _ := lt.beginTags[c.Region.Base]
	first, rest := lt.split(whole, 0x1000)
	second, third := lt.split(rest, 0x1000)
	require.NotNil(t, third)

	// Free out of address order: third, then first, then second. Regardless
	// of order, the end state must be one fully coalesced free range with no
	// two adjacent free entries left behind.
	c1 := lt.deallocate(third.addr)
	require.True(t, c1.isFree)
	c2 := lt.deallocate(first.addr)
	require.True(t, c2.isFree)
	final := lt.deallocate(second.addr)

	require.Equal(t, c.Region.Base, final.addr)
	require.Equal(t, c.Region.Size, final.size)
	require.Len(t, lt.beginTags, 2, "only the coalesced range's begin tag and the tail sentinel should remain")
}

func TestBoundaryTagSentinelsPreventCoalescingPastChunkEdge(t *testing.T) {
	c := &Chunk{Region: vm.Region{Base: 0x30000, Size: 0x1000}, Kind: KindLarge}
	lt := newLargeChunkTags(c)

	whole, _ := lt.beginTags[c.Region.Base]
	whole.isFree = true

	prev := lt.predecessor(whole.addr)
	require.True(t, prev.isEnd)
	next := lt.successor(whole.end())
	require.True(t, next.isEnd)
}
