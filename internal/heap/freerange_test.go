package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeRangeSetBestFit(t *testing.T) {
	s := newFreeRangeSet()
	s.insert(nil, 0x3000, 4096)
	s.insert(nil, 0x1000, 4096)
	s.insert(nil, 0x2000, 8192)

	item, ok := s.take(4096)
	require.True(t, ok)
	require.Equal(t, uintptr(4096), item.size)
	require.Equal(t, uintptr(0x1000), item.addr, "ties on size break by lowest address")
	require.Equal(t, 2, s.len())

	item, ok = s.take(5000)
	require.True(t, ok)
	require.Equal(t, uintptr(0x2000), item.addr)
	require.Equal(t, 1, s.len())
}

func TestFreeRangeSetTakeFailsWhenNothingFits(t *testing.T) {
	s := newFreeRangeSet()
	s.insert(nil, 0x1000, 4096)

	_, ok := s.take(8192)
	require.False(t, ok)
	require.Equal(t, 1, s.len())
}

func TestFreeRangeSetTakeGreedyRequiresAlignedInterior(t *testing.T) {
	s := newFreeRangeSet()
	s.insert(nil, 0x1001, 100)  // no page-aligned interior at all
	s.insert(nil, 0x2000, 8192) // fully aligned, larger

	item, ok := s.takeGreedy(4096)
	require.True(t, ok)
	require.Equal(t, uintptr(0x2000), item.addr)
	require.Equal(t, 1, s.len(), "only the aligned range should have been removed")
}
