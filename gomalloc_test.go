package gomalloc

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAllocateZeroReturnsValidPointer(t *testing.T) {
	p := Allocate(0)
	require.NotNil(t, p)
	Deallocate(p)
}

func TestAllocateAcrossRegimeBoundaries(t *testing.T) {
	sizes := []uintptr{256, 257, 1024, 1025, 4 << 20, 4<<20 + 1}
	for _, s := range sizes {
		p := Allocate(s)
		require.NotNil(t, p, "size %d", s)
		buf := unsafe.Slice((*byte)(p), s)
		if len(buf) > 0 {
			buf[0] = 1
			buf[len(buf)-1] = 1
		}
		Deallocate(p)
	}
}

func TestReallocateNilBehavesLikeAllocate(t *testing.T) {
	p := Reallocate(nil, 128)
	require.NotNil(t, p)
	Deallocate(p)
}

func TestReallocateToZeroFreesAndReturnsPointer(t *testing.T) {
	p := Allocate(64)
	q := Reallocate(p, 0)
	require.NotNil(t, q)
	Deallocate(q)
}

func TestDeallocateNilIsNoOp(t *testing.T) {
	Deallocate(nil)
}

// TestScenarioSmallObjectChurn is S1: 100,000 small objects written and read
// back, then an explicit scavenger pass. Observing the resulting RSS drop
// requires OS-level inspection outside a unit test's reach; this exercises
// the functional half of the scenario (distinct pointers, correct round
// trip) and drives the scavenger path the way the full scenario would.
func TestScenarioSmallObjectChurn(t *testing.T) {
	const n = 100000
	ptrs := make([]unsafe.Pointer, n)
	seen := make(map[unsafe.Pointer]bool, n)
	for i := 0; i < n; i++ {
		p := Allocate(24)
		require.False(t, seen[p], "duplicate pointer at iteration %d", i)
		seen[p] = true
		*(*byte)(p) = byte(i & 0xFF)
		ptrs[i] = p
	}
	for i, p := range ptrs {
		require.Equal(t, byte(i&0xFF), *(*byte)(p))
	}
	for _, p := range ptrs {
		Deallocate(p)
	}
	Scavenge()
}

// TestScenarioLargeRangeReuse is S2: freeing a middle Large range and
// re-requesting the same size should be satisfiable without a fresh VM
// reservation. This module's public API has no introspection into VM
// reservation counts, so this exercises the round trip; internal/heap's own
// tests assert the exact address-reuse property directly against an
// isolated Heap.
func TestScenarioLargeRangeReuse(t *testing.T) {
	a := Allocate(1 << 20)
	mid := Allocate(64 << 10)
	c := Allocate(1 << 20)

	Deallocate(mid)
	reused := Allocate(64 << 10)
	require.NotNil(t, reused)

	Deallocate(a)
	Deallocate(reused)
	Deallocate(c)
}

// TestScenarioXLargeIndependentReservations is S3: two 8 MiB XLarge
// allocations, freeing the first before making the second.
func TestScenarioXLargeIndependentReservations(t *testing.T) {
	p := Allocate(8 << 20)
	Deallocate(p)
	q := Allocate(8 << 20)
	Deallocate(q)
}

// TestScenarioConcurrentAllocDealloc is S4, scaled down from the original
// 1,000,000 iterations per goroutine to keep the test fast; the
// property under test (no crash, each goroutine reads back the byte it
// just wrote) does not depend on the iteration count.
func TestScenarioConcurrentAllocDealloc(t *testing.T) {
	const goroutines = 8
	const iterations = 20000
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				p := Allocate(48)
				*(*byte)(p) = byte(i)
				require.Equal(t, byte(i), *(*byte)(p))
				Deallocate(p)
			}
		}()
	}
	wg.Wait()
	Scavenge()
}

// TestScenarioReallocateSmallToLarge is S5.
func TestScenarioReallocateSmallToLarge(t *testing.T) {
	p := Allocate(200)
	buf := unsafe.Slice((*byte)(p), 200)
	for i := range buf {
		buf[i] = 0xAB
	}

	q := Reallocate(p, 5000)
	qbuf := unsafe.Slice((*byte)(q), 200)
	for i, b := range qbuf {
		require.Equal(t, byte(0xAB), b, "byte %d", i)
	}
	Deallocate(q)
}

// TestScenarioEveryOtherFreeThenRefill is S6.
func TestScenarioEveryOtherFreeThenRefill(t *testing.T) {
	const n = 10000
	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptrs[i] = Allocate(80)
	}
	for i := 0; i < n; i += 2 {
		Deallocate(ptrs[i])
	}

	more := make([]unsafe.Pointer, 5000)
	for i := range more {
		more[i] = Allocate(80)
	}

	for i := 1; i < n; i += 2 {
		Deallocate(ptrs[i])
	}
	for _, p := range more {
		Deallocate(p)
	}
}

func TestScavengerLivenessAfterQuietPeriod(t *testing.T) {
	p := Allocate(24)
	Deallocate(p)
	Scavenge()
	time.Sleep(10 * time.Millisecond)
}
