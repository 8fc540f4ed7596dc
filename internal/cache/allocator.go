// Package cache holds the per-thread fast path: Allocator and Deallocator,
// the pair every goroutine gets its own copy of via the registry in
// registry.go. Small/Medium allocation takes the central heap's lock only on
// a cache miss. Large and XLarge requests, Reallocate's size lookup, and
// every Deallocate (to classify its address) take the lock on each call.
package cache

import (
	"unsafe"

	"github.com/gomalloc/gomalloc/internal/heap"
	"github.com/gomalloc/gomalloc/internal/sizeclass"
)

// bumpAllocator is a pointer plus a remaining count: the innermost fast
// path, advanced by objectSize per allocation.
type bumpAllocator struct {
	begin     uintptr
	remaining int
}

func (b *bumpAllocator) canAllocate() bool { return b.remaining > 0 }

func (b *bumpAllocator) allocate(objectSize uintptr) uintptr {
	p := b.begin
	b.begin += objectSize
	b.remaining--
	return p
}

// Allocator is a per-thread object allocator: a bump allocator per dense
// size class backed by a small cache of spare BumpRanges, refilled from the
// central Heap only when both run dry.
type Allocator struct {
	heap    *heap.Heap
	dealloc *Deallocator
	enabled bool

	bump       [sizeclass.NumClasses]bumpAllocator
	rangeCache [sizeclass.NumClasses][]heap.BumpRange
}

// NewAllocator constructs an Allocator paired with the Deallocator that
// receives its scavenged bump ranges.
func NewAllocator(h *heap.Heap, d *Deallocator, enabled bool) *Allocator {
	return &Allocator{heap: h, dealloc: d, enabled: enabled}
}

// Allocate never returns nil unless the OS refuses a reservation, in which
// case the process aborts rather than returning a sentinel the caller could
// mistake for a valid zero-size allocation.
func (a *Allocator) Allocate(size uintptr) unsafe.Pointer {
	if !a.enabled {
		return systemAllocate(size)
	}
	switch sizeclass.Classify(size) {
	case sizeclass.Small, sizeclass.Medium:
		idx := sizeclass.Index(size)
		return unsafe.Pointer(a.allocateFastOrSlow(idx))
	case sizeclass.Large:
		return unsafe.Pointer(a.heap.AllocateLarge(size))
	default:
		return unsafe.Pointer(a.heap.AllocateXLarge(size))
	}
}

// allocateFastOrSlow is the heart of section 4.3: fast path bumps a
// thread-local cursor; slow path (still lock-free) pops from the local
// BumpRange cache; only a genuine miss on both reaches the central lock.
func (a *Allocator) allocateFastOrSlow(idx int) uintptr {
	b := &a.bump[idx]
	if !b.canAllocate() {
		a.refillBumpAllocator(idx)
		b = &a.bump[idx]
	}
	return b.allocate(sizeclass.ObjectSize(idx))
}

func (a *Allocator) refillBumpAllocator(idx int) {
	if len(a.rangeCache[idx]) == 0 {
		a.refillRangeCache(idx)
	}
	cache := a.rangeCache[idx]
	n := len(cache)
	r := cache[n-1]
	a.rangeCache[idx] = cache[:n-1]
	a.bump[idx] = bumpAllocator{begin: r.Begin, remaining: r.ObjectCount}
}

func (a *Allocator) refillRangeCache(idx int) {
	if sizeclass.IsSmallIndex(idx) {
		a.rangeCache[idx] = a.heap.RefillSmall(idx, a.rangeCache[idx])
	} else {
		a.rangeCache[idx] = a.heap.RefillMedium(idx, a.rangeCache[idx])
	}
}

// Reallocate allocates newSize, copies min(oldSize, newSize) bytes from p,
// and frees p. A nil p behaves like Allocate; newSize == 0 still returns a
// valid pointer after freeing p.
func (a *Allocator) Reallocate(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	if p == nil {
		return a.Allocate(newSize)
	}
	if !a.enabled {
		return systemReallocate(p, newSize)
	}

	old := uintptr(p)
	oldSize := a.heap.ObjectSize(old)

	newPtr := a.Allocate(newSize)

	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		copy(unsafe.Slice((*byte)(newPtr), n), unsafe.Slice((*byte)(p), n))
	}
	a.dealloc.Deallocate(p)
	return newPtr
}

// Scavenge drains every bump allocator and cached BumpRange back through
// the Deallocator, so the lines and pages they reference can be reclaimed.
// It is invoked on thread exit (see registry.go) and by the package-level
// Scavenge entry point.
func (a *Allocator) Scavenge() {
	for idx := range a.bump {
		objSize := sizeclass.ObjectSize(idx)
		b := &a.bump[idx]
		for b.canAllocate() {
			a.dealloc.free(b.allocate(objSize))
		}
		for _, r := range a.rangeCache[idx] {
			addr := r.Begin
			for i := 0; i < r.ObjectCount; i++ {
				a.dealloc.free(addr)
				addr += objSize
			}
		}
		a.rangeCache[idx] = nil
	}
	a.dealloc.Scavenge()
}
