package cache

import (
	"unsafe"

	"github.com/gomalloc/gomalloc/internal/heap"
	"github.com/gomalloc/gomalloc/internal/sizeclass"
)

// logCapacity bounds the per-thread free-object log. Batching frees this
// deep amortizes the line and page bookkeeping done under the central lock
// across logCapacity deallocations; each Deallocate still takes the lock
// briefly to classify its address.
const logCapacity = 64

// Deallocator is the per-thread free-side counterpart to Allocator: a
// bounded log of freed Small/Medium pointers that drains under the central
// lock once full. Large and XLarge frees are never batched; they go
// straight to the Heap.
type Deallocator struct {
	heap    *heap.Heap
	enabled bool
	log     []uintptr
}

// NewDeallocator constructs a Deallocator backed by h.
func NewDeallocator(h *heap.Heap, enabled bool) *Deallocator {
	return &Deallocator{heap: h, enabled: enabled, log: make([]uintptr, 0, logCapacity)}
}

// Deallocate is null-safe: freeing nil is a no-op, matching the external
// C-ABI wrapper's contract.
func (d *Deallocator) Deallocate(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !d.enabled {
		systemDeallocate(p)
		return
	}

	addr := uintptr(p)
	switch d.heap.Classify(addr) {
	case sizeclass.Small, sizeclass.Medium:
		d.free(addr)
	case sizeclass.Large:
		d.heap.DeallocateLarge(addr)
	default:
		d.heap.DeallocateXLarge(addr)
	}
}

// free appends addr to the log, draining it under the central lock once it
// reaches logCapacity.
func (d *Deallocator) free(addr uintptr) {
	d.log = append(d.log, addr)
	if len(d.log) >= logCapacity {
		d.processLog()
	}
}

func (d *Deallocator) processLog() {
	if len(d.log) == 0 {
		return
	}
	d.heap.DrainLog(d.log)
	d.log = d.log[:0]
}

// Scavenge forces a log drain, regardless of how full it is.
func (d *Deallocator) Scavenge() {
	d.processLog()
}
