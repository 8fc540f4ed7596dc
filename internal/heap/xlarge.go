package heap

import "github.com/gomalloc/gomalloc/internal/vm"

// xlargeDescriptor stands in for the small prefix descriptor an XLarge
// allocation needs: just enough to recover the original reservation on
// free. Kept in a side map for the same reason boundaryTag is: writing it
// into the reservation itself would mean the allocator's own bookkeeping
// lives in memory the caller is free to overwrite.
type xlargeDescriptor struct {
	size uintptr
}

// AllocateXLarge bypasses all chunk/page/line and boundary-tag structure:
// each request gets its own dedicated VM reservation.
func (h *Heap) AllocateXLarge(size uintptr) uintptr {
	rounded := roundUp(size, vm.PageSize)
	r, err := vm.Reserve(rounded)
	if err != nil {
		fatal("xlarge reservation failed", err)
	}
	h.mu.Lock()
	h.xlarge[r.Base] = xlargeDescriptor{size: rounded}
	h.mu.Unlock()
	return r.Base
}

// DeallocateXLarge releases the dedicated reservation backing ptr.
func (h *Heap) DeallocateXLarge(ptr uintptr) {
	h.mu.Lock()
	d, ok := h.xlarge[ptr]
	if ok {
		delete(h.xlarge, ptr)
	}
	h.mu.Unlock()
	if !ok {
		fatal("deallocateXLarge: unknown pointer", nil)
	}
	if err := vm.Release(ptr, d.size); err != nil {
		fatal("xlarge release failed", err)
	}
}
