package cache

import (
	"sync"
	"unsafe"
)

// systemSizes tracks the size of allocations made while the allocator is
// disabled, so Reallocate still knows how many bytes to carry forward. This
// is the one place this package falls back to Go's ordinary garbage
// collected heap: when disabled, gomalloc is meant to get entirely out of
// the way.
var (
	systemSizesMu sync.Mutex
	systemSizes   = map[unsafe.Pointer]uintptr{}
)

func systemAllocate(size uintptr) unsafe.Pointer {
	n := size
	if n == 0 {
		n = 1
	}
	b := make([]byte, n)
	p := unsafe.Pointer(&b[0])
	systemSizesMu.Lock()
	systemSizes[p] = size
	systemSizesMu.Unlock()
	return p
}

func systemDeallocate(p unsafe.Pointer) {
	systemSizesMu.Lock()
	delete(systemSizes, p)
	systemSizesMu.Unlock()
}

func systemReallocate(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	systemSizesMu.Lock()
	oldSize := systemSizes[p]
	systemSizesMu.Unlock()

	newPtr := systemAllocate(newSize)
	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		copy(unsafe.Slice((*byte)(newPtr), n), unsafe.Slice((*byte)(p), n))
	}
	systemDeallocate(p)
	return newPtr
}
