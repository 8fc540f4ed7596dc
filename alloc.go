package gomalloc

import (
	"os"
	"unsafe"

	"github.com/gomalloc/gomalloc/internal/cache"
	"github.com/gomalloc/gomalloc/internal/heap"
)

// enabled mirrors bmalloc's own build/runtime escape hatch: set
// GOMALLOC_DISABLE=1 to route every call straight through Go's ordinary
// garbage-collected heap instead, e.g. to bisect a suspected allocator bug
// against the platform allocator. Read once at package init, the way the
// runtime snapshots GODEBUG settings at startup rather than re-parsing the
// environment on every allocation.
var enabled = os.Getenv("GOMALLOC_DISABLE") != "1"

var (
	theHeap     = heap.New()
	theRegistry = cache.NewRegistry(theHeap, enabled)
)

// Allocate returns size bytes of memory, selecting the Small, Medium,
// Large, or XLarge path by size. Freshly reserved pages come back zeroed by
// the OS, but a reused Small/Medium slot's previous contents are not
// cleared first -- callers that need zeroed memory must zero it themselves.
// Allocate never returns nil; if the request cannot be satisfied the
// process aborts rather than returning a sentinel the caller could mistake
// for a valid empty allocation.
func Allocate(size uintptr) unsafe.Pointer {
	return theRegistry.Get().Alloc.Allocate(size)
}

// Deallocate returns p, previously obtained from Allocate or Reallocate, to
// the allocator. Deallocating nil is a no-op. A pointer that lies in no
// known chunk and begins no live Large or XLarge allocation aborts the
// process; a repeated free of a Small/Medium object aborts only when it
// underflows its line's reference count, and with GOMALLOC_DISABLE=1 no
// pointer is checked.
func Deallocate(p unsafe.Pointer) {
	theRegistry.Get().Dealloc.Deallocate(p)
}

// Reallocate resizes the allocation at p to newSize, copying
// min(oldSize, newSize) bytes and freeing p. A nil p behaves like
// Allocate(newSize).
func Reallocate(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	return theRegistry.Get().Alloc.Reallocate(p, newSize)
}

// Scavenge drains the calling goroutine's own cached bump ranges and
// free-object logs back to the central heap, then re-scavenges any other
// goroutines' caches that have since exited and been finalized. Pages and
// large ranges freed this way are returned to the OS by the heap's
// background scavenger on its next timed pass, not by this call.
//
// Only the calling goroutine's own Cache is safe to drain synchronously
// here: a bump allocator is only ever safe to mutate from its owning
// goroutine or after that goroutine has exited, which is exactly the state
// DrainAll's finalized-cache queue captures.
func Scavenge() {
	theRegistry.Get().Alloc.Scavenge()
	theRegistry.DrainAll()
}
