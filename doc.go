// Package gomalloc is a process-wide general purpose allocator: a drop-in
// replacement for the Go runtime's own allocator for callers who manage
// memory through unsafe.Pointer (cgo buffers, arenas, off-heap caches) and
// want bmalloc-style size-class segregation, lock-free per-goroutine fast
// paths, and a background scavenger that returns idle memory to the OS.
//
// The public surface is four functions -- Allocate, Deallocate, Reallocate,
// Scavenge -- backed by one package-level Heap and a per-goroutine Registry
// of Allocator/Deallocator pairs. See internal/heap and internal/cache for
// the implementation; this file and alloc.go only wire them together and
// apply the GOMALLOC_DISABLE escape hatch.
package gomalloc
