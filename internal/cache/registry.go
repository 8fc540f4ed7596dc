package cache

import (
	"runtime"

	"github.com/gomalloc/gomalloc/internal/heap"
	"github.com/timandy/routine"
	"golang.org/x/sync/errgroup"
)

// Cache bundles one goroutine's Allocator and Deallocator: the unit the
// registry hands out one of per concurrently-running execution context.
type Cache struct {
	Alloc   *Allocator
	Dealloc *Deallocator
}

// Registry hands every goroutine its own Cache, the way the real allocator
// gives every OS thread its own mcache. Go has no OS-thread-local storage
// API and no hook for "this goroutine is about to exit", so this leans on
// two different mechanisms a single thread-local registry would otherwise
// collapse into one:
//
//   - github.com/timandy/routine provides the goroutine-local slot itself
//     (the runtime's own per-P mcache is the nearest analogue: "per-thread"
//     in name only, really per concurrently-scheduled execution context,
//     not literally per kernel thread -- routine's goroutine-local storage
//     gives user code the same kind of slot).
//   - runtime.SetFinalizer stands in for the destructor hook: once a
//     goroutine exits and drops the last reference to its Cache, the
//     garbage collector finalizes it, which drains its bump caches back to
//     the central Heap even though nothing called Close explicitly.
//
// A Cache only ever becomes finalizable once nothing reachable from a live
// goroutine still points at it, so the registry itself must never hold a
// permanent strong reference to a Cache it hands out -- that would pin the
// Cache forever and the finalizer would never run. finalized is therefore
// populated only from inside the finalizer closure, after the Cache is
// already otherwise unreachable: it is a one-way mailbox the finalizer
// drops a completed Cache into, not a registry of live ones.
type Registry struct {
	heap    *heap.Heap
	enabled bool
	local   routine.ThreadLocal[*Cache]

	finalized chan *Cache
}

// NewRegistry constructs a Registry over h. enabled mirrors the external
// wrapper's "enabled" configuration flag: every Cache minted from this
// registry caches it at construction time to avoid a per-call branch.
func NewRegistry(h *heap.Heap, enabled bool) *Registry {
	return &Registry{
		heap:    h,
		enabled: enabled,
		local:   routine.NewThreadLocal[*Cache](),
		// Buffered generously: when the channel is full the finalizer drops
		// the Cache instead of queueing it, and DrainAll never sees it;
		// nothing is lost, since the finalizer has already scavenged the
		// Cache before trying to enqueue it.
		finalized: make(chan *Cache, 4096),
	}
}

// Get returns the calling goroutine's Cache, creating it on first use.
func (r *Registry) Get() *Cache {
	if c := r.local.Get(); c != nil {
		return c
	}
	return r.create()
}

func (r *Registry) create() *Cache {
	d := NewDeallocator(r.heap, r.enabled)
	c := &Cache{Alloc: NewAllocator(r.heap, d, r.enabled), Dealloc: d}
	r.local.Set(c)
	r.armFinalizer(c)
	return c
}

// armFinalizer arms c's destructor hook. The closure captures only r; c
// arrives as the finalizer's argument, and r.finalized receives c only
// after the finalizer itself is running, i.e. only after the runtime has
// already decided c is unreachable.
func (r *Registry) armFinalizer(c *Cache) {
	runtime.SetFinalizer(c, func(c *Cache) {
		c.Alloc.Scavenge()
		select {
		case r.finalized <- c:
		default:
			// Channel full: c was already scavenged above, so dropping it
			// here just means DrainAll won't re-scavenge it later.
		}
	})
}

// drainFinalizedQueue pops every Cache currently sitting in finalized
// without blocking, for DrainAll to re-scavenge.
func (r *Registry) drainFinalizedQueue() []*Cache {
	var caches []*Cache
	for {
		select {
		case c := <-r.finalized:
			caches = append(caches, c)
		default:
			return caches
		}
	}
}

// DrainAll re-scavenges every Cache the finalizer has retired since the
// last call, concurrently across goroutines (one of this package's few
// core, not merely test, uses of golang.org/x/sync). A finalized Cache's
// owning goroutine is gone, so nothing is racing these scavenges -- unlike
// the caller's own live Cache, which package-level Scavenge handles
// separately and synchronously.
func (r *Registry) DrainAll() {
	caches := r.drainFinalizedQueue()

	var g errgroup.Group
	for _, c := range caches {
		c := c
		g.Go(func() error {
			c.Alloc.Scavenge()
			return nil
		})
	}
	_ = g.Wait()
}
