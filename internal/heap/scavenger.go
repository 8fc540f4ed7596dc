package heap

import (
	"time"

	"github.com/gomalloc/gomalloc/internal/sizeclass"
	"github.com/gomalloc/gomalloc/internal/vm"
)

// scavengerLoop implements Heap section 4.5.6. It runs for the life of the
// Heap, dropping the lock whenever it sleeps so the mutator never contends
// with it for longer than one reclamation step.
func (h *Heap) scavengerLoop() {
	defer close(h.scavengeDone)
	for {
		h.scavengeOnePass()
		if h.sleep() {
			return
		}
	}
}

// sleep waits ScavengeSleepDuration, or until Close is called. It reports
// whether the Heap was closed.
func (h *Heap) sleep() bool {
	select {
	case <-time.After(ScavengeSleepDuration):
		return false
	case <-h.closed:
		return true
	}
}

// yieldIfAllocating backs off one sleep cycle whenever the mutator has
// allocated a Small or Medium page since the last check, so the scavenger always loses a race
// for fresh pages against an active mutator.
func (h *Heap) yieldIfAllocating() bool {
	h.mu.Lock()
	wasAllocating := h.isAllocatingPages
	h.isAllocatingPages = false
	h.mu.Unlock()
	if !wasAllocating {
		return false
	}
	return h.sleep()
}

func (h *Heap) scavengeOnePass() {
	if h.reclaimFreePages(&h.freeSmallPages) {
		if h.yieldIfAllocating() {
			return
		}
	}
	if h.reclaimFreePages(&h.freeMediumPages) {
		if h.yieldIfAllocating() {
			return
		}
	}
	h.reclaimLargeRanges()
}

// reclaimFreePages hints every page in a free pool idle and then puts it
// back into the same pool. It reports whether it did
// any work, so the caller knows whether to check isAllocatingPages.
func (h *Heap) reclaimFreePages(pool *[]*Page) bool {
	h.mu.Lock()
	pages := append([]*Page(nil), *pool...)
	*pool = nil
	h.mu.Unlock()

	if len(pages) == 0 {
		return false
	}
	for _, p := range pages {
		if err := vm.HintIdleSloppy(p.base, p.chunk.pageSize); err != nil {
			fatal("scavenge: hint idle", err)
		}
	}

	h.mu.Lock()
	*pool = append(*pool, pages...)
	h.mu.Unlock()
	return true
}

// reclaimLargeRanges repeatedly takes the largest page-aligned free Large
// range and releases its physical pages, until none remain worth reclaiming.
func (h *Heap) reclaimLargeRanges() {
	// Released ranges stay out of the index and marked in use until the
	// pass ends, so they are neither taken again, allocated nor coalesced.
	var released []rangeItem
	defer func() {
		h.mu.Lock()
		for _, it := range released {
			t := h.largeTags[it.chunk].beginTags[it.addr]
			t.isFree, t.hasPhysicalPages = true, false
			h.freeRanges.insert(it.chunk, it.addr, it.size)
		}
		h.mu.Unlock()
	}()
	for {
		h.mu.Lock()
		item, ok := h.freeRanges.takeGreedy(sizeclass.VMPageSize)
		if ok {
			lt := h.largeTags[item.chunk]
			t := lt.beginTags[item.addr]
			t.isFree = false
			released = append(released, item)
		}
		h.mu.Unlock()
		if !ok {
			return
		}
		if err := vm.HintIdleSloppy(item.addr, item.size); err != nil {
			fatal("scavenge: hint idle (large)", err)
		}
		if h.yieldIfAllocating() {
			return
		}
	}
}
