package heap

import (
	"github.com/gomalloc/gomalloc/internal/sizeclass"
	"github.com/gomalloc/gomalloc/internal/vm"
)

// Kind identifies which size regime a Chunk serves.
type Kind uint8

const (
	KindSmall Kind = iota
	KindMedium
	KindLarge
)

const (
	// ChunkSize is the power-of-two VM reservation granularity for Small
	// and Medium chunks. Because every such chunk is reserved aligned to
	// its own size, an object's chunk is recovered from its address with
	// a single mask: addr &^ (ChunkSize-1).
	ChunkSize = 4 << 20 // 4 MiB

	// LargeChunkSize is the VM reservation granularity for Large chunks.
	// It is sized to comfortably host several maximum-size Large ranges
	// before the heap needs to mint another one.
	LargeChunkSize = 16 << 20 // 16 MiB

	SmallLineSize  = sizeclass.SmallMax // 256 B
	SmallPageSize  = 8 * vm.PageSize    // 32 KiB -> 128 lines
	MediumLineSize = sizeclass.MediumMax
	MediumPageSize = 16 * vm.PageSize // 64 KiB -> 64 lines
)

// Chunk is a power-of-two-aligned VM reservation dedicated to one size
// regime. Small and Medium chunks subdivide into Pages, tracked as a plain
// Go slice of metadata indexed by page number (see Page); Large chunks are
// a single boundary-tagged byte range with no page subdivision.
//
// Chunks are never released once minted: Chunk.Region's backing VM stays
// reserved for the life of the process, only its physical pages come and
// go via the scavenger.
type Chunk struct {
	Region vm.Region
	Kind   Kind

	// Small/Medium only.
	pageSize  uintptr
	lineSize  uintptr
	lineCount int
	pages     []*Page
}

func newSmallChunk(r vm.Region) *Chunk {
	return newPagedChunk(r, KindSmall, SmallPageSize, SmallLineSize)
}

func newMediumChunk(r vm.Region) *Chunk {
	return newPagedChunk(r, KindMedium, MediumPageSize, MediumLineSize)
}

func newPagedChunk(r vm.Region, kind Kind, pageSize, lineSize uintptr) *Chunk {
	c := &Chunk{
		Region:    r,
		Kind:      kind,
		pageSize:  pageSize,
		lineSize:  lineSize,
		lineCount: int(pageSize / lineSize),
	}
	numPages := int(r.Size / pageSize)
	c.pages = make([]*Page, numPages)
	for i := range c.pages {
		c.pages[i] = &Page{
			chunk:     c,
			index:     i,
			base:      r.Base + uintptr(i)*pageSize,
			sizeClass: -1,
			lines:     make([]lineState, c.lineCount),
		}
	}
	return c
}

// pageAt returns the Page containing addr, which must lie within this
// chunk's Region.
func (c *Chunk) pageAt(addr uintptr) *Page {
	idx := int((addr - c.Region.Base) / c.pageSize)
	return c.pages[idx]
}

// lineIndex returns the index of the line containing addr within its page.
func (c *Chunk) lineIndex(addr uintptr) int {
	pageBase := c.pageAt(addr).base
	return int((addr - pageBase) / c.lineSize)
}
