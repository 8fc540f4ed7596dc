package heap

import (
	"testing"

	"github.com/gomalloc/gomalloc/internal/sizeclass"
	"github.com/gomalloc/gomalloc/internal/vm"
	"github.com/stretchr/testify/require"
)

func TestBuildLineMetadataAccountsForEveryObject(t *testing.T) {
	const objSize = 24
	meta := buildLineMetadata(objSize, SmallLineSize, SmallPageSize)
	require.Len(t, meta, SmallPageSize/SmallLineSize)

	total := 0
	for _, m := range meta {
		total += m.ObjectCount
	}

	expected := 0
	for offset := uintptr(0); offset+objSize <= SmallPageSize; offset += objSize {
		expected++
	}
	require.Equal(t, expected, total)
}

func TestEmitBumpRangesReferencesEveryLineOnAPerfectlyDivisibleClass(t *testing.T) {
	c := newSmallChunk(vm.Region{Base: 0x40000, Size: ChunkSize})
	p := c.pages[0]

	idx := sizeclass.Index(16) // smallest class; 256/16 == 16 objects per line exactly
	p.sizeClass = idx
	objSize := sizeclass.ObjectSize(idx)
	meta := buildLineMetadata(objSize, SmallLineSize, SmallPageSize)

	ranges := emitBumpRanges(p, meta, SmallLineSize, nil)
	require.NotEmpty(t, ranges)

	total := 0
	for _, r := range ranges {
		total += r.ObjectCount
	}
	require.Equal(t, int(SmallPageSize/objSize), total)
	require.Equal(t, len(p.lines), p.refCount, "every line should now be referenced")
}

func TestEmitBumpRangesSkipsLinesAlreadyReferenced(t *testing.T) {
	c := newSmallChunk(vm.Region{Base: 0x50000, Size: ChunkSize})
	p := c.pages[0]

	idx := sizeclass.Index(16)
	p.sizeClass = idx
	objSize := sizeclass.ObjectSize(idx)
	meta := buildLineMetadata(objSize, SmallLineSize, SmallPageSize)

	p.lines[0].refCount = 1
	p.refCount = 1

	ranges := emitBumpRanges(p, meta, SmallLineSize, nil)
	for _, r := range ranges {
		require.NotEqual(t, p.base, r.Begin, "the already-referenced first line must not be handed out again")
	}
}
