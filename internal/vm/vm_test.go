package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveAlignedPowerOfTwo(t *testing.T) {
	for _, alignment := range []uintptr{PageSize, 4 * PageSize, 64 * PageSize} {
		r, err := ReserveAligned(2*PageSize, alignment)
		require.NoError(t, err)
		require.Zero(t, r.Base%alignment, "base %#x not aligned to %#x", r.Base, alignment)
		require.NoError(t, Release(r.Base, r.Size))
	}
}

func TestReserveRejectsNonPow2Alignment(t *testing.T) {
	_, err := ReserveAligned(PageSize, 3*PageSize)
	require.Error(t, err)
}

func TestReserveZeroFilled(t *testing.T) {
	r, err := Reserve(PageSize)
	require.NoError(t, err)
	defer Release(r.Base, r.Size)

	b := addr2slice(r.Base, r.Size)
	for i, v := range b {
		require.Zerof(t, v, "byte %d not zero", i)
	}
}

func TestHintRoundTrip(t *testing.T) {
	r, err := Reserve(4 * PageSize)
	require.NoError(t, err)
	defer Release(r.Base, r.Size)

	require.NoError(t, HintIdle(r.Base, r.Size))
	require.NoError(t, HintResident(r.Base, r.Size))
	require.NoError(t, HintIdleSloppy(r.Base+1, r.Size-2))
	require.NoError(t, HintResidentSloppy(r.Base+1, r.Size-2))
}
