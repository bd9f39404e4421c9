package fat32_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/cache"
	"github.com/kernelfs/fat32/fat32"
)

func newTestAllocator(t *testing.T, nEntries uint32) *fat32.Allocator {
	t.Helper()
	sectorsPerFAT := (nEntries/128 + 1)
	dev := blockdev.NewMemDevice(uint64(sectorsPerFAT) * 2)
	c := cache.New(dev, 4, 8)
	return fat32.NewAllocator(c, 0, sectorsPerFAT, sectorsPerFAT, nEntries)
}

func TestChainBuildAndTraverse(t *testing.T) {
	a := newTestAllocator(t, 64)

	require.NoError(t, a.SetNext(2, 3))
	require.NoError(t, a.SetNext(3, 4))
	require.NoError(t, a.SetEnd(4))

	next, err := a.NextOf(2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, next)

	final, err := a.FinalOf(2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, final)

	chain, err := a.AllOf(2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 4}, chain)

	count, err := a.Count(2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	at1, err := a.ClusterAt(2, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, at1)
}

func TestCountOfZeroIsZero(t *testing.T) {
	a := newTestAllocator(t, 16)
	count, err := a.Count(0)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNextOfFallsBackToFAT2WhenFAT1IsBad(t *testing.T) {
	a := newTestAllocator(t, 16)

	// Leave FAT1's entry BAD and FAT2's a legitimate successor: the FAT2
	// repair below bypasses SetNext's mirrored write.
	require.NoError(t, a.SetNext(5, fat32.ClusterBad))
	// SetNext wrote BAD to both FATs; now repair only FAT2.
	fixFAT2Entry(t, a, 5, 9)

	next, err := a.NextOf(5)
	require.NoError(t, err)
	assert.EqualValues(t, 9, next)
}

// fixFAT2Entry reaches around the Allocator's mirrored SetNext to simulate
// a FAT1/FAT2 divergence, exercising the fallback path described in
// spec.md §4.2 and Open Question (a) in spec.md §9.
func fixFAT2Entry(t *testing.T, a *fat32.Allocator, cluster, value uint32) {
	t.Helper()
	require.NoError(t, a.RepairFAT2Entry(cluster, value))
}

func TestLoopIsReportedAsCorrupt(t *testing.T) {
	a := newTestAllocator(t, 16)
	require.NoError(t, a.SetNext(2, 3))
	require.NoError(t, a.SetNext(3, 2)) // 2 -> 3 -> 2: a loop

	_, err := a.AllOf(2)
	assert.Error(t, err)
}

func TestNextFreeFromScansForward(t *testing.T) {
	a := newTestAllocator(t, 16)
	require.NoError(t, a.SetNext(2, fat32.ClusterEndMin))
	require.NoError(t, a.SetNext(3, fat32.ClusterEndMin))

	free, err := a.NextFreeFrom(2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, free)
}
