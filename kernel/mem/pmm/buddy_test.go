package pmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microkern/kernel/mem"
)

func sixtyFourMiBMap() []Region {
	return []Region{
		{Base: 0, Length: 64 * uint64(mem.Mb), Type: RegionAvailable},
	}
}

func TestBuddySplitAndCoalesce(t *testing.T) {
	var a Allocator
	a.SetMemoryMap(sixtyFourMiBMap())

	totalFrames := uint64(64*uint64(mem.Mb)) / uint64(mem.PageSize)
	require.Equal(t, totalFrames, a.Stats().FreeFrames)

	p0, err := a.Alloc(0)
	require.Nil(t, err)
	p1, err := a.Alloc(0)
	require.Nil(t, err)
	require.Equal(t, p1, p0^1, "buddies of order 0 must differ only in the low index bit")

	require.Nil(t, a.Free(p0, 0))
	require.Nil(t, a.Free(p1, 0))

	stats := a.Stats()
	require.Equal(t, totalFrames, stats.FreeFrames, "free(alloc(k),k) must restore pre-call stats")
	require.Equal(t, uint64(0), stats.UsedFrames)
}

func TestBuddyInvariantSumPlusUsedEqualsTotal(t *testing.T) {
	var a Allocator
	a.SetMemoryMap(sixtyFourMiBMap())

	f1, err := a.Alloc(3)
	require.Nil(t, err)
	f2, err := a.Alloc(5)
	require.Nil(t, err)

	stats := a.Stats()
	sum := uint64(0)
	for order, count := range stats.FreePerOrder {
		sum += count * (uint64(1) << uint(order))
	}
	require.Equal(t, stats.TotalFrames, sum+stats.UsedFrames)

	require.Nil(t, a.Free(f1, 3))
	require.Nil(t, a.Free(f2, 5))
	require.Equal(t, stats.TotalFrames, a.Stats().FreeFrames)
}

func TestBuddyNoTwoFreeBuddiesOfSameOrder(t *testing.T) {
	var a Allocator
	a.SetMemoryMap(sixtyFourMiBMap())

	seen := make(map[Frame]bool)
	for order, count := range a.Stats().FreePerOrder {
		for n := a.free[order]; n != nil; n = n.next {
			buddy := n.frame ^ Frame(uint64(1)<<uint(order))
			require.False(t, seen[buddy], "buddy %d at order %d should have coalesced", buddy, order)
			seen[n.frame] = true
		}
		_ = count
	}
}

func TestBuddyRejection(t *testing.T) {
	var a Allocator
	a.SetMemoryMap([]Region{{Base: 0, Length: 128 * uint64(mem.Mb), Type: RegionAvailable}})

	require.False(t, a.CanAlloc(200*uint64(mem.Mb)))
	f, err := a.AllocBytes(200 * uint64(mem.Mb))
	require.NotNil(t, err)
	require.False(t, f.Valid())

	// half of total memory must be rejected outright.
	half := 128 * uint64(mem.Mb) / 2
	require.False(t, a.CanAlloc(half))
}

func TestBuddyAllocMaxOrderNeverPanics(t *testing.T) {
	var a Allocator
	a.SetMemoryMap(sixtyFourMiBMap())

	require.NotPanics(t, func() {
		_, err := a.Alloc(MaxOrder)
		require.NotNil(t, err)
	})
}

func TestBuddyFreeListAfterFreeThenAllocSucceeds(t *testing.T) {
	var a Allocator
	a.SetMemoryMap(sixtyFourMiBMap())

	f, err := a.Alloc(4)
	require.Nil(t, err)
	require.Nil(t, a.Free(f, 4))

	_, err = a.Alloc(4)
	require.Nil(t, err, "freeing then re-allocating the same size must succeed without fragmentation-induced starvation")
}

func TestBuddyFreeNullIsNoop(t *testing.T) {
	var a Allocator
	a.SetMemoryMap(sixtyFourMiBMap())
	require.Nil(t, a.Free(InvalidFrame, 0))
}

func TestBuddySeedsMultipleRegions(t *testing.T) {
	var a Allocator
	a.SetMemoryMap([]Region{
		{Base: 0, Length: 8 * uint64(mem.Mb), Type: RegionAvailable},
		{Base: 8 * uint64(mem.Mb), Length: 4 * uint64(mem.Mb), Type: RegionReserved},
		{Base: 12 * uint64(mem.Mb), Length: 16 * uint64(mem.Mb), Type: RegionAvailable},
	})

	require.Equal(t, uint64(24*uint64(mem.Mb))/uint64(mem.PageSize), a.Stats().TotalFrames)
}
