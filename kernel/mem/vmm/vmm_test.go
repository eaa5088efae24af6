package vmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/mem/pte"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	var alloc pmm.Allocator
	alloc.SetMemoryMap([]pmm.Region{{Base: 0, Length: 128 * uint64(mem.Mb), Type: pmm.RegionAvailable}})
	engine := pte.NewEngine(&alloc)
	m, err := NewManager(&alloc, engine)
	require.Nil(t, err)
	return m
}

func TestAddressSpaceRoundTrip(t *testing.T) {
	m := newTestManager(t)
	as, err := m.CreateAddressSpace()
	require.Nil(t, err)

	vaddr, aerr := m.Alloc(as, uint64(mem.PageSize), Read|Write)
	require.Nil(t, aerr)

	for i := uintptr(0); i < uintptr(mem.PageSize); i += uintptr(mem.PageSize) {
		_, ok := m.Translate(as, vaddr+i)
		require.True(t, ok)
	}

	require.Nil(t, m.Free(as, vaddr, uint64(mem.PageSize)))
	_, ok := m.Translate(as, vaddr)
	require.False(t, ok)
}

func TestAllocDistinctBases(t *testing.T) {
	m := newTestManager(t)
	as, _ := m.CreateAddressSpace()

	v1, err := m.Alloc(as, uint64(mem.PageSize), Read|Write)
	require.Nil(t, err)
	v2, err := m.Alloc(as, uint64(mem.PageSize), Read|Write)
	require.Nil(t, err)
	require.NotEqual(t, v1, v2, "distinct allocations must get distinct virtual bases")
}

func TestFreeThenAllocSameSizeSucceeds(t *testing.T) {
	m := newTestManager(t)
	as, _ := m.CreateAddressSpace()

	size := uint64(4 * mem.PageSize)
	v1, err := m.Alloc(as, size, Read|Write)
	require.Nil(t, err)
	require.Nil(t, m.Free(as, v1, size))

	_, err = m.Alloc(as, size, Read|Write)
	require.Nil(t, err)
}

func TestRejectionAtOrAboveHalfMemory(t *testing.T) {
	m := newTestManager(t)
	as, _ := m.CreateAddressSpace()

	total := uint64(128 * uint64(mem.Mb))
	require.False(t, m.CanAlloc(total/2+1))

	// exactly half of total memory must be rejected outright, not just
	// strictly more than half.
	require.False(t, m.CanAlloc(total/2))

	_, err := m.Alloc(as, total/2, Read|Write)
	require.Equal(t, ErrRejected, err)
}

func TestMapPageNonCanonical(t *testing.T) {
	m := newTestManager(t)
	as, _ := m.CreateAddressSpace()

	err := m.MapPage(as, 0x0001_0000_0000_0000, 0, Read|Write)
	require.Equal(t, pte.ErrNonCanonical, err)
}

func TestKernelHalfSharedAcrossSpaces(t *testing.T) {
	m := newTestManager(t)
	as1, _ := m.CreateAddressSpace()
	as2, _ := m.CreateAddressSpace()

	require.Nil(t, m.MapPage(m.KernelSpace(), KernelBase, 5, Read|Write))

	for _, as := range []*AddressSpace{as1, as2} {
		got, ok := m.Translate(as, KernelBase)
		require.True(t, ok, "kernel half must be visible from every address space")
		require.Equal(t, pmm.Frame(5).Address(), got)
	}
}

func TestDestroyFreesFrames(t *testing.T) {
	m := newTestManager(t)
	as, _ := m.CreateAddressSpace()

	size := uint64(8 * mem.PageSize)
	_, err := m.Alloc(as, size, Read|Write)
	require.Nil(t, err)

	before := m.frames.Stats().FreeFrames
	require.Nil(t, m.Destroy(as))
	after := m.frames.Stats().FreeFrames
	require.Greater(t, after, before)
}
