package pte

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microkern/kernel/arch"
	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
)

func newTestEngine(t *testing.T) (*Engine, *pmm.Allocator) {
	t.Helper()
	var a pmm.Allocator
	a.SetMemoryMap([]pmm.Region{{Base: 0, Length: 64 * uint64(mem.Mb), Type: pmm.RegionAvailable}})
	return NewEngine(&a), &a
}

func TestCanonical(t *testing.T) {
	require.True(t, Canonical(0))
	require.True(t, Canonical(0x0000_7FFF_FFFF_F000))
	require.True(t, Canonical(0xFFFF_8000_0000_0000))
	require.False(t, Canonical(0x0001_0000_0000_0000))
}

func TestMapTranslateUnmapRoundTrip(t *testing.T) {
	e, a := newTestEngine(t)
	root, err := e.NewRoot()
	require.Nil(t, err)

	page, err := a.Alloc(0)
	require.Nil(t, err)

	const vaddr = uintptr(0x400000)
	require.Nil(t, e.Map(root, vaddr, page, FlagWritable))

	got, ok := e.Translate(root, vaddr)
	require.True(t, ok)
	require.Equal(t, page.Address(), got)

	require.Nil(t, e.Unmap(root, vaddr))
	_, ok = e.Translate(root, vaddr)
	require.False(t, ok, "unmap must restore the pre-map walk result")
}

func TestMapAlreadyMapped(t *testing.T) {
	e, a := newTestEngine(t)
	root, _ := e.NewRoot()
	p1, _ := a.Alloc(0)
	p2, _ := a.Alloc(0)

	require.Nil(t, e.Map(root, 0x1000, p1, FlagWritable))
	err := e.Map(root, 0x1000, p2, FlagWritable)
	require.Equal(t, ErrAlreadyMapped, err)
}

func TestMapNonCanonical(t *testing.T) {
	e, a := newTestEngine(t)
	root, _ := e.NewRoot()
	p, _ := a.Alloc(0)

	err := e.Map(root, 0x0001_0000_0000_0000, p, FlagWritable)
	require.Equal(t, ErrNonCanonical, err)
}

func TestWalkNotMapped(t *testing.T) {
	e, _ := newTestEngine(t)
	root, _ := e.NewRoot()

	_, err := e.Walk(root, 0x600000)
	require.Equal(t, ErrNotMapped, err)
}

func TestSwitchTo(t *testing.T) {
	e, a := newTestEngine(t)
	root, _ := e.NewRoot()
	plat := arch.NewSim(1)

	e.SwitchTo(plat, root)
	require.Equal(t, root, plat.ActivePageTable())

	_, _ = a.Alloc(0) // keep allocator referenced for vet
}
