// Package vmm implements the virtual memory manager (VMM): it owns
// address-space handles, allocates virtual ranges, backs them with PFA
// frames, installs PTE mappings, and rejects impossible requests.
package vmm

import (
	"microkern/kernel"
	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/mem/pte"
)

// Canonical virtual-address layout. The kernel half is shared by every
// address space (one set of kernel PML4 slots referenced from every user
// root); the user half is per-space.
const (
	UserBase   uintptr = 0x0000_0000_0040_0000
	UserEnd    uintptr = 0x0000_7FFF_FFFF_F000
	KernelBase uintptr = 0xFFFF_8000_0000_0000
	KernelEnd  uintptr = 0xFFFF_FFFF_FFFF_F000
)

// maxSingleAllocBytes mirrors the PFA's defensive cap: a single VMM
// allocation can never exceed 100 MiB.
const maxSingleAllocBytes = 100 * uint64(mem.Mb)

// Errors returned by the VMM.
var (
	ErrRejected    = &kernel.Error{Module: "vmm", Message: "allocation request rejected by admission rules", Kind: kernel.KindInvalidArgument}
	ErrOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of memory", Kind: kernel.KindOutOfMemory}
	ErrNotFound    = &kernel.Error{Module: "vmm", Message: "address space not found", Kind: kernel.KindNotFound}
)

// Flag is a VMM-level permission request, translated to PTE flags.
type Flag uint8

const (
	Read Flag = 1 << iota
	Write
	Exec
	User
)

// toPTEFlags translates a VMM-level permission request into PTE flags:
// {Read→Present, Write→Writable, User→User, !Exec→NX}. Kernel allocations
// implicitly gain Writable and lose User.
func toPTEFlags(f Flag, kernelSpace bool) pte.Flag {
	var out pte.Flag
	if f&Write != 0 || kernelSpace {
		out |= pte.FlagWritable
	}
	if f&User != 0 && !kernelSpace {
		out |= pte.FlagUser
	}
	if f&Exec == 0 {
		out |= pte.FlagNX
	}
	return out
}

// AddressSpace is a VMM-owned handle: a root (PML4) page-table frame plus
// the flags identifying it as kernel or user, and the per-space virtual
// range allocator.
type AddressSpace struct {
	root   pmm.Frame
	kernel bool
	ranges *rangeSet
}

// Root returns the address space's PML4 frame (used by callers that need to
// install it directly, e.g. the scheduler switching address spaces).
func (as *AddressSpace) Root() pmm.Frame { return as.root }

// IsKernel reports whether this is the shared kernel address space.
func (as *AddressSpace) IsKernel() bool { return as.kernel }

// Manager owns the PFA and PTE engine and hands out AddressSpace handles.
type Manager struct {
	frames *pmm.Allocator
	tables *pte.Engine

	kernelSpace *AddressSpace
}

// NewManager creates a VMM backed by the given frame allocator. It installs
// the shared kernel address space immediately, which exists for the life
// of the kernel.
func NewManager(frames *pmm.Allocator, tables *pte.Engine) (*Manager, *kernel.Error) {
	m := &Manager{frames: frames, tables: tables}

	root, err := tables.NewRoot()
	if err != nil {
		return nil, err
	}
	// Give every kernel-half PML4 slot its own PDPT up front, so the slots
	// shareKernelHalf copies into each new address space already point at
	// the tables later kernel mappings are made in.
	kernelTable, _ := tables.Table(root)
	for i := 256; i < 512; i++ {
		pdpt, err := tables.NewRoot()
		if err != nil {
			return nil, err
		}
		kernelTable[i].SetFrame(pdpt)
		kernelTable[i].SetFlags(pte.FlagPresent | pte.FlagWritable)
	}
	m.kernelSpace = &AddressSpace{
		root:   root,
		kernel: true,
		ranges: newRangeSet(KernelBase, KernelEnd),
	}
	return m, nil
}

// KernelSpace returns the shared kernel address space.
func (m *Manager) KernelSpace() *AddressSpace { return m.kernelSpace }

// CreateAddressSpace allocates a root page and initializes it empty plus
// the shared kernel half.
func (m *Manager) CreateAddressSpace() (*AddressSpace, *kernel.Error) {
	root, err := m.tables.NewRoot()
	if err != nil {
		return nil, ErrOutOfMemory
	}

	as := &AddressSpace{
		root:   root,
		kernel: false,
		ranges: newRangeSet(UserBase, UserEnd),
	}
	m.shareKernelHalf(as)
	return as, nil
}

// shareKernelHalf wires the shared kernel PML4 slots (indices covering the
// canonical-high half) from the kernel root into as's root, so every address
// space sees the same kernel mappings.
func (m *Manager) shareKernelHalf(as *AddressSpace) {
	kernelTable, ok := m.tables.Table(m.kernelSpace.root)
	if !ok {
		return
	}
	userTable, ok := m.tables.Table(as.root)
	if !ok {
		return
	}
	// PML4 index 256 (0x100) is the first index whose address is
	// canonical-high; share every slot from there up.
	for i := 256; i < 512; i++ {
		userTable[i] = kernelTable[i]
	}
}

// admit applies the VMM's admission rules: reject if size exceeds free
// bytes, or is at least half of total memory, or exceeds the 100 MiB
// single-request cap. Exactly half is rejected, not just strictly more.
func (m *Manager) admit(size uint64) *kernel.Error {
	if size == 0 {
		return ErrRejected
	}
	stats := m.frames.Stats()
	freeBytes := stats.FreeFrames * uint64(mem.PageSize)
	totalBytes := stats.TotalFrames * uint64(mem.PageSize)

	if size > freeBytes {
		return ErrRejected
	}
	if size >= totalBytes/2 {
		return ErrRejected
	}
	if size > maxSingleAllocBytes {
		return ErrRejected
	}
	return nil
}

// CanAlloc applies the same admission rules the allocator enforces, without
// reserving anything.
func (m *Manager) CanAlloc(size uint64) bool {
	return m.admit(size) == nil
}

// Alloc allocates ceil(size/4KiB) frames via the PFA, maps them contiguously
// at a VMM-chosen vaddr, and returns the base. Every page mapped before a
// failure is unmapped and freed before reporting.
func (m *Manager) Alloc(as *AddressSpace, size uint64, flags Flag) (uintptr, *kernel.Error) {
	if err := m.admit(size); err != nil {
		return 0, err
	}

	pages := (size + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	base, rerr := as.ranges.alloc(pages * uint64(mem.PageSize))
	if rerr != nil {
		return 0, rerr
	}

	pteFlags := toPTEFlags(flags, as.kernel)
	mapped := make([]pmm.Frame, 0, pages)

	for i := uint64(0); i < pages; i++ {
		frame, err := m.frames.Alloc(0)
		if err != nil {
			m.unwind(as, base, mapped, pages)
			return 0, ErrOutOfMemory
		}
		vaddr := base + uintptr(i)*uintptr(mem.PageSize)
		if merr := m.tables.Map(as.root, vaddr, frame, pteFlags); merr != nil {
			_ = m.frames.Free(frame, 0)
			m.unwind(as, base, mapped, pages)
			return 0, merr
		}
		mapped = append(mapped, frame)
	}

	return base, nil
}

// unwind undoes a partially-completed Alloc: unmap and free every page
// mapped so far, and return the virtual range.
func (m *Manager) unwind(as *AddressSpace, base uintptr, mapped []pmm.Frame, pages uint64) {
	for i, frame := range mapped {
		vaddr := base + uintptr(i)*uintptr(mem.PageSize)
		_ = m.tables.Unmap(as.root, vaddr)
		_ = m.frames.Free(frame, 0)
	}
	as.ranges.free(base, pages*uint64(mem.PageSize))
}

// Free unmaps vaddr..vaddr+size and returns the backing frames to the PFA.
func (m *Manager) Free(as *AddressSpace, vaddr uintptr, size uint64) *kernel.Error {
	pages := (size + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)

	for i := uint64(0); i < pages; i++ {
		pv := vaddr + uintptr(i)*uintptr(mem.PageSize)
		entry, err := m.tables.Walk(as.root, pv)
		if err == nil && entry.HasFlags(pte.FlagPresent) {
			frame := entry.Frame()
			_ = m.tables.Unmap(as.root, pv)
			_ = m.frames.Free(frame, 0)
		}
	}
	as.ranges.free(vaddr, pages*uint64(mem.PageSize))
	return nil
}

// MapPage is a thin wrapper over the PTE engine with VMM's flag translation.
func (m *Manager) MapPage(as *AddressSpace, vaddr uintptr, paddr pmm.Frame, flags Flag) *kernel.Error {
	return m.tables.Map(as.root, vaddr, paddr, toPTEFlags(flags, as.kernel))
}

// UnmapPage is a thin wrapper over the PTE engine's Unmap.
func (m *Manager) UnmapPage(as *AddressSpace, vaddr uintptr) *kernel.Error {
	return m.tables.Unmap(as.root, vaddr)
}

// Translate exposes the PTE engine's translate for this address space.
func (m *Manager) Translate(as *AddressSpace, vaddr uintptr) (uintptr, bool) {
	return m.tables.Translate(as.root, vaddr)
}

// Destroy frees all non-shared page-table pages and returns their backing
// frames to the PFA. Rather than require a caller-maintained reverse map,
// Destroy walks the address space's own page tables, which it already owns
// exclusively, to recover every mapped leaf frame plus every interior table
// frame below PML4 index 256 (the non-shared, user half).
func (m *Manager) Destroy(as *AddressSpace) *kernel.Error {
	if as.kernel {
		return ErrRejected
	}

	root, ok := m.tables.Table(as.root)
	if !ok {
		return ErrNotFound
	}

	var errs error
	for i := 0; i < 256; i++ {
		if !root[i].HasFlags(pte.FlagPresent) {
			continue
		}
		m.destroyPDPT(root[i].Frame(), &errs)
	}
	_ = m.frames.Free(as.root, 0)
	m.tables.FreeTable(as.root)

	if errs != nil {
		return &kernel.Error{Module: "vmm", Message: errs.Error()}
	}
	return nil
}

func (m *Manager) destroyPDPT(f pmm.Frame, errs *error) {
	t, ok := m.tables.Table(f)
	if !ok {
		return
	}
	for i := range t {
		if !t[i].HasFlags(pte.FlagPresent) {
			continue
		}
		m.destroyPD(t[i].Frame(), errs)
	}
	*errs = joinErr(*errs, m.frames.Free(f, 0))
	m.tables.FreeTable(f)
}

func (m *Manager) destroyPD(f pmm.Frame, errs *error) {
	t, ok := m.tables.Table(f)
	if !ok {
		return
	}
	for i := range t {
		if !t[i].HasFlags(pte.FlagPresent) {
			continue
		}
		m.destroyPT(t[i].Frame(), errs)
	}
	*errs = joinErr(*errs, m.frames.Free(f, 0))
	m.tables.FreeTable(f)
}

func (m *Manager) destroyPT(f pmm.Frame, errs *error) {
	t, ok := m.tables.Table(f)
	if !ok {
		return
	}
	for i := range t {
		if !t[i].HasFlags(pte.FlagPresent) {
			continue
		}
		*errs = joinErr(*errs, m.frames.Free(t[i].Frame(), 0))
	}
	*errs = joinErr(*errs, m.frames.Free(f, 0))
	m.tables.FreeTable(f)
}
