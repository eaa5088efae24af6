package pte

import (
	"microkern/kernel"
	"microkern/kernel/arch"
	"microkern/kernel/mem/pmm"
)

// Errors returned by the page-table engine.
var (
	ErrNonCanonical = &kernel.Error{Module: "pte", Message: "non-canonical virtual address"}
	ErrNotMapped    = &kernel.Error{Module: "pte", Message: "virtual address is not mapped"}
	ErrAlreadyMapped = &kernel.Error{Module: "pte", Message: "virtual address is already mapped"}
	ErrOutOfMemory  = &kernel.Error{Module: "pte", Message: "out of memory allocating an interior page-table page"}
)

// pageLevels is the number of x86-64 paging levels: PML4, PDPT, PD, PT.
const pageLevels = 4

// pageLevelShifts[i] is the bit offset of the 9-bit index for level i.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

const levelIndexBits = 9
const levelIndexMask = (uintptr(1) << levelIndexBits) - 1

// Canonical reports whether vaddr obeys the canonical-form rule: bits 47..63
// must be either all zero (user half) or all one (kernel half).
func Canonical(vaddr uintptr) bool {
	top := vaddr >> 47
	return top == 0 || top == (uintptr(1)<<17)-1
}

func levelIndex(vaddr uintptr, level int) uintptr {
	return (vaddr >> pageLevelShifts[level]) & levelIndexMask
}

// Engine builds and walks four-level page tables, allocating interior table
// pages from a pmm.Allocator as needed.
type Engine struct {
	alloc *pmm.Allocator
	store *store
}

// NewEngine creates a page-table engine that allocates interior table pages
// from alloc.
func NewEngine(alloc *pmm.Allocator) *Engine {
	return &Engine{alloc: alloc, store: newStore()}
}

// NewRoot allocates a fresh, zeroed PML4 frame suitable for use as an address
// space's root.
func (e *Engine) NewRoot() (pmm.Frame, *kernel.Error) {
	f, err := e.alloc.Alloc(0)
	if err != nil {
		return pmm.InvalidFrame, err
	}
	e.store.alloc(f)
	return f, nil
}

// Walk descends the four paging levels for vaddr under root, returning a
// pointer to the final-level (PT) entry. It does not allocate; intermediate
// tables that are not present yield ErrNotMapped (the leaf is reported as
// not present too).
func (e *Engine) Walk(root pmm.Frame, vaddr uintptr) (*Entry, *kernel.Error) {
	if !Canonical(vaddr) {
		return nil, ErrNonCanonical
	}

	cur := root
	for level := 0; level < pageLevels; level++ {
		t := e.store.get(cur)
		if t == nil {
			return nil, ErrNotMapped
		}
		idx := levelIndex(vaddr, level)
		entry := &t[idx]

		if level == pageLevels-1 {
			return entry, nil
		}
		if !entry.HasFlags(FlagPresent) {
			return nil, ErrNotMapped
		}
		cur = entry.Frame()
	}
	return nil, ErrNotMapped
}

// ensureChild returns the table frame that entry points to, allocating and
// wiring a fresh zeroed interior table if entry is not yet present. Interior
// entries get P=1, W=1, satisfying the most-permissive-child requirement by
// always granting W on interior nodes and letting the leaf's own flags be
// the actual permission boundary.
func (e *Engine) ensureChild(entry *Entry) (pmm.Frame, *kernel.Error) {
	if entry.HasFlags(FlagPresent) {
		return entry.Frame(), nil
	}

	childFrame, err := e.alloc.Alloc(0)
	if err != nil {
		return pmm.InvalidFrame, ErrOutOfMemory
	}
	e.store.alloc(childFrame)

	entry.SetFrame(childFrame)
	entry.SetFlags(FlagPresent | FlagWritable)
	return childFrame, nil
}

// Map creates any intermediate tables required to reach vaddr and writes a
// present leaf entry pointing at paddr with the given flags. If the leaf is
// already present, Map fails with ErrAlreadyMapped and leaves the existing
// mapping untouched.
//
// If an interior allocation fails partway through the walk, the partial
// chain already installed is retained rather than unwound: the residue is
// benign, costing one frame per unused interior table, and VMM-level
// callers that need strict cleanup do so themselves
// (see vmm.Alloc's unwind-on-failure behavior, which operates one level up).
func (e *Engine) Map(root pmm.Frame, vaddr uintptr, paddr pmm.Frame, flags Flag) *kernel.Error {
	if !Canonical(vaddr) {
		return ErrNonCanonical
	}

	cur := root
	for level := 0; level < pageLevels-1; level++ {
		t := e.store.get(cur)
		if t == nil {
			return ErrNotMapped
		}
		idx := levelIndex(vaddr, level)
		childFrame, err := e.ensureChild(&t[idx])
		if err != nil {
			return err
		}
		cur = childFrame
	}

	t := e.store.get(cur)
	idx := levelIndex(vaddr, pageLevels-1)
	leaf := &t[idx]
	if leaf.HasFlags(FlagPresent) {
		return ErrAlreadyMapped
	}

	leaf.SetFrame(paddr)
	leaf.SetFlags(flags | FlagPresent)
	return nil
}

// Unmap clears the leaf entry for vaddr if it is present. It does not shoot
// down empty interior tables.
func (e *Engine) Unmap(root pmm.Frame, vaddr uintptr) *kernel.Error {
	entry, err := e.Walk(root, vaddr)
	if err != nil {
		return nil // not mapped: unmap of the unmapped is a no-op
	}
	if entry.HasFlags(FlagPresent) {
		*entry = 0
	}
	return nil
}

// Translate returns the mapped physical address (frame base + page offset)
// for vaddr, or (0, false) if it is not mapped.
func (e *Engine) Translate(root pmm.Frame, vaddr uintptr) (uintptr, bool) {
	entry, err := e.Walk(root, vaddr)
	if err != nil || !entry.HasFlags(FlagPresent) {
		return 0, false
	}
	offset := vaddr & (uintptr(1)<<pageLevelShifts[pageLevels-1] - 1)
	return phys(*entry) + offset, true
}

// FreeTable drops the simulated backing store for a table frame (used by
// vmm.Destroy once it has walked and freed every table in an address space).
func (e *Engine) FreeTable(f pmm.Frame) {
	e.store.free(f)
}

// SwitchTo installs root as the active page-table base via the platform's
// page-table-base register.
func (e *Engine) SwitchTo(plat arch.Platform, root pmm.Frame) {
	plat.SwitchPageTable(root)
}

// Table exposes the raw 512-entry content of a table frame, for callers
// (vmm.Destroy's reverse lookup) that need to walk every entry of every
// level rather than a single vaddr's chain.
func (e *Engine) Table(f pmm.Frame) (*[512]Entry, bool) {
	t := e.store.get(f)
	if t == nil {
		return nil, false
	}
	return (*[512]Entry)(t), true
}
