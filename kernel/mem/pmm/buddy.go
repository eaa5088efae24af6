package pmm

import (
	"sync"

	"go.uber.org/atomic"

	"microkern/kernel"
	"microkern/kernel/kfmt"
	"microkern/kernel/mem"
)

// MaxOrder is the highest buddy order the allocator tracks. A block of
// order MaxOrder spans 2^MaxOrder frames (4 GiB worth of 4 KiB frames).
const MaxOrder = 20

// maxSingleAllocBytes is a defensive admission cap: a single request may
// never exceed 100 MiB regardless of how much memory is free.
const maxSingleAllocBytes = 100 * uint64(mem.Mb)

var (
	// ErrOutOfMemory is returned when no free block of the requested order
	// (or smaller) is currently available.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrInvalidRequest is returned by the allocator's admission checks.
	ErrInvalidRequest = &kernel.Error{Module: "pmm", Message: "invalid allocation request"}

	// ErrBadFree is returned when Free is called with a frame/order pair
	// that is not currently tracked as allocated at that order: an order
	// outside 0..MaxOrder, a frame that is not the base of a live block
	// (including a double free), or an order that differs from the one the
	// block was allocated with. This is PFA corruption: Free also routes it
	// through kfmt.Panic before returning it.
	ErrBadFree = &kernel.Error{Module: "pmm", Message: "free of frame outside arena or invalid order", Kind: kernel.KindCorrupted}
)

// Region describes a single BIOS/bootloader memory-map entry, as consumed by
// SetMemoryMap. Only RegionAvailable entries contribute frames to the
// allocator.
type Region struct {
	Base   uintptr
	Length uint64
	Type   RegionType
}

// RegionType mirrors the multiboot-2 memory-map entry types.
type RegionType uint32

//go:generate stringer -type=RegionType
const (
	RegionAvailable RegionType = iota
	RegionReserved
	RegionACPI
	RegionUnusable
)

// node is one entry of a free-list: the index of a free block together with
// an intrusive link to the next free block of the same order.
type node struct {
	frame Frame
	next  *node
}

// Allocator is a power-of-two buddy allocator over a single arena of 4 KiB
// frames. The zero value is not usable; call SetMemoryMap first.
//
// The entire free-list array is protected by one lock; it is only ever
// held across the bounded split/coalesce walk of a single Alloc/Free call.
type Allocator struct {
	mu sync.Mutex

	// free holds the head of the free-list for every order.
	free [MaxOrder + 1]*node

	// allocated tracks, per arena frame, whether that frame is the base of
	// a currently-allocated block and at what order it was allocated.
	// Callers are expected to preserve the order they allocated with, but
	// this bookkeeping rejects misuse rather than silently corrupting the
	// heap, which is strictly more conservative than required.
	allocated map[Frame]int

	totalFrames uint64
	freeFrames  atomic.Uint64
}

// SetMemoryMap consumes the bootloader-reported regions, keeping only frames
// that fall within RegionAvailable entries, and seeds the free-lists with the
// largest naturally-aligned power-of-two blocks that fit each region.
func (a *Allocator) SetMemoryMap(regions []Region) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = [MaxOrder + 1]*node{}
	a.allocated = make(map[Frame]int)
	a.totalFrames = 0
	a.freeFrames.Store(0)

	for _, r := range regions {
		if r.Type != RegionAvailable {
			continue
		}
		a.seedRegion(r)
	}
}

// seedRegion splits a single available region into maximal aligned
// power-of-two blocks and pushes each onto the appropriate free-list.
func (a *Allocator) seedRegion(r Region) {
	startFrame := Frame((r.Base + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize))
	endFrame := Frame((r.Base + uintptr(r.Length)) / uintptr(mem.PageSize)) // exclusive

	for f := startFrame; f < endFrame; {
		remaining := uint64(endFrame - f)

		order := MaxOrder
		for order > 0 && (uint64(1)<<uint(order) > remaining || uint64(f)%(uint64(1)<<uint(order)) != 0) {
			order--
		}

		blockFrames := uint64(1) << uint(order)
		a.pushFree(order, f)
		a.totalFrames += blockFrames
		a.freeFrames.Add(blockFrames)
		f += Frame(blockFrames)
	}
}

func (a *Allocator) pushFree(order int, f Frame) {
	a.free[order] = &node{frame: f, next: a.free[order]}
}

// popFree removes and returns the head of free-list[order], or false if the
// list is empty.
func (a *Allocator) popFree(order int) (Frame, bool) {
	n := a.free[order]
	if n == nil {
		return 0, false
	}
	a.free[order] = n.next
	return n.frame, true
}

// unlinkFree removes a specific frame from free-list[order] if present,
// returning true if it was found (used by the coalesce walk to find a free
// buddy).
func (a *Allocator) unlinkFree(order int, f Frame) bool {
	var prev *node
	for n := a.free[order]; n != nil; prev, n = n, n.next {
		if n.frame != f {
			continue
		}
		if prev == nil {
			a.free[order] = n.next
		} else {
			prev.next = n.next
		}
		return true
	}
	return false
}

// admit applies the allocator's three admission checks, in order, before
// any free-list is searched. A block that is at least half of total memory
// is rejected, not just one that's strictly more.
func (a *Allocator) admit(order int) *kernel.Error {
	if order < 0 || order > MaxOrder {
		return ErrInvalidRequest
	}
	blockFrames := uint64(1) << uint(order)
	if blockFrames > a.totalFrames {
		return ErrOutOfMemory
	}
	if blockFrames >= a.totalFrames/2 {
		return ErrInvalidRequest
	}
	if blockFrames*uint64(mem.PageSize) > maxSingleAllocBytes {
		return ErrInvalidRequest
	}
	return nil
}

// Alloc returns a block of exactly 2^order naturally-aligned frames.
func (a *Allocator) Alloc(order int) (Frame, *kernel.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.admit(order); err != nil {
		return InvalidFrame, err
	}

	k := order
	for k <= MaxOrder && a.free[k] == nil {
		k++
	}
	if k > MaxOrder {
		return InvalidFrame, ErrOutOfMemory
	}

	block, _ := a.popFree(k)
	for k > order {
		k--
		// block is order-(k+1) aligned, so bit k of its index is zero:
		// the upper half buddy is always block + 2^k, never lower.
		upper := block + Frame(uint64(1)<<uint(k))
		a.pushFree(k, upper)
	}

	a.allocated[block] = order
	a.freeFrames.Sub(uint64(1) << uint(order))
	return block, nil
}

// AllocBytes rounds n up to a page and computes the ceiling order, then
// allocates that many frames.
func (a *Allocator) AllocBytes(n uint64) (Frame, *kernel.Error) {
	pages := (n + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	if pages == 0 {
		pages = 1
	}
	order := 0
	for (uint64(1) << uint(order)) < pages {
		order++
	}
	return a.Alloc(order)
}

// Free returns a previously allocated block to the allocator. It must be
// called with the same order used for the matching Alloc; free of
// InvalidFrame is a no-op.
func (a *Allocator) Free(f Frame, order int) *kernel.Error {
	if f == InvalidFrame {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if order < 0 || order > MaxOrder {
		kfmt.Panic(ErrBadFree)
		return ErrBadFree
	}
	if gotOrder, ok := a.allocated[f]; !ok || gotOrder != order {
		kfmt.Panic(ErrBadFree)
		return ErrBadFree
	}
	delete(a.allocated, f)

	freed := uint64(1) << uint(order)
	block := f
	for order < MaxOrder {
		buddy := block ^ Frame(uint64(1)<<uint(order))
		if !a.unlinkFree(order, buddy) {
			break
		}
		if buddy < block {
			block = buddy
		}
		order++
	}
	a.pushFree(order, block)
	a.freeFrames.Add(freed)
	return nil
}

// Stats is a point-in-time snapshot of allocator statistics.
type Stats struct {
	TotalFrames uint64
	FreeFrames  uint64
	UsedFrames  uint64
	FreePerOrder [MaxOrder + 1]uint64
}

// Stats returns the current total/free/used frame counts and a per-order
// free-list length, for debugging and system-info introspection.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TotalFrames: a.totalFrames,
		FreeFrames:  a.freeFrames.Load(),
	}
	s.UsedFrames = s.TotalFrames - s.FreeFrames
	for order := 0; order <= MaxOrder; order++ {
		count := uint64(0)
		for n := a.free[order]; n != nil; n = n.next {
			count++
		}
		s.FreePerOrder[order] = count
	}
	return s
}

// CanAlloc reports whether a request of the given byte size would pass
// admission (it does not reserve anything).
func (a *Allocator) CanAlloc(size uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	pages := (size + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	if pages == 0 {
		pages = 1
	}
	order := 0
	for (uint64(1) << uint(order)) < pages {
		order++
	}
	return a.admit(order) == nil
}
