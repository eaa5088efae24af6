package boot

import (
	"microkern/kernel"
	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/mem/vmm"
)

// Flag is the monolithic layer's map/unmap permission request: {Read=1,
// Write=2, Exec=4, User=8}, translated to vmm.Flag at the call site.
type Flag uint8

const (
	Read Flag = 1 << iota
	Write
	Exec
	User
)

func (f Flag) toVMM() vmm.Flag {
	var out vmm.Flag
	if f&Read != 0 {
		out |= vmm.Read
	}
	if f&Write != 0 {
		out |= vmm.Write
	}
	if f&Exec != 0 {
		out |= vmm.Exec
	}
	if f&User != 0 {
		out |= vmm.User
	}
	return out
}

// AllocPage allocates a single page of kernel-writable memory and returns
// its virtual address.
func (k *Kernel) AllocPage() (uintptr, *kernel.Error) {
	return k.AllocBytes(pageSize)
}

// FreePage returns the single page allocated at vaddr.
func (k *Kernel) FreePage(vaddr uintptr) *kernel.Error {
	return k.FreeBytes(vaddr, pageSize)
}

// AllocPages allocates n contiguous pages of kernel-writable memory.
func (k *Kernel) AllocPages(n int) (uintptr, *kernel.Error) {
	if n <= 0 {
		return 0, vmm.ErrRejected
	}
	return k.AllocBytes(uint64(n) * pageSize)
}

// FreePages returns the n pages allocated at vaddr.
func (k *Kernel) FreePages(vaddr uintptr, n int) *kernel.Error {
	if n <= 0 {
		return nil
	}
	return k.FreeBytes(vaddr, uint64(n)*pageSize)
}

// AllocBytes allocates ceil(n/4KiB) pages of kernel-writable memory and
// returns the virtual base address.
func (k *Kernel) AllocBytes(n uint64) (uintptr, *kernel.Error) {
	if err := k.checkReady(); err != nil {
		return 0, err
	}
	return k.vmem.Alloc(k.vmem.KernelSpace(), n, vmm.Read|vmm.Write)
}

// FreeBytes unmaps and returns n bytes starting at vaddr to the PFA.
func (k *Kernel) FreeBytes(vaddr uintptr, n uint64) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.vmem.Free(k.vmem.KernelSpace(), vaddr, n)
}

// Map installs a single vaddr -> paddr mapping in the kernel address space
// with the given permission flags.
func (k *Kernel) Map(vaddr, paddr uintptr, flags Flag) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	frame := pmm.Frame(paddr >> mem.PageShift)
	return k.vmem.MapPage(k.vmem.KernelSpace(), vaddr, frame, flags.toVMM())
}

// Unmap clears the mapping at vaddr in the kernel address space, if present.
func (k *Kernel) Unmap(vaddr uintptr) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.vmem.UnmapPage(k.vmem.KernelSpace(), vaddr)
}
