package arch

import (
	"sync"

	"golang.org/x/sys/cpu"

	"microkern/kernel/mem/pmm"
)

// Sim is a software simulation of the Platform interface. It reports real
// host CPU features (via golang.org/x/sys/cpu) for the FPU-state decision
// and IPI/MMIO behavior that would otherwise require actual hardware, but
// keeps every register as plain in-memory state so the rest of the kernel
// core can be driven deterministically from tests.
type Sim struct {
	mu sync.Mutex

	numCPU      int
	mmio        map[uintptr]map[uintptr]uint32
	pageTableOf []pmm.Frame

	// ipiInbox[cpu] receives vectors sent to that CPU; BroadcastIPI fans
	// out to every inbox.
	ipiInbox []chan uint8

	fenceCount int
}

// NewSim creates a simulated platform with numCPU logical processors. CPU 0
// is conventionally the bootstrap processor (BSP).
func NewSim(numCPU int) *Sim {
	if numCPU < 1 {
		numCPU = 1
	}
	s := &Sim{
		numCPU:      numCPU,
		mmio:        make(map[uintptr]map[uintptr]uint32),
		pageTableOf: make([]pmm.Frame, numCPU),
		ipiInbox:    make([]chan uint8, numCPU),
	}
	for i := range s.ipiInbox {
		s.ipiInbox[i] = make(chan uint8, 64)
		s.pageTableOf[i] = pmm.InvalidFrame
	}
	return s
}

// NumCPU returns the number of simulated logical processors.
func (s *Sim) NumCPU() int { return s.numCPU }

// CPUID reports a simulated leaf 1: APIC always present, the simulated
// logical-processor count, and cpuNum as the local APIC id. It does not
// probe the host CPU.
func (s *Sim) CPUID(cpuNum int) CPUIDLeaf1 {
	return CPUIDLeaf1{
		APICPresent:       true,
		LogicalProcessors: uint8(s.numCPU),
		LocalAPICID:       uint8(cpuNum),
	}
}

// FPUState picks the wider XSAVE-style layout when the host CPU supports
// AVX, and the legacy FXSAVE layout otherwise — a context switch needs to
// know which layout it is saving/restoring.
func (s *Sim) FPUState(cpuNum int) FPUStateKind {
	if cpu.X86.HasAVX {
		return FPUStateExtended
	}
	if cpu.X86.HasSSE2 {
		return FPUStateLegacy
	}
	return FPUStateLegacy
}

// SwitchPageTable records root as the active page table for cpu 0 (the BSP;
// this simulation does not model per-CPU callers explicitly, since AP
// scheduling itself is optional).
func (s *Sim) SwitchPageTable(root pmm.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageTableOf[0] = root
}

// ActivePageTable returns the page table last installed via SwitchPageTable.
func (s *Sim) ActivePageTable() pmm.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageTableOf[0]
}

func (s *Sim) ReadMMIO(base, offset uintptr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.mmio[base]
	if regs == nil {
		return 0
	}
	return regs[offset]
}

func (s *Sim) WriteMMIO(base, offset uintptr, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := s.mmio[base]
	if regs == nil {
		regs = make(map[uintptr]uint32)
		s.mmio[base] = regs
	}
	regs[offset] = value
}

func (s *Sim) FullFence() {
	s.mu.Lock()
	s.fenceCount++
	s.mu.Unlock()
}

func (s *Sim) ReadFence()  { s.FullFence() }
func (s *Sim) WriteFence() { s.FullFence() }

// HaltCPU is a no-op in the simulation: there is no real interrupt to wait
// for, so it returns at once and a caller that halts the "current CPU" on
// an unrecoverable error continues past the call (kfmt.Panic returns).
func (s *Sim) HaltCPU() {}

// SendIPI places vector in the target CPU's inbox. Delivery-status polling
// is implicit: the buffered channel send either succeeds immediately (status
// clear) or the caller's use of a select with a full buffer would model a
// busy target; with a 64-entry buffer this simulation never blocks.
func (s *Sim) SendIPI(targetAPICID uint8, vector uint8) {
	idx := int(targetAPICID)
	if idx < 0 || idx >= len(s.ipiInbox) {
		return
	}
	s.ipiInbox[idx] <- vector
}

// BroadcastIPI delivers vector to every CPU's inbox.
func (s *Sim) BroadcastIPI(vector uint8) {
	for i := range s.ipiInbox {
		s.ipiInbox[i] <- vector
	}
}

// RecvIPI is a test/SMP-layer hook for draining a CPU's IPI inbox; it is not
// part of the Platform interface because real hardware delivers IPIs via an
// interrupt vector, not a poll, but the simulation needs an observable sink.
func (s *Sim) RecvIPI(cpuNum int) (uint8, bool) {
	select {
	case v := <-s.ipiInbox[cpuNum]:
		return v, true
	default:
		return 0, false
	}
}
