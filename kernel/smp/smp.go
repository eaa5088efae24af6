// Package smp implements CPU discovery, Local-APIC/IO-APIC programming, the
// per-CPU periodic timer that drives the scheduler tick, and inter-processor
// interrupts, all through the narrow kernel/arch.Platform primitive.
package smp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"microkern/kernel"
	"microkern/kernel/arch"
)

// Simulated Local-APIC/IO-APIC MMIO layout. Offsets match the real x86-64
// LAPIC register map; the values themselves are only ever read back through
// arch.Platform's simulated MMIO, never interpreted by real hardware.
const (
	lapicBase              = 0xFEE00000
	lapicRegESR            = 0x280
	lapicRegEOI            = 0x0B0
	lapicRegSpurious       = 0x0F0
	lapicRegICRLow         = 0x300
	lapicRegLVTTimer       = 0x320
	lapicRegTimerInitCount = 0x380
	lapicRegTimerDivide    = 0x3E0

	deliveryStatusPendingBit = 0x1000
	spuriousVector           = 0xFF
	timerVector              = 0x20
	timerModePeriodic        = 0x20000
	timerDivideBy16          = 0x3

	ioapicBase            = 0xFEC00000
	ioapicRedirTableBase  = 0x10
	ioapicMaxRedirEntries = 24
	ioapicMaskBit         = 1 << 16

	vectorStartup uint8 = 0x08
	vectorStop    uint8 = 0x09

	// simulatedBusHz is a nominal bus frequency used only to compute a
	// plausible initial-count value for the simulated periodic timer.
	simulatedBusHz = 1_000_000_000
)

// Errors returned by the SMP/APIC layer.
var (
	ErrNoAPIC          = &kernel.Error{Module: "smp", Message: "CPU reports no local APIC", Kind: kernel.KindNotInitialized}
	ErrUnknownCPU      = &kernel.Error{Module: "smp", Message: "unknown CPU id", Kind: kernel.KindNotFound}
	ErrInvalidIRQ      = &kernel.Error{Module: "smp", Message: "IRQ out of IO-APIC redirection-table range", Kind: kernel.KindOutOfRange}
	ErrInvalidArgument = &kernel.Error{Module: "smp", Message: "invalid argument", Kind: kernel.KindInvalidArgument}
)

// CPU is one entry of the discovered CPU table.
type CPU struct {
	ID        int
	APICID    uint8
	BSP       bool
	Active    bool
	LAPICBase uintptr
}

// DeliveryStatus mirrors the Local-APIC ICR's Delivery-Status bit, polled
// after issuing an IPI.
type DeliveryStatus int

const (
	DeliveryIdle DeliveryStatus = iota
	DeliveryPending
)

//go:generate stringer -type=DeliveryStatus

type redirEntry struct {
	masked bool
	vector uint8
	cpu    int
}

// Manager owns CPU discovery, the IO-APIC redirection table, and the
// per-CPU timer that drives a scheduler tick callback.
type Manager struct {
	plat arch.Platform
	cpus []CPU

	ioapic [ioapicMaxRedirEntries]redirEntry

	onTick func()

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewManager discovers numCPU logical processors via CPUID leaf 1,
// confirming APIC presence on each, and masks every IO-APIC redirection
// entry at bring-up. onTick is invoked once per simulated timer period by
// StartTicker; it is typically sched.Scheduler.Tick.
func NewManager(plat arch.Platform, numCPU int, onTick func()) (*Manager, *kernel.Error) {
	m := &Manager{plat: plat, onTick: onTick}

	for i := 0; i < numCPU; i++ {
		leaf := plat.CPUID(i)
		if !leaf.APICPresent {
			return nil, ErrNoAPIC
		}
		m.cpus = append(m.cpus, CPU{
			ID:        i,
			APICID:    leaf.LocalAPICID,
			BSP:       i == 0,
			Active:    i == 0,
			LAPICBase: lapicBase,
		})
	}
	for i := range m.ioapic {
		m.ioapic[i].masked = true
	}
	return m, nil
}

// SetOnTick rebinds the callback StartTicker invokes once per simulated
// timer period. It exists because bring-up order places SMP discovery
// before the scheduler is constructed, so the tick callback isn't available
// yet at NewManager time; Init calls this once the scheduler exists, before
// StartTicker.
func (m *Manager) SetOnTick(onTick func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTick = onTick
}

// CPUCount returns the number of discovered logical processors.
func (m *Manager) CPUCount() int { return len(m.cpus) }

// CPUs returns a copy of the discovered CPU table.
func (m *Manager) CPUs() []CPU {
	out := make([]CPU, len(m.cpus))
	copy(out, m.cpus)
	return out
}

func computeInitCount(tickHz int) uint32 {
	if tickHz <= 0 {
		tickHz = 1000
	}
	return uint32(simulatedBusHz / 16 / tickHz)
}

// InitLocalAPIC enables the APIC, clears ESR and pending EOI, sets the
// spurious-interrupt vector, and configures the per-CPU periodic timer for
// tickHz.
func (m *Manager) InitLocalAPIC(tickHz int) {
	m.plat.WriteMMIO(lapicBase, lapicRegESR, 0)
	m.plat.WriteMMIO(lapicBase, lapicRegEOI, 0)
	m.plat.WriteMMIO(lapicBase, lapicRegSpurious, 0x100|spuriousVector)
	m.plat.WriteMMIO(lapicBase, lapicRegTimerDivide, timerDivideBy16)
	m.plat.WriteMMIO(lapicBase, lapicRegLVTTimer, timerModePeriodic|uint32(timerVector))
	m.plat.WriteMMIO(lapicBase, lapicRegTimerInitCount, computeInitCount(tickHz))
	m.plat.FullFence()
}

// Route programs IO-APIC redirection entry irq to fire vector on cpuID,
// edge-triggered by default.
func (m *Manager) Route(irq int, cpuID int, vector uint8) *kernel.Error {
	if irq < 0 || irq >= ioapicMaxRedirEntries {
		return ErrInvalidIRQ
	}
	m.ioapic[irq] = redirEntry{masked: false, vector: vector, cpu: cpuID}
	m.plat.WriteMMIO(ioapicBase, uintptr(ioapicRedirTableBase+2*irq), uint32(vector))
	return nil
}

// Unroute masks irq's redirection entry.
func (m *Manager) Unroute(irq int) *kernel.Error {
	if irq < 0 || irq >= ioapicMaxRedirEntries {
		return ErrInvalidIRQ
	}
	m.ioapic[irq] = redirEntry{masked: true}
	m.plat.WriteMMIO(ioapicBase, uintptr(ioapicRedirTableBase+2*irq), ioapicMaskBit)
	return nil
}

// SendIPI delivers a directed IPI and polls the Delivery-Status bit until
// it clears.
func (m *Manager) SendIPI(targetAPICID uint8, vector uint8) DeliveryStatus {
	m.plat.SendIPI(targetAPICID, vector)
	return m.pollDeliveryStatus()
}

func (m *Manager) pollDeliveryStatus() DeliveryStatus {
	if m.plat.ReadMMIO(lapicBase, lapicRegICRLow)&deliveryStatusPendingBit != 0 {
		return DeliveryPending
	}
	return DeliveryIdle
}

// Broadcast delivers vector to every discovered CPU except the one
// identified by senderAPICID, fanning the deliveries out concurrently and
// collecting each one's delivery status.
func (m *Manager) Broadcast(vector uint8, senderAPICID uint8) ([]DeliveryStatus, error) {
	targets := make([]CPU, 0, len(m.cpus))
	for _, cpu := range m.cpus {
		if cpu.APICID != senderAPICID {
			targets = append(targets, cpu)
		}
	}

	statuses := make([]DeliveryStatus, len(targets))
	var g errgroup.Group
	for i, cpu := range targets {
		i, cpu := i, cpu
		g.Go(func() error {
			statuses[i] = m.SendIPI(cpu.APICID, vector)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// StartCPU wakes a non-BSP CPU with a startup IPI.
func (m *Manager) StartCPU(id int) *kernel.Error {
	if id < 0 || id >= len(m.cpus) {
		return ErrUnknownCPU
	}
	if m.cpus[id].BSP {
		return ErrInvalidArgument
	}
	m.SendIPI(m.cpus[id].APICID, vectorStartup)
	m.cpus[id].Active = true
	return nil
}

// StopCPU sends a stop vector to id.
func (m *Manager) StopCPU(id int) *kernel.Error {
	if id < 0 || id >= len(m.cpus) {
		return ErrUnknownCPU
	}
	m.SendIPI(m.cpus[id].APICID, vectorStop)
	m.cpus[id].Active = false
	return nil
}

// CPUSleep halts the calling (simulated) CPU until the next interrupt.
func (m *Manager) CPUSleep() { m.plat.HaltCPU() }

// StartAll brings up every non-BSP CPU concurrently, returning the first
// error encountered (if any); AP scheduling itself remains optional, this
// only completes the IPI handshake.
func (m *Manager) StartAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for i := range m.cpus {
		if m.cpus[i].BSP {
			continue
		}
		i := i
		g.Go(func() error {
			if err := m.StartCPU(i); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// StartTicker begins driving onTick once per interval on a background
// goroutine, standing in for the real periodic Local-APIC timer interrupt.
func (m *Manager) StartTicker(interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.onTick != nil {
					m.onTick()
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopTicker stops a ticker started by StartTicker; a no-op if none is
// running.
func (m *Manager) StopTicker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
}

// FullFence, ReadFence, and WriteFence expose the platform's cross-CPU
// ordering barriers to SMP-layer callers.
func (m *Manager) FullFence()  { m.plat.FullFence() }
func (m *Manager) ReadFence()  { m.plat.ReadFence() }
func (m *Manager) WriteFence() { m.plat.WriteFence() }
