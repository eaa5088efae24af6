// Package boot wires the six kernel-core components into a single running
// instance and exposes the facade the monolithic layer (drivers, VFS, shell)
// is built against: memory allocation/mapping, task creation, IPC, terminal
// driver hooks, and introspection. It plays the role gopher-os's
// kernel/kmain package plays relative to its leaf kernel package: kernel
// (root) stays a dependency-free leaf holding only kernel.Error, while the
// component wiring — which must import every subsystem, each of which
// already imports kernel for kernel.Error — lives one level up so the import
// graph stays acyclic.
package boot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"microkern/kernel"
	"microkern/kernel/arch"
	"microkern/kernel/config"
	"microkern/kernel/ipc"
	"microkern/kernel/kfmt"
	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/mem/pte"
	"microkern/kernel/mem/vmm"
	"microkern/kernel/sched"
	"microkern/kernel/smp"
	ksync "microkern/kernel/sync"
)

// ErrNotInitialized is returned by every facade method called on a Kernel
// that hasn't completed Init.
var ErrNotInitialized = &kernel.Error{Module: "boot", Message: "kernel not initialized", Kind: kernel.KindNotInitialized}

// TerminalWriteFunc and TerminalReadFunc are the capability abstractions
// RegisterTerminalDriver installs: identity is unimportant, only that the
// monolithic layer's driver supplies something callable.
type TerminalWriteFunc func(p []byte) (int, error)
type TerminalReadFunc func(p []byte) (int, error)

// SystemInfo is the introspection snapshot get_system_info populates:
// aggregate memory stats, discovered CPU count, and whether Init completed.
type SystemInfo struct {
	MemTotalBytes uint64
	MemFreeBytes  uint64
	CPUCount      int
	Initialized   bool
}

// Kernel is the live, wired instance of every component, in the dependency
// order PFA -> VMM (+PTE) -> SMP -> Scheduler -> IPC required at boot. The
// zero value is not usable; build one with Init.
type Kernel struct {
	mu ksync.Spinlock

	plat arch.Platform
	cfg  config.Config

	frames *pmm.Allocator
	tables *pte.Engine
	vmem   *vmm.Manager
	cpus   *smp.Manager
	tasks  *sched.Scheduler
	msgs   *ipc.Manager

	log *zap.SugaredLogger

	termWrite TerminalWriteFunc
	termRead  TerminalReadFunc

	started bool
}

// Init boots a Kernel against cfg, on plat. It seeds the PFA from
// cfg.Regions(), brings up the VMM's kernel address space, discovers
// cfg.NumCPU simulated CPUs and arms their periodic timer, constructs the
// scheduler and IPC manager, wires kfmt's panic path to plat.HaltCPU, and
// finally starts the scheduler (creating its Idle task) and the SMP ticker
// that drives Scheduler.Tick. From that point the ticker delivers periodic
// preemption the way a real Local-APIC interrupt would.
func Init(plat arch.Platform, cfg config.Config) (*Kernel, *kernel.Error) {
	kfmt.SetHaltFn(plat.HaltCPU)

	k := &Kernel{
		plat: plat,
		cfg:  cfg,
		log:  kfmt.ComponentLogger("boot"),
	}

	k.frames = &pmm.Allocator{}
	k.frames.SetMemoryMap(cfg.Regions())
	k.log.Infow("physical frame allocator seeded", "regions", len(cfg.MemoryMap))

	k.tables = pte.NewEngine(k.frames)

	var err *kernel.Error
	k.vmem, err = vmm.NewManager(k.frames, k.tables)
	if err != nil {
		return nil, err
	}

	k.cpus, err = smp.NewManager(plat, cfg.NumCPU, nil)
	if err != nil {
		return nil, err
	}
	k.cpus.InitLocalAPIC(cfg.TickHz)
	k.log.Infow("smp discovered", "cpus", k.cpus.CPUCount())

	k.tasks = sched.NewScheduler(plat, k.vmem, k.vmem.KernelSpace(), cfg.MaxTasks, cfg.DefaultTimeSlice)
	k.cpus.SetOnTick(func() { k.tasks.Tick() })

	k.msgs = ipc.NewManager(k.frames, k.tasks, tickIntervalMillis(cfg.TickHz), cfg.SystemQueueCapacity)

	k.tasks.Start()
	k.log.Infow("scheduler started", "idle task created", true)

	tickInterval := time.Duration(tickIntervalMillis(cfg.TickHz)) * time.Millisecond
	k.cpus.StartTicker(tickInterval)
	k.log.Infow("smp ticker armed", "interval", tickInterval.String())

	k.started = true
	return k, nil
}

func tickIntervalMillis(tickHz int) uint64 {
	if tickHz <= 0 {
		return 1
	}
	return uint64(1000 / tickHz)
}

// Shutdown stops the SMP ticker. It does not tear down tasks or free
// memory; the simulation's process exit handles that.
func (k *Kernel) Shutdown() {
	k.cpus.StopTicker()
}

// StartAPs brings up every discovered non-BSP CPU via the IPI hand-shake.
// AP scheduling beyond that hand-shake is out of scope.
func (k *Kernel) StartAPs(ctx context.Context) error {
	return k.cpus.StartAll(ctx)
}

func (k *Kernel) checkReady() *kernel.Error {
	if k == nil || !k.started {
		return ErrNotInitialized
	}
	return nil
}

// pageSize is the facade's unit for AllocPage/FreePage, matching mem.PageSize.
const pageSize = uint64(mem.PageSize)
