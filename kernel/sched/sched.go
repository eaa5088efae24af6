// Package sched implements the preemptive, round-robin task scheduler: a
// fixed task table, three intrusive queues (ready, blocked, sleeping), and
// the state machine that moves tasks between them on a periodic tick.
package sched

import (
	"go.uber.org/atomic"

	"microkern/kernel"
	"microkern/kernel/arch"
	"microkern/kernel/kfmt"
	"microkern/kernel/mem"
	"microkern/kernel/mem/vmm"
	ksync "microkern/kernel/sync"
)

// MaxTasks is the task table's default capacity, used when NewScheduler is
// given maxTasks <= 0.
const MaxTasks = 256

// DefaultStackSize is the kernel stack size Create allocates per task.
const DefaultStackSize = uint64(8 * mem.Kb)

// DefaultTimeSlice is the nominal CPU budget, in ticks, granted to a task
// when it transitions to Running, used when NewScheduler is given
// timeSlice <= 0.
const DefaultTimeSlice = 3

// Errors returned by the scheduler. Operations on an unknown task_id are
// silent no-ops, not errors; these cover the cases that legitimately fail
// (table exhaustion, stack allocation failure).
var (
	ErrTableFull   = &kernel.Error{Module: "sched", Message: "task table full", Kind: kernel.KindOutOfRange}
	ErrOutOfMemory = &kernel.Error{Module: "sched", Message: "out of memory allocating a task stack", Kind: kernel.KindOutOfMemory}

	// ErrNoReadyTask marks the scheduler's unrecoverable state: once Start
	// has run, the Idle task is always either Running or on the ready queue,
	// so a started scheduler finding the ready queue empty with no task still
	// Running means the queues themselves are corrupt. scheduleLocked routes
	// this through kfmt.Panic rather than silently leaving no task Running.
	ErrNoReadyTask = &kernel.Error{Module: "sched", Message: "no ready task to schedule; idle task missing", Kind: kernel.KindCorrupted}
)

// Stats is a point-in-time snapshot of scheduler state, for system-info
// introspection and diagnostics.
type Stats struct {
	TaskCount     int
	ReadyCount    int
	BlockedCount  int
	SleepingCount int
	Ticks         uint64
}

// Scheduler owns the task table, the three queues, and the current-task
// pointer, all serialized by a single lock per the concurrency model's
// "one lock around ready/blocked/sleeping queues and the current-task
// pointer".
type Scheduler struct {
	mu ksync.Spinlock

	plat   arch.Platform
	vmem   *vmm.Manager
	kspace *vmm.AddressSpace

	nextID atomic.Uint64

	tasks     []*Task
	timeSlice int

	ready    *queue
	blocked  *queue
	sleeping *queue

	current *Task
	idle    *Task

	ticks   uint64
	started bool
}

// NewScheduler creates a scheduler that allocates task stacks from vmem in
// kspace (the shared kernel address space) and uses plat for the
// context-switch memory barrier. maxTasks <= 0 uses MaxTasks; timeSlice <= 0
// uses DefaultTimeSlice.
func NewScheduler(plat arch.Platform, vmem *vmm.Manager, kspace *vmm.AddressSpace, maxTasks int, timeSlice uint64) *Scheduler {
	if maxTasks <= 0 {
		maxTasks = MaxTasks
	}
	slice := int(timeSlice)
	if slice <= 0 {
		slice = DefaultTimeSlice
	}
	return &Scheduler{
		plat:      plat,
		vmem:      vmem,
		kspace:    kspace,
		tasks:     make([]*Task, maxTasks),
		timeSlice: slice,
		ready:     newQueue(queueReady),
		blocked:   newQueue(queueBlocked),
		sleeping:  newQueue(queueSleeping),
	}
}

func (s *Scheduler) lookupLocked(id ID) *Task {
	for _, t := range s.tasks {
		if t != nil && t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Scheduler) slotOfLocked(t *Task) int {
	for i, cur := range s.tasks {
		if cur == t {
			return i
		}
	}
	return -1
}

func (s *Scheduler) freeSlotLocked() int {
	for i, t := range s.tasks {
		if t == nil {
			return i
		}
	}
	return -1
}

func (s *Scheduler) removeFromQueuesLocked(t *Task) {
	switch t.queue {
	case queueReady:
		s.ready.remove(t)
	case queueBlocked:
		s.blocked.remove(t)
	case queueSleeping:
		s.sleeping.remove(t)
	}
}

// Create allocates a kernel stack via the VMM, initializes a task record,
// and links it at the ready queue's tail.
func (s *Scheduler) Create(entry EntryFunc, name string, priority Priority) (ID, *kernel.Error) {
	s.mu.Acquire()
	defer s.mu.Release()

	slot := s.freeSlotLocked()
	if slot < 0 {
		return 0, ErrTableFull
	}

	base, verr := s.vmem.Alloc(s.kspace, DefaultStackSize, vmm.Read|vmm.Write)
	if verr != nil {
		return 0, ErrOutOfMemory
	}

	t := &Task{
		ID:             ID(s.nextID.Inc()),
		Name:           name,
		Priority:       priority,
		State:          StateReady,
		entry:          entry,
		stackBase:      base,
		stackSize:      DefaultStackSize,
		sliceRemaining: s.timeSlice,
	}
	s.tasks[slot] = t
	s.ready.pushTail(t)
	return t.ID, nil
}

// CreateThread is identical to Create except the caller supplies the stack,
// so Terminate does not return it to the VMM.
func (s *Scheduler) CreateThread(stackBase uintptr, stackSize uint64, entry EntryFunc) (ID, *kernel.Error) {
	s.mu.Acquire()
	defer s.mu.Release()

	slot := s.freeSlotLocked()
	if slot < 0 {
		return 0, ErrTableFull
	}

	t := &Task{
		ID:             ID(s.nextID.Inc()),
		State:          StateReady,
		entry:          entry,
		stackBase:      stackBase,
		stackSize:      stackSize,
		callerStack:    true,
		sliceRemaining: s.timeSlice,
	}
	s.tasks[slot] = t
	s.ready.pushTail(t)
	return t.ID, nil
}

// idleLoop is the Idle task's entry: halt the CPU until the next interrupt.
// It is never invoked directly by the scheduler (see EntryFunc); it exists
// so Start's created Idle task carries a meaningful capability.
func (s *Scheduler) idleLoop() {
	s.plat.HaltCPU()
}

// Start creates the Idle task (lowest priority) and performs the first
// schedule, picking the first Ready task.
func (s *Scheduler) Start() {
	s.mu.Acquire()
	if s.started {
		s.mu.Release()
		return
	}

	idle := &Task{
		ID:             ID(s.nextID.Inc()),
		Name:           "idle",
		Priority:       PriorityLow,
		State:          StateReady,
		entry:          s.idleLoop,
		sliceRemaining: s.timeSlice,
	}
	if slot := s.freeSlotLocked(); slot >= 0 {
		s.tasks[slot] = idle
	}
	s.idle = idle
	s.ready.pushTail(idle)
	s.started = true
	s.scheduleLocked()
	s.mu.Release()
}

// Yield sets the current task's remaining slice to zero and reschedules.
func (s *Scheduler) Yield() {
	s.mu.Acquire()
	defer s.mu.Release()
	if s.current != nil {
		s.current.sliceRemaining = 0
	}
	s.scheduleLocked()
}

// Schedule picks the next Ready task. If it is the current task, it returns
// without disturbing state; otherwise it moves the outgoing Running task to
// Ready (if it was Running), sets the incoming task Running with a fresh
// budget, and issues the context-switch barrier.
func (s *Scheduler) Schedule() {
	s.mu.Acquire()
	defer s.mu.Release()
	s.scheduleLocked()
}

func (s *Scheduler) scheduleLocked() {
	next := s.ready.popHead()
	if next == nil {
		if s.current != nil && s.current.State == StateRunning {
			s.current.sliceRemaining = s.timeSlice
			return
		}
		if s.started {
			kfmt.Panic(ErrNoReadyTask)
		}
		return
	}
	if next == s.current {
		s.ready.pushTail(next)
		return
	}

	// Context switch implies a full barrier on both sides (concurrency
	// model). The simulation has no real register save/restore to do;
	// the barrier call is the observable side effect.
	s.plat.FullFence()

	old := s.current
	if old != nil && old.State == StateRunning {
		old.State = StateReady
		s.ready.pushTail(old)
	}

	next.State = StateRunning
	next.sliceRemaining = s.timeSlice
	s.current = next
}

// Tick accounts one timer tick against the current task's budget, wakes any
// sleepers whose wake time has arrived, and reschedules if the budget is
// exhausted. It returns the ID of the task that was Running during this
// tick (0 if none), which is what a fairness check across many ticks
// observes.
func (s *Scheduler) Tick() ID {
	s.mu.Acquire()
	s.ticks++
	s.wakeDueSleepersLocked()

	var ran ID
	if s.current != nil {
		ran = s.current.ID
		s.current.cpuTicks++
		s.current.sliceRemaining--
	}
	mustSchedule := s.current == nil || s.current.sliceRemaining <= 0
	if mustSchedule {
		s.scheduleLocked()
	}
	s.mu.Release()
	return ran
}

func (s *Scheduler) wakeDueSleepersLocked() {
	var due []*Task
	for t := s.sleeping.head; t != nil; t = t.next {
		if t.wakeAtTick <= s.ticks {
			due = append(due, t)
		}
	}
	for _, t := range due {
		s.sleeping.remove(t)
		t.State = StateReady
		s.ready.pushTail(t)
	}
}

// Terminate marks id Terminated, unlinks it from every queue, frees its
// stack (if the VMM owns it), and frees its table slot.
func (s *Scheduler) Terminate(id ID) *kernel.Error {
	s.mu.Acquire()
	t := s.lookupLocked(id)
	if t == nil {
		s.mu.Release()
		return nil
	}

	s.removeFromQueuesLocked(t)
	wasCurrent := t == s.current
	if wasCurrent {
		s.current = nil
	}
	t.State = StateTerminated
	if slot := s.slotOfLocked(t); slot >= 0 {
		s.tasks[slot] = nil
	}
	s.mu.Release()

	if !t.callerStack && t.stackBase != 0 {
		_ = s.vmem.Free(s.kspace, t.stackBase, t.stackSize)
	}
	if wasCurrent {
		s.Schedule()
	}
	return nil
}

// Block moves id from Ready/Running to Blocked, recording reason.
func (s *Scheduler) Block(id ID, reason string) *kernel.Error {
	s.mu.Acquire()
	t := s.lookupLocked(id)
	if t == nil {
		s.mu.Release()
		return nil
	}

	s.removeFromQueuesLocked(t)
	t.State = StateBlocked
	t.blockReason = reason
	s.blocked.pushTail(t)
	wasCurrent := t == s.current
	if wasCurrent {
		s.current = nil
	}
	s.mu.Release()

	if wasCurrent {
		s.Schedule()
	}
	return nil
}

// Unblock moves id from Blocked back to Ready's tail.
func (s *Scheduler) Unblock(id ID) *kernel.Error {
	s.mu.Acquire()
	defer s.mu.Release()

	t := s.lookupLocked(id)
	if t == nil || t.State != StateBlocked {
		return nil
	}
	s.blocked.remove(t)
	t.State = StateReady
	t.blockReason = ""
	s.ready.pushTail(t)
	return nil
}

// Sleep moves id to the sleeping queue, keyed by wake-time (current tick
// count plus ticks).
func (s *Scheduler) Sleep(id ID, ticks uint64) *kernel.Error {
	s.mu.Acquire()
	t := s.lookupLocked(id)
	if t == nil {
		s.mu.Release()
		return nil
	}

	s.removeFromQueuesLocked(t)
	t.State = StateSleeping
	t.wakeAtTick = s.ticks + ticks
	s.sleeping.pushTail(t)
	wasCurrent := t == s.current
	if wasCurrent {
		s.current = nil
	}
	s.mu.Release()

	if wasCurrent {
		s.Schedule()
	}
	return nil
}

// WakeSleeper moves id from Sleeping directly back to Ready, for a waiter
// woken by an external event (kernel/ipc's blocking Recv being satisfied by
// a Send) rather than by its wake-tick elapsing.
func (s *Scheduler) WakeSleeper(id ID) *kernel.Error {
	s.mu.Acquire()
	defer s.mu.Release()
	t := s.lookupLocked(id)
	if t == nil || t.State != StateSleeping {
		return nil
	}
	s.sleeping.remove(t)
	t.State = StateReady
	s.ready.pushTail(t)
	return nil
}

// SetPriority is a silent no-op for an unknown id.
func (s *Scheduler) SetPriority(id ID, p Priority) *kernel.Error {
	s.mu.Acquire()
	defer s.mu.Release()
	if t := s.lookupLocked(id); t != nil {
		t.Priority = p
	}
	return nil
}

// GetPriority returns the sentinel PriorityLow for an unknown id.
func (s *Scheduler) GetPriority(id ID) Priority {
	s.mu.Acquire()
	defer s.mu.Release()
	if t := s.lookupLocked(id); t != nil {
		return t.Priority
	}
	return PriorityLow
}

// Current returns the currently Running task's ID, or 0 if none.
func (s *Scheduler) Current() ID {
	s.mu.Acquire()
	defer s.mu.Release()
	if s.current == nil {
		return 0
	}
	return s.current.ID
}

// Count returns the number of live (non-free) task-table slots.
func (s *Scheduler) Count() int {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.countLocked()
}

func (s *Scheduler) countLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t != nil {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the current scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Acquire()
	defer s.mu.Release()
	return Stats{
		TaskCount:     s.countLocked(),
		ReadyCount:    s.ready.len,
		BlockedCount:  s.blocked.len,
		SleepingCount: s.sleeping.len,
		Ticks:         s.ticks,
	}
}

// UptimeMillis derives uptime from the scheduler's own tick counter (driven
// by the SMP/APIC periodic timer calling Tick) rather than a constant
// incremented per call.
func (s *Scheduler) UptimeMillis(tickIntervalMillis uint64) uint64 {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.ticks * tickIntervalMillis
}
