package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microkern/kernel/arch"
	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/mem/pte"
	"microkern/kernel/mem/vmm"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	var alloc pmm.Allocator
	alloc.SetMemoryMap([]pmm.Region{{Base: 0, Length: 64 * uint64(mem.Mb), Type: pmm.RegionAvailable}})
	engine := pte.NewEngine(&alloc)
	m, err := vmm.NewManager(&alloc, engine)
	require.Nil(t, err)
	plat := arch.NewSim(1)
	return NewScheduler(plat, m, m.KernelSpace(), MaxTasks, DefaultTimeSlice)
}

func TestSchedulingFairness(t *testing.T) {
	s := newTestScheduler(t)

	a, err := s.Create(func() {}, "A", PriorityNormal)
	require.Nil(t, err)
	b, err := s.Create(func() {}, "B", PriorityNormal)
	require.Nil(t, err)
	c, err := s.Create(func() {}, "C", PriorityNormal)
	require.Nil(t, err)

	s.Schedule() // first pick: A

	var seq []ID
	for i := 0; i < 9; i++ {
		seq = append(seq, s.Tick())
	}

	require.Equal(t, []ID{a, a, a, b, b, b, c, c, c}, seq)
}

func TestExactlyOneRunningTask(t *testing.T) {
	s := newTestScheduler(t)
	a, _ := s.Create(func() {}, "A", PriorityNormal)
	_, _ = s.Create(func() {}, "B", PriorityNormal)
	s.Schedule()

	require.Equal(t, a, s.Current())
	running := 0
	for _, tk := range s.tasks {
		if tk != nil && tk.State == StateRunning {
			running++
		}
	}
	require.Equal(t, 1, running)
}

func TestQueueMembershipAtMostOne(t *testing.T) {
	s := newTestScheduler(t)
	id, _ := s.Create(func() {}, "A", PriorityNormal)
	s.Schedule()

	require.Nil(t, s.Block(id, "waiting"))
	membership := 0
	for _, q := range []*queue{s.ready, s.blocked, s.sleeping} {
		for tk := q.head; tk != nil; tk = tk.next {
			if tk.ID == id {
				membership++
			}
		}
	}
	require.LessOrEqual(t, membership, 1)
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	s := newTestScheduler(t)
	id, _ := s.Create(func() {}, "A", PriorityNormal)
	s.Schedule()

	require.Nil(t, s.Block(id, "io"))
	require.Equal(t, StateBlocked, s.lookupLocked(id).State)

	require.Nil(t, s.Unblock(id))
	require.Equal(t, StateReady, s.lookupLocked(id).State)
}

func TestTerminateFreesSlotAndStack(t *testing.T) {
	s := newTestScheduler(t)
	id, _ := s.Create(func() {}, "A", PriorityNormal)
	before := s.Count()

	require.Nil(t, s.Terminate(id))
	require.Equal(t, before-1, s.Count())
	require.Nil(t, s.lookupLocked(id))
}

func TestUnknownIDOperationsAreNoOps(t *testing.T) {
	s := newTestScheduler(t)
	require.Nil(t, s.Block(999, "x"))
	require.Nil(t, s.Unblock(999))
	require.Nil(t, s.Terminate(999))
	require.Equal(t, PriorityLow, s.GetPriority(999))
}

func TestTableFull(t *testing.T) {
	s := newTestScheduler(t)
	for i := 0; i < MaxTasks; i++ {
		_, err := s.Create(func() {}, "t", PriorityNormal)
		require.Nil(t, err)
	}
	_, err := s.Create(func() {}, "overflow", PriorityNormal)
	require.Equal(t, ErrTableFull, err)
}

func TestSleepWakesOnTick(t *testing.T) {
	s := newTestScheduler(t)
	id, _ := s.Create(func() {}, "A", PriorityNormal)
	s.Schedule()

	require.Nil(t, s.Sleep(id, 2))
	require.Equal(t, StateSleeping, s.lookupLocked(id).State)

	s.Tick()
	require.Equal(t, StateSleeping, s.lookupLocked(id).State)
	s.Tick()
	require.NotEqual(t, StateSleeping, s.lookupLocked(id).State, "must be woken by the second tick")
}
