package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"microkern/kernel/arch"
	"microkern/kernel/mem"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/mem/pte"
	"microkern/kernel/mem/vmm"
	"microkern/kernel/sched"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	var alloc pmm.Allocator
	alloc.SetMemoryMap([]pmm.Region{{Base: 0, Length: 32 * uint64(mem.Mb), Type: pmm.RegionAvailable}})
	engine := pte.NewEngine(&alloc)
	vm, err := vmm.NewManager(&alloc, engine)
	require.Nil(t, err)
	plat := arch.NewSim(1)
	s := sched.NewScheduler(plat, vm, vm.KernelSpace(), sched.MaxTasks, sched.DefaultTimeSlice)
	return NewManager(&alloc, s, 1, SystemQueueCapacity)
}

func TestSendToUnregisteredServiceIsNoRoute(t *testing.T) {
	m := newTestManager(t)
	err := m.Send(ToService("nope"), []byte("x"), MessageTypeData, NonBlocking)
	require.Equal(t, ErrNoRoute, err)
}

func TestIPCFIFOScenario(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.RegisterService("echo", nil, 4))

	require.Nil(t, m.Send(ToService("echo"), []byte("m1"), MessageTypeData, NonBlocking))
	require.Nil(t, m.Send(ToService("echo"), []byte("m2"), MessageTypeData, NonBlocking))
	require.Nil(t, m.Send(ToService("echo"), []byte("m3"), MessageTypeData, NonBlocking))

	buf := make([]byte, 32)
	for _, want := range []string{"m1", "m2", "m3"} {
		n, _, err := m.Recv(ToService("echo"), buf, 0)
		require.Nil(t, err)
		require.Equal(t, want, string(buf[:n]))
	}

	require.Nil(t, m.Send(ToService("echo"), []byte("m4"), MessageTypeData, NonBlocking))
	require.Nil(t, m.Send(ToService("echo"), []byte("m5"), MessageTypeData, NonBlocking))
	require.Nil(t, m.Send(ToService("echo"), []byte("m6"), MessageTypeData, NonBlocking))
	require.Nil(t, m.Send(ToService("echo"), []byte("m7"), MessageTypeData, NonBlocking))
	err := m.Send(ToService("echo"), []byte("m8"), MessageTypeData, NonBlocking)
	require.Equal(t, ErrQueueFull, err)
}

func TestBroadcastFanOut(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.RegisterService("s1", nil, 1))
	require.Nil(t, m.RegisterService("s2", nil, 1))
	require.Nil(t, m.RegisterService("s3", nil, 1))

	require.Equal(t, 4, m.Broadcast([]byte("x"), MessageTypeService))
	require.Equal(t, 1, m.Broadcast([]byte("x"), MessageTypeService))
}

func TestSendTooLarge(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.Send(System(), make([]byte, MaxPayloadBytes), MessageTypeData, NonBlocking))
	require.Equal(t, ErrTooLarge, m.Send(System(), make([]byte, MaxPayloadBytes+1), MessageTypeData, NonBlocking))
}

func TestRecvEmptyZeroTimeout(t *testing.T) {
	m := newTestManager(t)
	buf := make([]byte, 16)
	_, _, err := m.Recv(System(), buf, 0)
	require.Equal(t, ErrEmpty, err)
}

func TestRecvTimeoutOnBlockingEmpty(t *testing.T) {
	m := newTestManager(t)
	buf := make([]byte, 16)
	start := time.Now()
	_, _, err := m.Recv(System(), buf, 20)
	require.Equal(t, ErrTimeout, err)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestRecvWakesOnConcurrentSend(t *testing.T) {
	m := newTestManager(t)
	done := make(chan struct{})
	var gotN int
	go func() {
		buf := make([]byte, 16)
		n, _, err := m.Recv(System(), buf, 2000)
		require.Nil(t, err)
		gotN = n
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Nil(t, m.Send(System(), []byte("hi"), MessageTypeData, NonBlocking))

	select {
	case <-done:
		require.Equal(t, 2, gotN)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not wake on Send")
	}
}

func TestSendNonBlockingFailsFastWhenFull(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.RegisterService("full", nil, 1))
	require.Nil(t, m.Send(ToService("full"), []byte("m1"), MessageTypeData, NonBlocking))
	require.Equal(t, ErrQueueFull, m.Send(ToService("full"), []byte("m2"), MessageTypeData, NonBlocking))
}

func TestBlockingSendWaitsForRoom(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.RegisterService("full", nil, 1))
	require.Nil(t, m.Send(ToService("full"), []byte("m1"), MessageTypeData, NonBlocking))

	done := make(chan struct{})
	go func() {
		err := m.Send(ToService("full"), []byte("m2"), MessageTypeData, Blocking)
		require.Nil(t, err)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("blocking Send returned before the queue had room")
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 16)
	n, _, err := m.Recv(ToService("full"), buf, 0)
	require.Nil(t, err)
	require.Equal(t, "m1", string(buf[:n]))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking Send did not wake once a slot freed")
	}

	n, _, err = m.Recv(ToService("full"), buf, 0)
	require.Nil(t, err)
	require.Equal(t, "m2", string(buf[:n]))
}

func TestUrgentSendLinksAtHead(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.RegisterService("echo", nil, 4))

	require.Nil(t, m.Send(ToService("echo"), []byte("normal"), MessageTypeData, NonBlocking))
	require.Nil(t, m.Send(ToService("echo"), []byte("urgent"), MessageTypeData, Urgent))

	buf := make([]byte, 16)
	n, _, err := m.Recv(ToService("echo"), buf, 0)
	require.Nil(t, err)
	require.Equal(t, "urgent", string(buf[:n]))
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.RegisterService("svc", nil, 0))
	require.Equal(t, ErrAlreadyRegistered, m.RegisterService("svc", nil, 0))

	require.Nil(t, m.UnregisterService("svc"))
	_, err := m.LookupService("svc")
	require.Equal(t, ErrNotFound, err)
}

func TestBufferTooSmall(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.Send(System(), []byte("0123456789"), MessageTypeData, NonBlocking))

	buf := make([]byte, 4)
	_, _, err := m.Recv(System(), buf, 0)
	require.Equal(t, ErrBufferTooSmall, err)
}
