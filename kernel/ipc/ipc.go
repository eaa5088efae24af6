// Package ipc implements inter-task messaging: bounded per-destination FIFO
// queues, a named-service registry, and blocking receive integrated with
// the scheduler's block/sleep/wake machinery instead of a busy-wait.
package ipc

import (
	"time"

	"github.com/patrickmn/go-cache"

	"microkern/kernel"
	"microkern/kernel/mem/pmm"
	"microkern/kernel/sched"
)

// Default queue capacities: every destination gets 64 slots except the
// system queue, which gets 1024.
const (
	DefaultQueueCapacity = 64
	SystemQueueCapacity  = 1024

	// MaxServices bounds the service registry the way the task table
	// bounds tasks; registration past this returns ErrServiceFull.
	MaxServices = 256
)

// Errors returned by the IPC layer, precise enough that callers can
// distinguish Timeout from BufferTooSmall from QueueFull.
var (
	ErrTooLarge          = &kernel.Error{Module: "ipc", Message: "payload exceeds 1024 bytes", Kind: kernel.KindInvalidArgument}
	ErrQueueFull         = &kernel.Error{Module: "ipc", Message: "destination queue is full", Kind: kernel.KindWouldBlock}
	ErrOutOfMemory       = &kernel.Error{Module: "ipc", Message: "out of memory allocating a message frame", Kind: kernel.KindOutOfMemory}
	ErrNoRoute           = &kernel.Error{Module: "ipc", Message: "destination has no queue", Kind: kernel.KindNotFound}
	ErrTimeout           = &kernel.Error{Module: "ipc", Message: "recv timed out", Kind: kernel.KindTimeout}
	ErrBufferTooSmall    = &kernel.Error{Module: "ipc", Message: "caller buffer too small for message", Kind: kernel.KindBufferTooSmall}
	ErrEmpty             = &kernel.Error{Module: "ipc", Message: "queue empty", Kind: kernel.KindWouldBlock}
	ErrAlreadyRegistered = &kernel.Error{Module: "ipc", Message: "service name already registered", Kind: kernel.KindAlreadyExists}
	ErrServiceFull       = &kernel.Error{Module: "ipc", Message: "service table full", Kind: kernel.KindOutOfRange}
	ErrNotFound          = &kernel.Error{Module: "ipc", Message: "service not found", Kind: kernel.KindNotFound}
)

// Handler is the capability a service registers: either a task reference
// or a function value, chosen at registration time.
type Handler interface{}

type service struct {
	queue   *queue
	handler Handler
}

// Manager owns the system queue, per-task mailboxes, and the named-service
// registry.
type Manager struct {
	frames *pmm.Allocator
	tasks  *sched.Scheduler

	tickIntervalMillis uint64

	system     *queue
	taskQueues *cache.Cache // sched.ID (formatted) -> *queue
	services   *cache.Cache // name -> *service
}

// NewManager creates an IPC manager backed by frames for message pages and
// tasks for the scheduler integration behind blocking Recv and Send.
// tickIntervalMillis is the SMP timer's nominal period, used to convert
// Recv's millisecond timeouts into scheduler ticks. systemQueueCapacity <= 0
// uses SystemQueueCapacity.
func NewManager(frames *pmm.Allocator, tasks *sched.Scheduler, tickIntervalMillis uint64, systemQueueCapacity int) *Manager {
	if systemQueueCapacity <= 0 {
		systemQueueCapacity = SystemQueueCapacity
	}
	return &Manager{
		frames:             frames,
		tasks:              tasks,
		tickIntervalMillis: tickIntervalMillis,
		system:             newQueue(systemQueueCapacity),
		taskQueues:         cache.New(cache.NoExpiration, 0),
		services:           cache.New(cache.NoExpiration, 0),
	}
}

func (m *Manager) nowTicks() uint64 {
	if m.tasks == nil {
		return 0
	}
	return m.tasks.Stats().Ticks
}

func (m *Manager) millisToTicks(ms uint64) uint64 {
	if m.tickIntervalMillis == 0 {
		return 1
	}
	ticks := ms / m.tickIntervalMillis
	if ticks == 0 {
		ticks = 1
	}
	return ticks
}

// resolve maps a Destination to its backing queue, creating a task mailbox
// on first use if allowCreate is set.
func (m *Manager) resolve(dest Destination, allowCreate bool) (*queue, *kernel.Error) {
	switch dest.Kind {
	case DestSystem:
		return m.system, nil

	case DestService:
		v, ok := m.services.Get(dest.Service)
		if !ok {
			return nil, ErrNoRoute
		}
		return v.(*service).queue, nil

	case DestTask:
		key := taskKey(dest.Task)
		if v, ok := m.taskQueues.Get(key); ok {
			return v.(*queue), nil
		}
		if !allowCreate {
			return nil, ErrNoRoute
		}
		q := newQueue(DefaultQueueCapacity)
		m.taskQueues.Set(key, q, cache.NoExpiration)
		return q, nil

	default:
		return nil, ErrNoRoute
	}
}

func taskKey(id sched.ID) string {
	const hex = "0123456789abcdef"
	if id == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for id > 0 {
		buf = append([]byte{hex[id%16]}, buf...)
		id /= 16
	}
	return string(buf)
}

// Send validates the payload, allocates one message frame, copies the
// payload, timestamps and tags it with the calling task, and links it at
// dest's tail (or head, if flags carries Urgent). If dest is full and flags
// carries Blocking, the caller is parked on the scheduler's blocked queue
// until a slot frees via a Recv or queue teardown elsewhere, rather than
// failing immediately with ErrQueueFull.
func (m *Manager) Send(dest Destination, payload []byte, msgType MessageType, flags Flags) *kernel.Error {
	if len(payload) > MaxPayloadBytes {
		return ErrTooLarge
	}

	q, err := m.resolve(dest, true)
	if err != nil {
		return err
	}

	frame, ferr := m.frames.AllocBytes(1)
	if ferr != nil {
		return ErrOutOfMemory
	}

	msg := &message{
		payload:   append([]byte(nil), payload...),
		msgType:   msgType,
		sender:    m.senderID(),
		timestamp: m.nowTicks(),
		frame:     frame,
	}

	urgent := flags&Urgent != 0
	if q.tryPush(msg, urgent) {
		return nil
	}
	if flags&Blocking == 0 {
		_ = m.frames.Free(frame, 0)
		return ErrQueueFull
	}
	return m.blockingSend(q, msg, urgent)
}

// senderID reports the calling task, or 0 outside any scheduler context
// (e.g. in tests that construct a Manager without a live scheduler).
func (m *Manager) senderID() sched.ID {
	if m.tasks == nil {
		return 0
	}
	return m.tasks.Current()
}

// blockingSend parks the caller until q has room for msg, integrated with
// the scheduler's block/wake machinery the same way Recv's blocking path
// is: the sender leaves Ready for Blocked and is moved back to Ready the
// moment a Recv (or queue teardown) frees a slot it wins the race for,
// never by polling a counter.
func (m *Manager) blockingSend(q *queue, msg *message, urgent bool) *kernel.Error {
	self := m.senderID()
	for {
		notify := make(chan struct{}, 1)
		q.addSpaceWaiter(notify)

		if self != 0 {
			_ = m.tasks.Block(self, "ipc send queue full")
		}

		<-notify

		if self != 0 {
			_ = m.tasks.Unblock(self)
		}

		if q.tryPush(msg, urgent) {
			return nil
		}
	}
}

func (m *Manager) deliver(msg *message, buf []byte) (int, MessageType, *kernel.Error) {
	_ = m.frames.Free(msg.frame, 0)
	if len(msg.payload) > len(buf) {
		return 0, 0, ErrBufferTooSmall
	}
	return copy(buf, msg.payload), msg.msgType, nil
}

// Recv pops the head message from src, copying it into buf. If src is empty
// and timeoutMillis is 0, it returns Empty immediately. Otherwise it parks
// the calling task (reported by the scheduler's Current) on both src's
// waiter list and the scheduler's sleeping queue keyed by wake-tick, so a
// concurrent Send or the timeout wakes it — never a busy-wait counter.
func (m *Manager) Recv(src Destination, buf []byte, timeoutMillis uint64) (int, MessageType, *kernel.Error) {
	q, err := m.resolve(src, src.Kind == DestTask)
	if err != nil {
		return 0, 0, err
	}

	if msg, ok := q.tryPop(); ok {
		return m.deliver(msg, buf)
	}
	if timeoutMillis == 0 {
		return 0, 0, ErrEmpty
	}

	notify := make(chan struct{}, 1)
	q.addWaiter(notify)

	var self sched.ID
	if m.tasks != nil {
		self = m.tasks.Current()
	}
	if self != 0 {
		_ = m.tasks.Sleep(self, m.millisToTicks(timeoutMillis))
	}

	timer := time.NewTimer(time.Duration(timeoutMillis) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-notify:
		if self != 0 {
			_ = m.tasks.WakeSleeper(self)
		}
		if msg, ok := q.tryPop(); ok {
			return m.deliver(msg, buf)
		}
		return 0, 0, ErrEmpty
	case <-timer.C:
		q.removeWaiter(notify)
		if self != 0 {
			_ = m.tasks.WakeSleeper(self)
		}
		return 0, 0, ErrTimeout
	}
}

// RegisterService creates a dedicated queue for name, bound to handler.
// capacity <= 0 uses DefaultQueueCapacity.
func (m *Manager) RegisterService(name string, handler Handler, capacity int) *kernel.Error {
	if _, ok := m.services.Get(name); ok {
		return ErrAlreadyRegistered
	}
	if m.services.ItemCount() >= MaxServices {
		return ErrServiceFull
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	m.services.Set(name, &service{queue: newQueue(capacity), handler: handler}, cache.NoExpiration)
	return nil
}

// LookupService returns the handler capability registered under name.
func (m *Manager) LookupService(name string) (Handler, *kernel.Error) {
	v, ok := m.services.Get(name)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*service).handler, nil
}

// UnregisterService destroys name's queue, freeing any queued messages'
// frames, and removes it from the registry.
func (m *Manager) UnregisterService(name string) *kernel.Error {
	v, ok := m.services.Get(name)
	if !ok {
		return nil
	}
	v.(*service).queue.drain(m.frames)
	m.services.Delete(name)
	return nil
}

// Broadcast sends payload non-blocking to the system queue and every
// registered service queue, skipping (without error) any that are full. It
// returns the count actually delivered.
func (m *Manager) Broadcast(payload []byte, msgType MessageType) int {
	if len(payload) > MaxPayloadBytes {
		return 0
	}

	push := func(q *queue) bool {
		frame, ferr := m.frames.AllocBytes(1)
		if ferr != nil {
			return false
		}
		msg := &message{
			payload:   append([]byte(nil), payload...),
			msgType:   msgType,
			sender:    m.senderID(),
			timestamp: m.nowTicks(),
			frame:     frame,
		}
		if !q.tryPush(msg, false) {
			_ = m.frames.Free(frame, 0)
			return false
		}
		return true
	}

	delivered := 0
	if push(m.system) {
		delivered++
	}
	for _, item := range m.services.Items() {
		if push(item.Object.(*service).queue) {
			delivered++
		}
	}
	return delivered
}
