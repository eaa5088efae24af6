package ipc

import (
	"microkern/kernel/mem/pmm"
	"microkern/kernel/sched"
)

// MaxPayloadBytes is the largest payload a single message may carry.
// Send validates every payload against it before queuing.
const MaxPayloadBytes = 1024

// MessageType is an opaque, caller-defined tag carried alongside a
// message's payload. The core only round-trips it; a handful of
// reserved values are defined for the messages the kernel itself sends.
type MessageType uint32

const (
	MessageTypeData MessageType = iota
	MessageTypeSystem
	MessageTypeTerminal
	MessageTypeService
)

//go:generate stringer -type=MessageType

// Flags modifies Send's delivery behavior. NonBlocking, the zero value,
// returns ErrQueueFull immediately when the destination is full. Blocking
// parks the caller until a slot frees, integrated with the scheduler's
// block/wake machinery rather than a busy-wait. Urgent, combinable with
// either, links the message at the destination's head instead of its tail.
type Flags uint32

const (
	NonBlocking Flags = 0
	Blocking    Flags = 1 << (iota - 1)
	Urgent
)

// message is one queued, in-flight IPC message. It owns exactly one PFA
// frame for its lifetime, allocated by Send and freed on Recv or on queue
// teardown.
type message struct {
	payload   []byte
	msgType   MessageType
	sender    sched.ID
	timestamp uint64
	frame     pmm.Frame
}

// DestKind tags a Destination's variant: the system queue, a task
// mailbox, or a named service, in place of an opaque destination handle.
type DestKind int

const (
	DestSystem DestKind = iota
	DestTask
	DestService
)

// Destination names where a Send lands or a Recv reads from: the system
// queue, a specific task's mailbox, or a named, registered service.
type Destination struct {
	Kind    DestKind
	Task    sched.ID
	Service string
}

// System is the well-known system-queue destination.
func System() Destination { return Destination{Kind: DestSystem} }

// ToTask addresses a specific task's mailbox.
func ToTask(id sched.ID) Destination { return Destination{Kind: DestTask, Task: id} }

// ToService addresses a registered named service.
func ToService(name string) Destination { return Destination{Kind: DestService, Service: name} }
