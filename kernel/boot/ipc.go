package boot

import (
	"microkern/kernel"
	"microkern/kernel/ipc"
	"microkern/kernel/sched"
)

// Send delivers payload to dest (the system queue if dest is the zero
// value), tagged msgType. flags controls blocking (ipc.Blocking parks the
// caller until dest has room instead of returning ErrQueueFull) and
// ordering (ipc.Urgent links the message at dest's head).
func (k *Kernel) Send(dest ipc.Destination, payload []byte, msgType ipc.MessageType, flags ipc.Flags) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.msgs.Send(dest, payload, msgType, flags)
}

// Recv pops the head message from src (the system queue if src is the zero
// value, DestSystem), copying it into buf.
// timeoutMillis == 0 returns Empty immediately rather than blocking.
func (k *Kernel) Recv(src ipc.Destination, buf []byte, timeoutMillis uint64) (int, ipc.MessageType, *kernel.Error) {
	if err := k.checkReady(); err != nil {
		return 0, 0, err
	}
	return k.msgs.Recv(src, buf, timeoutMillis)
}

// RegisterHandler registers name as a named service backed by handler,
// using the configured default queue capacity.
func (k *Kernel) RegisterHandler(name string, handler ipc.Handler) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.msgs.RegisterService(name, handler, k.cfg.QueueCapacity)
}

// Lookup returns the handler capability registered under name.
func (k *Kernel) Lookup(name string) (ipc.Handler, *kernel.Error) {
	if err := k.checkReady(); err != nil {
		return nil, err
	}
	return k.msgs.LookupService(name)
}

// Unregister removes name from the service registry.
func (k *Kernel) Unregister(name string) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.msgs.UnregisterService(name)
}

// Broadcast sends payload non-blocking to the system queue and every
// registered service, returning the count delivered.
func (k *Kernel) Broadcast(payload []byte) int {
	if k.checkReady() != nil {
		return 0
	}
	return k.msgs.Broadcast(payload, ipc.MessageTypeService)
}

// CurrentTask is a convenience the IPC facade's Recv-from-own-mailbox
// callers use to build a Destination addressing themselves.
func (k *Kernel) CurrentTask() sched.ID {
	if k.checkReady() != nil {
		return 0
	}
	return k.tasks.Current()
}
