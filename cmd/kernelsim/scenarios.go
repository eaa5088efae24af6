package main

import (
	"fmt"

	"microkern/kernel/boot"
	"microkern/kernel/ipc"
)

// scenarioFairness creates three identical-priority tasks and lets the
// scheduler's own ticker run them; it exists to give the kernelsim CLI
// something observable to drive for the "Scheduling fairness" seed.
func scenarioFairness(k *boot.Kernel) error {
	for _, name := range []string{"A", "B", "C"} {
		name := name
		if _, err := k.CreateTask(func() {}, name); err != nil {
			return err
		}
	}
	return nil
}

// scenarioBuddy exercises an alloc/alloc/free/free round-trip against the
// kernel-space VMM allocator, mirroring the "Buddy split and coalesce" seed.
func scenarioBuddy(k *boot.Kernel) error {
	a, err := k.AllocPage()
	if err != nil {
		return err
	}
	b, err := k.AllocPage()
	if err != nil {
		return err
	}
	if err := k.FreePage(a); err != nil {
		return err
	}
	if err := k.FreePage(b); err != nil {
		return err
	}
	return nil
}

// scenarioIPC registers a service, sends three messages to it, and receives
// them back in order, mirroring the "IPC FIFO" seed.
func scenarioIPC(k *boot.Kernel) error {
	if err := k.RegisterHandler("echo", nil); err != nil {
		return err
	}
	dest := ipc.ToService("echo")
	for _, msg := range []string{"m1", "m2", "m3"} {
		if err := k.Send(dest, []byte(msg), ipc.MessageTypeData, ipc.NonBlocking); err != nil {
			return err
		}
	}
	buf := make([]byte, 64)
	for range []string{"m1", "m2", "m3"} {
		n, _, err := k.Recv(dest, buf, 0)
		if err != nil {
			return err
		}
		fmt.Println("received:", string(buf[:n]))
	}
	return nil
}
