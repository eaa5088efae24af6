package boot

import (
	"microkern/kernel"
	"microkern/kernel/sched"
)

// CreateTask creates a new task running entry, named name, at normal
// priority, and links it at the ready queue's tail.
func (k *Kernel) CreateTask(entry func(), name string) (sched.ID, *kernel.Error) {
	if err := k.checkReady(); err != nil {
		return 0, err
	}
	return k.tasks.Create(sched.EntryFunc(entry), name, sched.PriorityNormal)
}

// CreateTaskWithPriority is CreateTask with an explicit priority.
func (k *Kernel) CreateTaskWithPriority(entry func(), name string, priority sched.Priority) (sched.ID, *kernel.Error) {
	if err := k.checkReady(); err != nil {
		return 0, err
	}
	return k.tasks.Create(sched.EntryFunc(entry), name, priority)
}

// CreateThread creates a task using a caller-provided stack rather than one
// allocated from the VMM.
func (k *Kernel) CreateThread(stackBase uintptr, stackSize uint64, entry func()) (sched.ID, *kernel.Error) {
	if err := k.checkReady(); err != nil {
		return 0, err
	}
	return k.tasks.CreateThread(stackBase, stackSize, sched.EntryFunc(entry))
}

// Yield gives up the calling task's remaining time slice.
func (k *Kernel) Yield() *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	k.tasks.Yield()
	return nil
}

// SetPriority changes id's scheduling priority; a silent no-op for an
// unknown id.
func (k *Kernel) SetPriority(id sched.ID, p sched.Priority) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.tasks.SetPriority(id, p)
}

// GetPriority returns id's scheduling priority, or PriorityLow for an
// unknown id.
func (k *Kernel) GetPriority(id sched.ID) sched.Priority {
	if k.checkReady() != nil {
		return sched.PriorityLow
	}
	return k.tasks.GetPriority(id)
}

// TerminateTask ends id, unlinking it from every queue and freeing its
// stack.
func (k *Kernel) TerminateTask(id sched.ID) *kernel.Error {
	if err := k.checkReady(); err != nil {
		return err
	}
	return k.tasks.Terminate(id)
}
