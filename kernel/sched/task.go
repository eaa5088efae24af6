package sched

// ID identifies a task across its lifetime. Zero is never a valid ID.
type ID uint64

// EntryFunc is a task's entry point, modeled as a capability abstraction the
// scheduler consumes rather than inspects or calls directly: identity is
// unimportant outside the host's own cooperative execution.
type EntryFunc func()

// queueKind identifies which of the scheduler's three queues, if any, a task
// is currently linked into. A task is linked into at most one at a time.
type queueKind int

const (
	queueNone queueKind = iota
	queueReady
	queueBlocked
	queueSleeping
)

// Task is one task-table record. next/prev are the intrusive doubly-linked
// queue fields: the three logical queues share a single pair of link fields
// because a task is never on more than one of them simultaneously.
type Task struct {
	ID       ID
	Name     string
	Priority Priority
	State    State

	entry EntryFunc

	stackBase    uintptr
	stackSize    uint64
	callerStack  bool // true if CreateThread supplied the stack (VMM does not own it)

	sliceRemaining int
	cpuTicks       uint64

	blockReason string
	wakeAtTick  uint64

	queue      queueKind
	next, prev *Task
}

// BlockReason returns the reason string passed to the most recent Block
// call, or "" if the task is not Blocked.
func (t *Task) BlockReason() string { return t.blockReason }

// queue is an intrusive FIFO over *Task's next/prev fields.
type queue struct {
	kind       queueKind
	head, tail *Task
	len        int
}

func newQueue(kind queueKind) *queue {
	return &queue{kind: kind}
}

func (q *queue) pushTail(t *Task) {
	t.queue = q.kind
	t.next, t.prev = nil, q.tail
	if q.tail != nil {
		q.tail.next = t
	} else {
		q.head = t
	}
	q.tail = t
	q.len++
}

func (q *queue) popHead() *Task {
	t := q.head
	if t == nil {
		return nil
	}
	q.remove(t)
	return t
}

// remove unlinks t from q. It is a no-op if t is not currently linked into q.
func (q *queue) remove(t *Task) {
	if t.queue != q.kind {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		q.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		q.tail = t.prev
	}
	t.next, t.prev = nil, nil
	t.queue = queueNone
	q.len--
}
