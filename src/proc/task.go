package proc

import (
	"sync"
	"weak"

	"accnt"
	"defs"
	"tinfo"
	"vm"
)

/// TaskState is the coarse scheduling state of a task. The scheduler's
/// ready/blocked/hanging/futex queues each hold tasks in exactly one of
/// these states; Running is additionally split across per-hart
/// Processor.Current fields rather than a queue.
type TaskState int32

const (
	Runnable TaskState = iota
	Running
	Blocked
	Hanging // sleeping until a deadline (nanosleep, a timed futex wait)
	Zombie  // exited, awaiting a Wait() by its parent
)

func (s TaskState) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Hanging:
		return "hanging"
	case Zombie:
		return "zombie"
	default:
		return "?"
	}
}

/// Task_t is the kernel's task control block: one per schedulable
/// thread. A process with N threads is N Task_t values sharing one Vm_t
/// and one Rsrc_t, tied together by a common Tgid.
type Task_t struct {
	Pid  defs.Pid_t
	Tid  defs.Tid_t
	Tgid defs.Pid_t
	Name string

	Vm      *vm.Vm_t
	Rsrc    *Rsrc_t
	SigActs *SigActs_t
	Accnt   accnt.Accnt_t
	Note    *tinfo.Tnote_t

	// ClearChildTid is the CLONE_CHILD_CLEARTID user address to zero
	// and futex-wake at exit (set_tid_address semantics); zero means
	// no address was registered.
	ClearChildTid uintptr
	// TlsBase records the CLONE_SETTLS thread-pointer value given for
	// this task. Nothing in this tree loads it into the tp register;
	// the task's tp is whatever its saved register file holds.
	TlsBase uintptr

	// inner protects every field below: scheduling state, exit status
	// and the wakeup deadline a Hanging task is parked on.
	inner      sync.Mutex
	state      TaskState
	exitStatus int
	exitSig    int
	wakeupAt   int64 // unix nanos, valid while state == Hanging

	// parent is a weak reference: a child must never keep a dead
	// parent's Task_t (and everything it retains -- its own Vm_t, Rsrc,
	// further ancestors) reachable after the parent has been reaped.
	// Value returns nil once the parent is gone, which Exit's
	// re-parent-to-init step treats the same as "parent already gone".
	parent weak.Pointer[Task_t]

	childMu  sync.Mutex
	children []*Task_t

	waitMu   sync.Mutex
	waitCond *sync.Cond
	// zombies holds children that have exited but not yet been
	// collected by Wait.
	zombies []*Task_t
}

/// Parent dereferences the weak parent edge, returning nil if the
/// parent has already exited and been reaped (or this is the init
/// task).
func (t *Task_t) Parent() *Task_t {
	return t.parent.Value()
}

/// State returns the task's current scheduling state.
func (t *Task_t) State() TaskState {
	t.inner.Lock()
	defer t.inner.Unlock()
	return t.state
}

/// SetState transitions the task to s. The scheduler is the only
/// caller that should move a task into or out of Running; callers
/// blocking on a condition move it to Blocked/Hanging themselves before
/// handing it to the scheduler's suspend path.
func (t *Task_t) SetState(s TaskState) {
	t.inner.Lock()
	t.state = s
	t.inner.Unlock()
}

/// ParkUntil marks the task Hanging with the given wakeup deadline (unix
/// nanoseconds), for the scheduler's hanging min-heap.
func (t *Task_t) ParkUntil(deadlineNs int64) {
	t.inner.Lock()
	t.state = Hanging
	t.wakeupAt = deadlineNs
	t.inner.Unlock()
}

/// WakeupAt returns the deadline a Hanging task is parked until.
func (t *Task_t) WakeupAt() int64 {
	t.inner.Lock()
	defer t.inner.Unlock()
	return t.wakeupAt
}

func (t *Task_t) addChild(c *Task_t) {
	t.childMu.Lock()
	t.children = append(t.children, c)
	t.childMu.Unlock()
}

func (t *Task_t) removeChild(c *Task_t) {
	t.childMu.Lock()
	for i, ch := range t.children {
		if ch == c {
			t.children = append(t.children[:i], t.children[i+1:]...)
			break
		}
	}
	t.childMu.Unlock()
}

/// Children returns a snapshot of live (non-reaped) children.
func (t *Task_t) Children() []*Task_t {
	t.childMu.Lock()
	defer t.childMu.Unlock()
	out := make([]*Task_t, len(t.children))
	copy(out, t.children)
	return out
}
