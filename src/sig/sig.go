// Package sig implements signal delivery: the pending-set bitmask
// and mask every task carries, the default-action table, and the
// check-and-deliver step a trap-return path performs before resuming
// a task in user mode. Grounded on proc.SigActs_t (the shared
// disposition table CLONE_SIGHAND threads see in common) and the
// teacher's Accnt_t-style "small struct guarded by its own mutex".
package sig

import (
	"encoding/binary"
	"sync"

	"defs"
	"proc"
	"trap"
)

// Register indices into trap.Frame.Regs, named the way the riscv64
// calling convention does rather than by raw number: x1 is the return
// address, x2 the stack pointer, x10 the first argument/return value.
const (
	regRA = 1
	regSP = 2
	regA0 = 10
)

// frameSize is the byte length of the saved-state blob Deliver pushes
// onto the user stack and SigReturn reads back: every general register,
// the faulted/interrupted sepc, and the mask that was in effect before
// the handler's own mask (act.Mask) was applied.
const frameSize = len(trap.Frame{}.Regs)*8 + 8 + 8

/// action describes what happens when a signal with no handler
/// installed is delivered -- the POSIX default dispositions this
/// kernel implements. Stop/continue job-control semantics are out of
/// scope: there is no controlling terminal to stop relative to.
type action int

const (
	actIgnore action = iota
	actTerminate
	actCore
)

var defaults = map[int]action{
	defs.SIGHUP:  actTerminate,
	defs.SIGINT:  actTerminate,
	defs.SIGQUIT: actCore,
	defs.SIGILL:  actCore,
	defs.SIGABRT: actCore,
	defs.SIGKILL: actTerminate,
	defs.SIGSEGV: actCore,
	defs.SIGPIPE: actTerminate,
	defs.SIGALRM: actTerminate,
	defs.SIGTERM: actTerminate,
	defs.SIGCHLD: actIgnore,
}

func defaultAction(signum int) action {
	if a, ok := defaults[signum]; ok {
		return a
	}
	return actTerminate
}

/// pending_t is the per-task pending-signal state: a bitmask of
/// raised-but-not-yet-delivered signals and the mask blocking some of
/// them from delivery (sigprocmask(2)). Kept per-task rather than
/// per-thread-group since each thread has its own mask even though
/// every thread in a CLONE_SIGHAND group shares one disposition table
/// (proc.SigActs_t).
type pending_t struct {
	sync.Mutex
	raised uint64
	mask   uint64
}

var (
	tableMu sync.RWMutex
	table   = make(map[defs.Tid_t]*pending_t)
)

func pendingFor(tid defs.Tid_t) *pending_t {
	tableMu.RLock()
	p, ok := table[tid]
	tableMu.RUnlock()
	if ok {
		return p
	}
	tableMu.Lock()
	defer tableMu.Unlock()
	if p, ok := table[tid]; ok {
		return p
	}
	p = &pending_t{}
	table[tid] = p
	return p
}

/// Forget drops a task's pending-signal state once it has exited.
func Forget(tid defs.Tid_t) {
	tableMu.Lock()
	delete(table, tid)
	tableMu.Unlock()
}

/// Init wires trap's synchronous-fault delivery hook to this package,
/// the same injection idiom as proc.Enqueue/vm.RemoteFence.
func Init() {
	trap.DeliverSignal = deliverSynchronous
	trap.SigReturn = restoreFrame
}

func deliverSynchronous(t *proc.Task_t, signum int) {
	Raise(t, signum)
}

/// Raise marks signum pending for t. If t's thread group has installed
/// a handler, delivery happens later at trap return (Check); signals
/// with no handler and a default action of terminate/core kill the
/// task immediately, since there is no deferred-delivery benefit to a
/// process that is about to die and nothing meaningful to resume into.
func Raise(t *proc.Task_t, signum int) {
	if signum <= 0 || signum >= defs.NSIG {
		return
	}
	act := t.SigActs.Get(signum)
	if act.Handler == 0 {
		switch defaultAction(signum) {
		case actIgnore:
			return
		case actTerminate, actCore:
			t.SetState(proc.Zombie)
			return
		}
	}
	p := pendingFor(t.Tid)
	p.Lock()
	p.raised |= 1 << uint(signum)
	p.Unlock()
}

/// Check returns the lowest-numbered pending, unblocked signal with a
/// user handler installed, clearing it from the pending set, or ok ==
/// false if none is due. Called from the trap-return path immediately
/// before a task resumes in user mode.
func Check(t *proc.Task_t) (signum int, act proc.SigactionRaw, ok bool) {
	p := pendingFor(t.Tid)
	p.Lock()
	defer p.Unlock()
	deliverable := p.raised &^ p.mask
	if deliverable == 0 {
		return 0, proc.SigactionRaw{}, false
	}
	for s := 1; s < defs.NSIG; s++ {
		bit := uint64(1) << uint(s)
		if deliverable&bit == 0 {
			continue
		}
		p.raised &^= bit
		return s, t.SigActs.Get(s), true
	}
	return 0, proc.SigactionRaw{}, false
}

/// SetMask installs a new signal mask, returning the previous one
/// (sigprocmask's SIG_SETMASK form; SIG_BLOCK/SIG_UNBLOCK are the
/// caller's responsibility to fold into newmask before calling).
func SetMask(t *proc.Task_t, newmask uint64) uint64 {
	p := pendingFor(t.Tid)
	p.Lock()
	defer p.Unlock()
	old := p.mask
	p.mask = newmask
	return old
}

// packFrame/unpackFrame serialize a trap.Frame plus the mask that was
// in effect before a handler's own Mask was applied, in the fixed
// frameSize layout Deliver pushes and SigReturn reads back: every
// general register, then sepc, then the saved mask, all little-endian.
func packFrame(f *trap.Frame, savedMask uint64) []byte {
	b := make([]byte, frameSize)
	off := 0
	for _, r := range f.Regs {
		binary.LittleEndian.PutUint64(b[off:], r)
		off += 8
	}
	binary.LittleEndian.PutUint64(b[off:], f.Sepc)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], savedMask)
	return b
}

func unpackFrame(b []byte, f *trap.Frame) (savedMask uint64) {
	off := 0
	for i := range f.Regs {
		f.Regs[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	f.Sepc = binary.LittleEndian.Uint64(b[off:])
	off += 8
	return binary.LittleEndian.Uint64(b[off:])
}

/// Deliver checks for a pending, unblocked, handled signal and, if one
/// is due, redirects f to run its handler: the task's current register
/// file and sepc are pushed onto its own user stack below the current
/// sp (16-byte aligned, matching the riscv64 calling convention's stack
/// alignment requirement), sepc is set to the handler address, a0 to
/// the signal number (the handler's sole argument, matching a
/// sa_handler-style signature), and ra to the disposition's Restorer --
/// trusted userspace code that, once the handler returns into it,
/// issues the rt_sigreturn syscall with sp still addressing the pushed
/// frame. Called from the trap-return path (boot.RunHart) immediately
/// after a trap that leaves the task still runnable; a task about to
/// block or exit has nothing to deliver into. Reports whether a signal
/// was actually delivered, purely for tests -- RunHart doesn't need the
/// result.
func Deliver(t *proc.Task_t, f *trap.Frame) bool {
	signum, act, ok := Check(t)
	if !ok {
		return false
	}

	p := pendingFor(t.Tid)
	p.Lock()
	savedMask := p.mask
	p.mask |= act.Mask | (1 << uint(signum))
	p.Unlock()

	sp := f.Regs[regSP]
	sp = (sp - uint64(frameSize)) &^ 0xf
	blob := packFrame(f, savedMask)
	if err := t.Vm.K2user(blob, int(sp)); err != 0 {
		// Stack the task handed us isn't mapped writable; nothing safe
		// to deliver into, so drop the signal rather than corrupt
		// unrelated memory. A real kernel would SIGSEGV the task here;
		// deliverFatal already covers that path for page-fault causes.
		return false
	}

	f.Regs[regSP] = sp
	f.Regs[regA0] = uint64(signum)
	f.Regs[regRA] = uint64(act.Restorer)
	f.Sepc = uint64(act.Handler)
	return true
}

// restoreFrame is trap.SigReturn's implementation: f.Regs[regSP] still
// addresses the frame Deliver pushed (the restorer trampoline is
// trusted not to have moved the stack pointer), so it's read back
// directly and used to overwrite f wholesale, undoing the redirect and
// restoring the mask the handler ran under.
func restoreFrame(t *proc.Task_t, f *trap.Frame) {
	sp := int(f.Regs[regSP])
	blob := make([]byte, frameSize)
	if err := t.Vm.User2k(blob, sp); err != 0 {
		Raise(t, defs.SIGSEGV)
		return
	}
	savedMask := unpackFrame(blob, f)
	SetMask(t, savedMask)
}
