// Package trap dispatches S-mode traps: the scause-keyed switch any
// rv64gc supervisor takes on every exception, interrupt, and
// ecall-from-U syscall, plus the timer-preemption discipline that
// rearms stimecmp exactly once per trap and only on the path back to
// user mode. It is the RISC-V replacement for the teacher's
// assembly trap stubs and per-vector IDT the x86 target used --
// there is no IDT on this architecture, only scause/stval/sepc and a
// single trap vector (stvec) shared by every cause.
package trap

import (
	"time"

	"go.uber.org/zap"

	"caller"
	"defs"
	"mem"
	"proc"
	"sched"
)

// unknownCauses dedupes the "unhandled trap" log line by call site so a
// hart stuck repeatedly taking the same unrecognized cause doesn't
// flood the log; Distinct_caller_t is the teacher's own device for
// this, not a new idiom.
var unknownCauses = &caller.Distinct_caller_t{Enabled: true}

// Scause values this kernel handles, named the way the privileged
// spec numbers them (bit 63 set marks an interrupt, clear marks an
// exception) rather than reusing x86 IDT vector numbers.
const (
	interruptBit = uint64(1) << 63

	CauseSupervisorTimer = interruptBit | 5
	CauseSupervisorExt   = interruptBit | 9

	CauseInstrPageFault = 12
	CauseLoadPageFault   = 13
	CauseStorePageFault  = 15
	CauseEcallFromU      = 8
	CauseIllegalInstr    = 2
)

/// Frame is the trapframe a real trap entry stub would have pushed:
/// the general-purpose registers live here instead of an assembly
/// save area, sepc as the resume address, and scause/stval as
/// delivered by hardware. Syscall argument/return registers follow
/// the riscv64 Linux syscall ABI (a0-a6 args, a7 syscall number, a0
/// return value) so a statically linked userspace binary needs no
/// kernel-specific ABI translation.
type Frame struct {
	Regs   [32]uint64
	Sepc   uint64
	Scause uint64
	Stval  uint64
}

const (
	regA0 = 10
	regA7 = 17
)

/// Syscall_i is implemented by whatever package owns the syscall
/// table (wired at boot rather than imported directly, to keep trap
/// free of a dependency on every syscall-implementing package).
type Syscall_i interface {
	Syscall(t *proc.Task_t, f *Frame) uint64
}

var syscalls Syscall_i

/// SetSyscalls installs the syscall dispatcher. Called once at boot.
func SetSyscalls(s Syscall_i) {
	syscalls = s
}

var log *zap.Logger

/// SetLogger installs the structured logger traps report unexpected
/// causes and faults through.
func SetLogger(l *zap.Logger) {
	log = l
}

/// Handle dispatches one trap for task t's hart, mutating f in place
/// (a syscall's return value, a resolved page fault's resumed access)
/// and returning whether t should continue running (false means the
/// hart must reschedule: a timer or external interrupt preempted t, or
/// a fatal signal was delivered to it)
/// plus whether the cause just handled was itself a supervisor-timer
/// interrupt. That second value is for the caller to hand straight to
/// Rearm: it is computed fresh on every call rather than stashed in
/// package state, since harts dispatch traps concurrently and a single
/// shared "last cause" bit would let one hart's timer tick rearm (or
/// fail to rearm) another hart's stimecmp.
func Handle(hartid int, t *proc.Task_t, f *Frame) (cont bool, wasTimer bool) {
	wasTimer = f.Scause == CauseSupervisorTimer

	switch f.Scause {
	case CauseSupervisorTimer:
		sched.Tick(time.Now())
		return false, wasTimer // cooperative preemption point

	case CauseEcallFromU:
		f.Sepc += 4 // ecall is always 4 bytes, unlike x86's varying int3/syscall encodings
		if int(f.Regs[regA7]) == defs.SYS_rt_sigreturn {
			// Not routed through the ordinary syscall table: sigreturn
			// doesn't get its result written to a0 the way every other
			// syscall does, it replaces the whole frame (including a0)
			// with whatever sig.Deliver saved there.
			if SigReturn != nil {
				SigReturn(t, f)
			}
			return true, wasTimer
		}
		if syscalls == nil {
			panic("trap: no syscall table installed")
		}
		ret := syscalls.Syscall(t, f)
		f.Regs[regA0] = ret
		return true, wasTimer

	case CauseInstrPageFault, CauseLoadPageFault, CauseStorePageFault:
		err := t.Vm.Pgfault(t.Tid, uintptr(f.Stval), pgfaultEcode(f.Scause))
		if err != 0 {
			deliverFatal(t, defs.SIGSEGV)
			return false, wasTimer
		}
		return true, wasTimer

	case CauseSupervisorExt:
		// PLIC-routed device interrupt; device drivers register their
		// own handlers elsewhere and this case only exists so an
		// unrecognized external cause doesn't fall through to the
		// panic below.
		return false, wasTimer

	default:
		if log != nil {
			if isNew, stack := unknownCauses.Distinct(); isNew {
				log.Error("unhandled trap",
					zap.Int("hart", hartid),
					zap.Uint64("scause", f.Scause),
					zap.Uint64("stval", f.Stval),
					zap.Uint64("sepc", f.Sepc),
					zap.String("stack", stack))
			}
		}
		deliverFatal(t, defs.SIGILL)
		return false, wasTimer
	}
}

// pgfaultEcode translates a page-fault scause into the PTE_W bit
// vm.Sys_pgfault's write-fault check expects, so that check doesn't
// need to know this package's scause numbering.
func pgfaultEcode(scause uint64) uintptr {
	if scause == CauseStorePageFault {
		return uintptr(mem.PTE_W) | uintptr(mem.PTE_U)
	}
	return uintptr(mem.PTE_U)
}

/// DeliverSignal hands a synchronously generated signal (SIGSEGV from
/// a bad page fault, SIGILL from an unhandled trap cause) to the
/// signal package. Set once by sig.Init to avoid trap depending on
/// sig's own dependency on proc's Rsrc_t, the same hook-injection
/// idiom as proc.Enqueue and vm.RemoteFence.
var DeliverSignal func(t *proc.Task_t, sig int)

/// SigReturn unwinds the signal frame sig.Deliver pushed, restoring f to
/// the state the task was in when the signal arrived. Set once by
/// sig.Init, the same hook-injection idiom as DeliverSignal -- trap
/// cannot import sig directly since sig already imports trap for Frame.
var SigReturn func(t *proc.Task_t, f *Frame)

func deliverFatal(t *proc.Task_t, sig int) {
	if DeliverSignal != nil {
		DeliverSignal(t, sig)
		return
	}
	t.SetState(proc.Zombie)
}

/// Rearm reports whether trap_return (the assembly-equivalent path
/// that would actually write stimecmp) should bump the timer for the
/// hart that just took the trap wasTimer describes -- the value
/// Handle's second return already computed. Only a timer cause rearms;
/// a syscall or page fault taken in between must not shorten that
/// hart's remaining quantum.
func Rearm(wasTimer bool) bool {
	return wasTimer
}
