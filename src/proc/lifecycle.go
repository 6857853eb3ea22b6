package proc

import (
	"encoding/binary"
	"sync"
	"weak"

	"golang.org/x/sys/unix"

	"defs"
	"fd"
	"mem"
	"tinfo"
	"vm"
)

// Clone flags, numerically identical to the Linux RV64 ABI so a user
// binary's clone(2)/fork(2)/pthread_create wrapper needs no
// translation. Sourced from golang.org/x/sys/unix rather than
// hand-copied constants.
const (
	CLONE_VM             = unix.CLONE_VM
	CLONE_FS             = unix.CLONE_FS
	CLONE_FILES          = unix.CLONE_FILES
	CLONE_SIGHAND        = unix.CLONE_SIGHAND
	CLONE_THREAD         = unix.CLONE_THREAD
	CLONE_VFORK          = unix.CLONE_VFORK
	CLONE_PARENT_SETTID  = unix.CLONE_PARENT_SETTID
	CLONE_CHILD_SETTID   = unix.CLONE_CHILD_SETTID
	CLONE_CHILD_CLEARTID = unix.CLONE_CHILD_CLEARTID
	CLONE_SETTLS         = unix.CLONE_SETTLS
)

// FutexWakeHook lets Exit's CHILD_CLEARTID handling wake a pthread_join
// waiter without proc importing sched (which already imports proc);
// the same hook-injection idiom as Enqueue. Wired by sched.Init.
var FutexWakeHook func(key uintptr, n int)

/// Enqueue hands a runnable task to the scheduler. Set once by
/// sched.Init to break the import cycle a direct proc->sched dependency
/// would create (the same hook-injection idiom vm.RemoteFence and the
/// teacher's Cpumap use).
var Enqueue func(*Task_t)

var initTask *Task_t

/// SpawnInit creates the very first task: pid 1, its own fresh address
/// space and resource set, re-parented to by every orphan. name is used
/// only for diagnostics; the caller installs its entry point separately
/// once an ELF image has been loaded into the returned task's Vm.
func SpawnInit(name string, rootcwd *fd.Fd_t) *Task_t {
	pid := AllocPid()
	tid := defs.Tid_t(pid)
	root, p_root, ok := mem.Physmem.NewPtbl()
	if !ok {
		panic("no memory to create init")
	}
	t := &Task_t{
		Pid:  pid,
		Tid:  tid,
		Tgid: pid,
		Name: name,
		Vm:   &vm.Vm_t{Pmap: root, P_pmap: p_root},
		Rsrc:    NewRsrc(fd.MkRootCwd(rootcwd), nil, nil, nil),
		SigActs: NewSigActs(),
		Note:    &tinfo.Tnote_t{Alive: true},
	}
	t.waitCond = sync.NewCond(&t.waitMu)
	if !register(t) {
		panic("system task limit reached before init could start")
	}
	initTask = t
	return t
}

/// Fork creates a new process (pid != parent's pid, fresh tgid) that is
/// a copy-on-write duplicate of parent: its own Vm_t sharing every
/// mapped frame COW, its own deep-copied Rsrc_t. It corresponds to
/// fork(2) / clone(2) with no sharing flags set.
func Fork(parent *Task_t) (*Task_t, defs.Err_t) {
	return clone(parent, 0, 0, 0, 0)
}

/// Clone implements clone(2): flags selects which of the parent's
/// resources (address space, fd table, signal handlers) the new task
/// shares rather than copies, and whether the new task joins the
/// parent's thread group (CLONE_THREAD) instead of starting a new
/// process. Callers that also need PARENT_SETTID/CHILD_SETTID/
/// CHILD_CLEARTID/SETTLS honored should call CloneEx instead.
func Clone(parent *Task_t, flags int) (*Task_t, defs.Err_t) {
	return clone(parent, flags, 0, 0, 0)
}

/// CloneEx is Clone with the three user addresses clone(2)'s full ABI
/// takes: ptid is where the new tid is written in the parent (
/// CLONE_PARENT_SETTID), ctid is where it is written in the child (
/// CLONE_CHILD_SETTID) and zeroed-then-futex-woken at exit (
/// CLONE_CHILD_CLEARTID), and tls is the value installed as the new
/// task's thread-pointer base (CLONE_SETTLS). A flag whose address
/// argument is 0 is simply skipped, matching the real syscall's
/// "caller passed 0, nothing to write" behavior rather than erroring.
func CloneEx(parent *Task_t, flags int, ptid, ctid, tls uintptr) (*Task_t, defs.Err_t) {
	return clone(parent, flags, ptid, ctid, tls)
}

func clone(parent *Task_t, flags int, ptid, ctid, tls uintptr) (*Task_t, defs.Err_t) {
	var nvm *vm.Vm_t
	if flags&CLONE_VM != 0 {
		nvm = parent.Vm
	} else {
		cowvm, err := cowCopy(parent.Vm)
		if err != 0 {
			return nil, err
		}
		nvm = cowvm
	}

	var nrsrc *Rsrc_t
	if flags&CLONE_FILES != 0 {
		parent.Rsrc.Ref()
		nrsrc = parent.Rsrc
	} else {
		r, err := parent.Rsrc.Clone()
		if err != 0 {
			return nil, err
		}
		nrsrc = r
	}

	var nsig *SigActs_t
	if flags&CLONE_SIGHAND != 0 {
		parent.SigActs.Ref()
		nsig = parent.SigActs
	} else {
		nsig = parent.SigActs.Clone()
	}

	tid := AllocTid()
	tgid := parent.Tgid
	if flags&CLONE_THREAD == 0 {
		tgid = defs.Pid_t(tid)
	}

	nt := &Task_t{
		Pid:     defs.Pid_t(tid),
		Tid:     tid,
		Tgid:    tgid,
		Name:    parent.Name,
		Vm:      nvm,
		Rsrc:    nrsrc,
		SigActs: nsig,
		Note:    &tinfo.Tnote_t{Alive: true},
	}
	nt.waitCond = sync.NewCond(&nt.waitMu)
	if !register(nt) {
		if flags&CLONE_FILES != 0 {
			nrsrc.Unref()
		}
		if flags&CLONE_SIGHAND != 0 {
			nsig.Unref()
		}
		return nil, -defs.ENOMEM
	}

	if flags&CLONE_CHILD_CLEARTID != 0 {
		nt.ClearChildTid = ctid
	}
	if flags&CLONE_SETTLS != 0 {
		nt.TlsBase = tls
	}
	if flags&CLONE_CHILD_SETTID != 0 {
		writeTid(nvm, ctid, tid)
	}
	if flags&CLONE_PARENT_SETTID != 0 {
		writeTid(parent.Vm, ptid, tid)
	}

	if flags&CLONE_THREAD == 0 {
		nt.parent = weak.Make(parent)
		parent.addChild(nt)
	}

	if Enqueue != nil {
		nt.SetState(Runnable)
		Enqueue(nt)
	}
	return nt, 0
}

// writeTid stores tid as a little-endian 4-byte word at va in as, the
// shape a pthread_create wrapper's ptid/ctid out-param expects. A zero
// va (the caller didn't ask for this address to be filled) or address
// space is a silent no-op, matching clone(2)'s own "flag set but
// pointer NULL" tolerance.
func writeTid(as *vm.Vm_t, va uintptr, tid defs.Tid_t) {
	if as == nil || va == 0 {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(tid))
	as.Lock_pmap()
	as.K2user_inner(b[:], int(va))
	as.Unlock_pmap()
}

// clearChildTid implements CLONE_CHILD_CLEARTID's exit-time half:
// zero the word at the address the thread registered and wake one
// futex waiter there, letting a pthread_join spinning on that address
// observe the exit without polling.
func clearChildTid(t *Task_t) {
	as := t.Vm
	va := t.ClearChildTid
	if as == nil || va == 0 {
		return
	}
	as.Lock_pmap()
	as.K2user_inner([]uint8{0, 0, 0, 0}, int(va))
	as.Unlock_pmap()
	if FutexWakeHook == nil {
		return
	}
	pageva := va &^ uintptr(mem.PGOFFSET)
	if pte := mem.Physmem.WalkNoAlloc(as.P_pmap, pageva); pte != nil && *pte&mem.PTE_V != 0 {
		key := uintptr(mem.PteAddr(*pte)) | (va & uintptr(mem.PGOFFSET))
		FutexWakeHook(key, 1)
	}
}

// cowCopy builds a new address space sharing parent's frames read-only
// and copy-on-write: every present, writable PTE in parent is
// downgraded to PTE_COW in both copies so the first write on either
// side triggers Sys_pgfault to split them apart (spec's demand-paging
// discipline, applied uniformly to fork() instead of mapping-in the
// whole image eagerly). mem.Physmem_t.CowClone does the actual PTE
// walk/refcount bookkeeping, mirroring the claim-or-copy logic
// Sys_pgfault applies lazily at fault time; this just runs it eagerly
// over every already-present page at fork.
func cowCopy(src *vm.Vm_t) (*vm.Vm_t, defs.Err_t) {
	src.Lock_pmap()
	defer src.Unlock_pmap()

	pm, p_root, ok := mem.Physmem.CowClone(src.P_pmap)
	if !ok {
		return nil, -defs.ENOMEM
	}
	nvm := &vm.Vm_t{Pmap: pm, P_pmap: p_root}
	nvm.Vmregion = src.Vmregion
	src.TlbshootAll()
	return nvm, 0
}

/// Exit tears the task down: drops its references on the resource set
/// and the signal disposition table, reports status to a waiting
/// parent, re-parents any live children to the init task, and marks the
/// task a zombie until Wait collects it. The address space is not
/// released: its page tables and frames stay allocated after Exit.
func Exit(t *Task_t, status int) {
	t.inner.Lock()
	t.exitStatus = status
	t.state = Zombie
	t.inner.Unlock()

	t.Note.Lock()
	t.Note.Alive = false
	t.Note.Unlock()

	clearChildTid(t)

	lastVmSharer := t.Vm != nil
	_ = lastVmSharer
	if t.Rsrc != nil {
		t.Rsrc.Unref()
	}
	if t.SigActs != nil {
		t.SigActs.Unref()
	}

	for _, c := range t.Children() {
		reparent(c)
	}

	unregister(t.Tid)

	if p := t.Parent(); p != nil {
		p.waitMu.Lock()
		p.zombies = append(p.zombies, t)
		p.waitCond.Broadcast()
		p.waitMu.Unlock()
		p.removeChild(t)
	}
}

func reparent(c *Task_t) {
	if initTask == nil || c == initTask {
		return
	}
	c.parent = weak.Make(initTask)
	initTask.addChild(c)
}

/// Wait blocks until any child has exited, then returns its pid and
/// exit status, removing it from the zombie list (the wait(2) default,
/// pid == -1). A task with no children returns ECHILD immediately.
func Wait(parent *Task_t) (defs.Pid_t, int, defs.Err_t) {
	if len(parent.Children()) == 0 {
		parent.waitMu.Lock()
		empty := len(parent.zombies) == 0
		parent.waitMu.Unlock()
		if empty {
			return 0, 0, -defs.ECHILD
		}
	}
	parent.waitMu.Lock()
	for len(parent.zombies) == 0 {
		parent.waitCond.Wait()
	}
	z := parent.zombies[0]
	parent.zombies = parent.zombies[1:]
	parent.waitMu.Unlock()
	return z.Pid, z.exitStatus, 0
}

/// WaitPid waits for a specific child by pid.
func WaitPid(parent *Task_t, pid defs.Pid_t) (int, defs.Err_t) {
	parent.waitMu.Lock()
	for {
		for i, z := range parent.zombies {
			if z.Pid == pid {
				parent.zombies = append(parent.zombies[:i], parent.zombies[i+1:]...)
				parent.waitMu.Unlock()
				return z.exitStatus, 0
			}
		}
		found := false
		for _, c := range parent.Children() {
			if c.Pid == pid {
				found = true
				break
			}
		}
		if !found {
			parent.waitMu.Unlock()
			return 0, -defs.ECHILD
		}
		parent.waitCond.Wait()
	}
}
