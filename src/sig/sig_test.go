package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"defs"
	"mem"
	"proc"
	"trap"
	"vm"
)

func mkTask(tid defs.Tid_t) *proc.Task_t {
	t := &proc.Task_t{Tid: tid, Rsrc: &proc.Rsrc_t{}, SigActs: proc.NewSigActs()}
	return t
}

func mkTaskWithStack(t *testing.T, tid defs.Tid_t) *proc.Task_t {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	mem.PhysInit(mem.Pa_t(0x80000000), 256, zap.NewNop())
	root, p_root, ok := mem.Physmem.NewPtbl()
	assert.True(t, ok)
	task := mkTask(tid)
	task.Vm = &vm.Vm_t{Pmap: root, P_pmap: p_root}
	task.Vm.Vmadd_anon(vm.USERMIN, 4*mem.PGSIZE, mem.PTE_U|mem.PTE_W)
	return task
}

func TestRaiseWithHandlerIsPendingUntilCheck(t *testing.T) {
	task := mkTask(101)
	task.SigActs.Set(defs.SIGUSR1, proc.SigactionRaw{Handler: 0xdeadbeef})

	Raise(task, defs.SIGUSR1)
	signum, act, ok := Check(task)
	assert.True(t, ok)
	assert.Equal(t, defs.SIGUSR1, signum)
	assert.EqualValues(t, 0xdeadbeef, act.Handler)

	_, _, ok = Check(task)
	assert.False(t, ok, "signal should be cleared after delivery")
}

func TestRaiseWithNoHandlerAndDefaultTerminateKillsTask(t *testing.T) {
	task := mkTask(102)
	Raise(task, defs.SIGTERM)
	assert.Equal(t, proc.Zombie, task.State())
}

func TestRaiseIgnoredSignalIsDropped(t *testing.T) {
	task := mkTask(103)
	Raise(task, defs.SIGCHLD)
	_, _, ok := Check(task)
	assert.False(t, ok)
}

func TestMaskBlocksDelivery(t *testing.T) {
	task := mkTask(104)
	task.SigActs.Set(defs.SIGUSR2, proc.SigactionRaw{Handler: 1})
	SetMask(task, 1<<uint(defs.SIGUSR2))

	Raise(task, defs.SIGUSR2)
	_, _, ok := Check(task)
	assert.False(t, ok, "blocked signal must not be delivered")

	SetMask(task, 0)
	_, _, ok = Check(task)
	assert.True(t, ok, "unblocking should make it deliverable")
}

func TestDeliverRedirectsToHandlerAndSigreturnRestores(t *testing.T) {
	task := mkTaskWithStack(t, 105)
	const handler = uintptr(0x1000)
	const restorer = uintptr(0x2000)
	task.SigActs.Set(defs.SIGUSR1, proc.SigactionRaw{Handler: handler, Restorer: restorer, Mask: 0})
	Raise(task, defs.SIGUSR1)

	f := &trap.Frame{Sepc: 0x4000}
	f.Regs[2] = uint64(vm.USERMIN + 3*mem.PGSIZE) // sp, well within the mapped stack
	f.Regs[5] = 0xcafe                            // an arbitrary callee-saved reg to round-trip

	delivered := Deliver(task, f)
	assert.True(t, delivered)
	assert.EqualValues(t, handler, f.Sepc)
	assert.EqualValues(t, restorer, f.Regs[1])
	assert.EqualValues(t, defs.SIGUSR1, f.Regs[10])
	assert.NotEqual(t, uint64(vm.USERMIN+3*mem.PGSIZE), f.Regs[2], "sp must move to make room for the pushed frame")

	restoreFrame(task, f)
	assert.EqualValues(t, 0x4000, f.Sepc)
	assert.EqualValues(t, uint64(vm.USERMIN+3*mem.PGSIZE), f.Regs[2])
	assert.EqualValues(t, 0xcafe, f.Regs[5])
}
