package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"defs"
	"mem"
	"vm"
)

func freshWorld(t *testing.T) *Task_t {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	mem.PhysInit(mem.Pa_t(0x80000000), 512, zap.NewNop())
	allMu.Lock()
	allTasks = make(map[defs.Tid_t]*Task_t)
	nthreads = 0
	allMu.Unlock()
	initTask = nil
	Enqueue = nil
	return SpawnInit("init", nil)
}

func TestForkCreatesIndependentTask(t *testing.T) {
	init := freshWorld(t)
	child, err := Fork(init)
	assert.Zero(t, err)
	assert.NotEqual(t, init.Pid, child.Pid)
	assert.NotEqual(t, init.Vm, child.Vm)
	assert.Equal(t, init, child.Parent())
	assert.Contains(t, init.Children(), child)
}

func TestForkIsCopyOnWrite(t *testing.T) {
	init := freshWorld(t)
	init.Vm.Vmadd_anon(vm.USERMIN, mem.PGSIZE, mem.PTE_U|mem.PTE_W)
	assert.Zero(t, init.Vm.Userwriten(vm.USERMIN, 8, 42))

	child, err := Fork(init)
	assert.Zero(t, err)

	v, rerr := child.Vm.Userreadn(vm.USERMIN, 8)
	assert.Zero(t, rerr)
	assert.Equal(t, 42, v, "child must see the parent's data through the shared COW frame")

	assert.Zero(t, child.Vm.Userwriten(vm.USERMIN, 8, 99))

	pv, perr := init.Vm.Userreadn(vm.USERMIN, 8)
	assert.Zero(t, perr)
	assert.Equal(t, 42, pv, "writing in the child must not perturb the parent's page")

	cv, cerr := child.Vm.Userreadn(vm.USERMIN, 8)
	assert.Zero(t, cerr)
	assert.Equal(t, 99, cv)
}

func TestCloneThreadSharesTgidAndVm(t *testing.T) {
	init := freshWorld(t)
	thread, err := Clone(init, CLONE_VM|CLONE_THREAD|CLONE_FILES)
	assert.Zero(t, err)
	assert.Equal(t, init.Tgid, thread.Tgid)
	assert.Same(t, init.Vm, thread.Vm)
	// thread-group members are not parent/child in the process sense
	assert.Nil(t, thread.Parent())
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	init := freshWorld(t)
	parent, err := Fork(init)
	assert.Zero(t, err)
	grandchild, err := Fork(parent)
	assert.Zero(t, err)

	Exit(parent, 0)

	assert.Equal(t, init, grandchild.Parent())
	assert.Contains(t, init.Children(), grandchild)
}

func TestWaitCollectsExitedChild(t *testing.T) {
	init := freshWorld(t)
	child, err := Fork(init)
	assert.Zero(t, err)

	done := make(chan struct{})
	go func() {
		Exit(child, 7)
		close(done)
	}()
	<-done

	pid, status, werr := Wait(init)
	assert.Zero(t, werr)
	assert.Equal(t, child.Pid, pid)
	assert.Equal(t, 7, status)
}

func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	init := freshWorld(t)
	orphan, err := Fork(init)
	assert.Zero(t, err)
	Exit(orphan, 0)
	_, _, werr := WaitPid(orphan, init.Pid)
	assert.Equal(t, -defs.ECHILD, werr)
}
