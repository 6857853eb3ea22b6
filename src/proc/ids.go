// Package proc implements task control blocks: the per-thread and
// per-process state backing fork, clone, exec, exit and wait.
package proc

import (
	"sync"
	"sync/atomic"

	"defs"
	"limits"
)

// idctr hands out pid/tid values from a single monotonic counter, the
// same scheme the teacher used (pid_cur) rather than separate pid and
// tid pools -- a tid can never collide with a pid because every task,
// whether a new process's leader or an additional thread, draws from
// this one sequence.
var idctr int64

func nextID() int64 {
	return atomic.AddInt64(&idctr, 1)
}

/// AllocPid returns a fresh process id.
func AllocPid() defs.Pid_t {
	return defs.Pid_t(nextID())
}

/// AllocTid returns a fresh thread id.
func AllocTid() defs.Tid_t {
	return defs.Tid_t(nextID())
}

var (
	allTasks  = make(map[defs.Tid_t]*Task_t)
	allMu     sync.RWMutex
	nthreads  int64
)

/// register records t in the global task table and bumps the live
/// thread count, refusing to exceed the configured system-wide limit.
func register(t *Task_t) bool {
	allMu.Lock()
	defer allMu.Unlock()
	if nthreads >= int64(limits.Syslimit.Systasks) {
		return false
	}
	nthreads++
	allTasks[t.Tid] = t
	return true
}

func unregister(tid defs.Tid_t) {
	allMu.Lock()
	defer allMu.Unlock()
	if _, ok := allTasks[tid]; ok {
		delete(allTasks, tid)
		nthreads--
	}
}

/// Lookup finds a live task by tid.
func Lookup(tid defs.Tid_t) (*Task_t, bool) {
	allMu.RLock()
	defer allMu.RUnlock()
	t, ok := allTasks[tid]
	return t, ok
}

/// Nthreads reports the current count of live tasks, for the stat
/// device.
func Nthreads() int64 {
	allMu.RLock()
	defer allMu.RUnlock()
	return nthreads
}
