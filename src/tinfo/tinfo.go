// Package tinfo tracks the state a task needs in order to be cleanly
// cancelled and reaped: whether it is still alive, whether it has been
// marked killed/doomed, and the channel/condvar pair a killer uses to
// wait for the victim to notice and unwind.
package tinfo

import (
	"sync"

	"defs"
)

/// Tnote_t is a task's cancellation note. A killer sets Killed (and, for
/// a fatal signal delivered to every thread in the group, Isdoomed) then
/// waits on Killnaps for the target to acknowledge and exit.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Killnaps.Kerr; a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread is marked as doomed (the whole
/// thread group is being torn down, not just this one task).
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

