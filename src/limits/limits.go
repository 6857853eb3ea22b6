// Package limits tracks both system-wide and per-task resource limits:
// the global caps the kernel itself enforces (max tasks, max futexes,
// cached block pages) and the POSIX rlimits each task carries in its
// shared resource set.
package limits

import "unsafe"
import "sync/atomic"

const RLIM_INFINITY = ^uint(0)

/// Lhits counts limit hits, surfaced by the stat device.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits enforced independent of
/// any one task's rlimits (e.g. the global futex table and block cache
/// are shared, so their caps live here rather than per task).
type Syslimit_t struct {
	// max number of tasks (processes+threads); protected by the task
	// manager's lock
	Systasks int
	// max distinct futex wait-queues outstanding
	Futexes int
	// cached FAT32 directory entries
	Dirents Sysatomic_t
	// cached block-device pages (see blkdev)
	Blocks int
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Systasks: 1 << 14,
		Futexes:  1024,
		Dirents:  1 << 15,
		Blocks:   1 << 17,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// Ulimit_t is the set of POSIX rlimits carried by a task's shared
/// resource set (prlimit(2) reads/writes this structure).
type Ulimit_t struct {
	// max resident pages of the address space
	Pages uint
	// max open file descriptors
	Nofile uint
	// max distinct mapped-area count (mmap/brk/stack/trampoline)
	Novma uint
	// max child processes+threads
	Noproc uint
}

/// DefaultUlimit returns the rlimits a freshly spawned process starts
/// with.
func DefaultUlimit() Ulimit_t {
	return Ulimit_t{
		// 128 MiB of resident pages
		Pages:  (1 << 27) / (1 << 12),
		Nofile: RLIM_INFINITY,
		Novma:  1 << 8,
		Noproc: 1 << 10,
	}
}
