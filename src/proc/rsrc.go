package proc

import (
	"sync"

	"defs"
	"fd"
	"limits"
)

// Rsrc_t is the resource set shared by every thread in a thread group:
// the fd table, current working directory and rlimits.
// CLONE_FILES/CLONE_FS-style sharing is simply multiple
// Task_t values pointing at the same *Rsrc_t; a private fd table (the
// fork(2) default) is a deep copy made at clone time instead.
type Rsrc_t struct {
	sync.RWMutex

	Fds     map[int]*fd.Fd_t
	fdStart int
	Cwd     *fd.Cwd_t
	Ulim    limits.Ulimit_t

	refs int32
}

// SigActs_t is the signal disposition table (nil entries mean the
// default action applies), refcounted and shared across CLONE_SIGHAND
// threads, reset to defaults across exec(2) for handled (non-ignored)
// signals, per POSIX. Kept independent of Rsrc_t, since CLONE_SIGHAND
// and CLONE_FILES/CLONE_FS are orthogonal clone(2) flags -- a thread
// can share one without the other, which a single Rsrc_t shared-or-not
// switch cannot express.
type SigActs_t struct {
	sync.RWMutex
	acts [defs.NSIG]SigactionRaw
	refs int32
}

/// NewSigActs builds a fresh, all-default disposition table with one
/// sharer.
func NewSigActs() *SigActs_t {
	return &SigActs_t{refs: 1}
}

/// Get returns the disposition installed for signum.
func (s *SigActs_t) Get(signum int) SigactionRaw {
	s.RLock()
	defer s.RUnlock()
	return s.acts[signum]
}

/// Set installs act as the disposition for signum.
func (s *SigActs_t) Set(signum int, act SigactionRaw) {
	s.Lock()
	s.acts[signum] = act
	s.Unlock()
}

/// Ref bumps the sharer count for a CLONE_SIGHAND thread joining the
/// group.
func (s *SigActs_t) Ref() {
	s.Lock()
	s.refs++
	s.Unlock()
}

/// Unref drops the sharer count, reporting true when the last sharer
/// departs.
func (s *SigActs_t) Unref() bool {
	s.Lock()
	s.refs--
	last := s.refs == 0
	s.Unlock()
	return last
}

/// Clone deep-copies the disposition table for a thread not sharing
/// CLONE_SIGHAND.
func (s *SigActs_t) Clone() *SigActs_t {
	s.RLock()
	defer s.RUnlock()
	return &SigActs_t{acts: s.acts, refs: 1}
}

/// SigactionRaw is the wire-format layout a sigaction(2) struct takes in
/// user memory: handler address, flags and the blocked-during-handler
/// mask. Interpreted by the sig package; kept here since it lives in
/// the resource set shared across a thread group.
type SigactionRaw struct {
	Handler  uintptr
	Flags    uint64
	Mask     uint64
	// Restorer is the userspace address (libc's __restore_rt-equivalent)
	// that sig.Deliver installs as the handler's return address: after
	// the handler runs its final ret lands there instead of back into
	// whatever the task was doing when the signal arrived, and that code
	// is trusted to execute the rt_sigreturn syscall with the stack
	// pointer still addressing the frame Deliver pushed.
	Restorer uintptr
}

/// NewRsrc builds a fresh resource set seeded with the console fds
/// (stdin/stdout/stderr) that are non-nil, and the default rlimits.
func NewRsrc(cwd *fd.Cwd_t, stdin, stdout, stderr *fd.Fd_t) *Rsrc_t {
	r := &Rsrc_t{
		Fds:     make(map[int]*fd.Fd_t),
		fdStart: 3,
		Cwd:     cwd,
		Ulim:    limits.DefaultUlimit(),
		refs:    1,
	}
	for n, f := range []*fd.Fd_t{stdin, stdout, stderr} {
		if f != nil {
			r.Fds[n] = f
		}
	}
	return r
}

/// Clone deep-copies the resource set for a fork (or a clone(2) without
/// CLONE_FILES/CLONE_FS): every fd is independently reopened so closing
/// one copy's descriptor doesn't affect the other's.
func (r *Rsrc_t) Clone() (*Rsrc_t, defs.Err_t) {
	r.RLock()
	defer r.RUnlock()
	nr := &Rsrc_t{
		Fds:     make(map[int]*fd.Fd_t, len(r.Fds)),
		fdStart: r.fdStart,
		Cwd:     r.Cwd,
		Ulim:    r.Ulim,
		refs:    1,
	}
	for n, f := range r.Fds {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			for _, already := range nr.Fds {
				fd.Close_panic(already)
			}
			return nil, err
		}
		nr.Fds[n] = nf
	}
	return nr, 0
}

/// Ref bumps the sharer count for a CLONE_FILES thread joining the
/// group.
func (r *Rsrc_t) Ref() {
	r.Lock()
	r.refs++
	r.Unlock()
}

/// Unref drops the sharer count, closing every fd and reporting true
/// when the last sharer departs.
func (r *Rsrc_t) Unref() bool {
	r.Lock()
	r.refs--
	last := r.refs == 0
	r.Unlock()
	if !last {
		return false
	}
	for _, f := range r.Fds {
		fd.Close_panic(f)
	}
	return true
}

/// AddFd installs f at the lowest available descriptor number >=
/// fdStart, enforcing the Nofile rlimit.
func (r *Rsrc_t) AddFd(f *fd.Fd_t) (int, defs.Err_t) {
	r.Lock()
	defer r.Unlock()
	if uint(len(r.Fds)) >= r.Ulim.Nofile {
		return 0, -defs.EMFILE
	}
	for n := r.fdStart; ; n++ {
		if _, taken := r.Fds[n]; !taken {
			r.Fds[n] = f
			return n, 0
		}
	}
}

/// GetFd looks up an open descriptor.
func (r *Rsrc_t) GetFd(n int) (*fd.Fd_t, defs.Err_t) {
	r.RLock()
	defer r.RUnlock()
	f, ok := r.Fds[n]
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}

/// CloseFd removes and closes descriptor n.
func (r *Rsrc_t) CloseFd(n int) defs.Err_t {
	r.Lock()
	f, ok := r.Fds[n]
	if !ok {
		r.Unlock()
		return -defs.EBADF
	}
	delete(r.Fds, n)
	r.Unlock()
	return f.Fops.Close()
}
