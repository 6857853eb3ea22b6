// Package fdops defines the narrow interfaces file descriptors and user
// copy helpers are built on, decoupling fd/vm from any concrete
// filesystem or device implementation.
package fdops

import "defs"

/// Userio_i abstracts copying between kernel buffers and a caller-supplied
/// source/sink, whether that's a single user pointer+length (vm.Userbuf_t),
/// a user iovec array (vm.Useriovec_t) or an in-kernel byte slice
/// (vm.Fakeubuf_t).
type Userio_i interface {
	// Uiowrite copies src into the destination and returns the number of
	// bytes copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Uioread copies from the source into dst and returns the number of
	// bytes copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Remain returns the number of bytes not yet transferred.
	Remain() int
	// Totalsz returns the total size of the buffer.
	Totalsz() int
}

/// Fdops_i is implemented by every open-file-like object reachable through
/// a file descriptor: device files, pipes, regular fsapi.Inode-backed
/// files and memory-mapped file windows.
type Fdops_i interface {
	Close() defs.Err_t
	Reopen() defs.Err_t
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
}
