// Package fsapi defines the narrow on-disk-file interface the rest of
// the kernel programs against -- vm's file-backed mappings, exec's ELF
// reads, the open/read/write syscalls -- without committing to any one
// on-disk format. MemInode is an in-memory stand-in implementing it
// (no FAT32/ext-style directory structure is implemented here); a real
// block-backed filesystem would satisfy the same interface by reading
// through blkdev instead of a byte slice.
package fsapi

import (
	"io"
	"sync"

	"defs"
	"fdops"
)

/// Inode_i is the narrow surface the rest of the kernel needs from a
/// file: positioned read/write and a size. Directory traversal,
/// link counts and permissions belong to a concrete filesystem, not to
/// this interface.
type Inode_i interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	Truncate(sz int64) error
}

/// MemInode is a growable in-memory file, the default Inode_i the boot
/// ramdisk (holding init and any statically bundled binaries) is built
/// from.
type MemInode struct {
	mu   sync.RWMutex
	data []byte
}

/// NewMemInode wraps an existing byte slice (e.g. a statically linked
/// init binary) as a read/write inode.
func NewMemInode(data []byte) *MemInode {
	return &MemInode{data: data}
}

func (m *MemInode) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemInode) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *MemInode) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

func (m *MemInode) Truncate(sz int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sz <= int64(len(m.data)) {
		m.data = m.data[:sz]
		return nil
	}
	grown := make([]byte, sz)
	copy(grown, m.data)
	m.data = grown
	return nil
}

/// File_t adapts an Inode_i plus a private read/write cursor to
/// fdops.Fdops_i, the interface every open file descriptor is built on.
type File_t struct {
	mu     sync.Mutex
	ino    Inode_i
	off    int64
	append bool
}

/// MkFile opens ino for reading and writing through a new file
/// descriptor-local cursor.
func MkFile(ino Inode_i, appendMode bool) *File_t {
	return &File_t{ino: ino, append: appendMode}
}

func (f *File_t) Close() defs.Err_t  { return 0 }
func (f *File_t) Reopen() defs.Err_t { return 0 }

func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, dst.Remain())
	n, err := f.ino.ReadAt(buf, f.off)
	if err != nil && err != io.EOF {
		return 0, -defs.EIO
	}
	if n == 0 {
		return 0, 0
	}
	wrote, uerr := dst.Uiowrite(buf[:n])
	f.off += int64(wrote)
	return wrote, uerr
}

func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.append {
		f.off = f.ino.Size()
	}
	buf := make([]byte, src.Totalsz())
	n, uerr := src.Uioread(buf)
	if uerr != 0 {
		return 0, uerr
	}
	wrote, err := f.ino.WriteAt(buf[:n], f.off)
	if err != nil {
		return 0, -defs.EIO
	}
	f.off += int64(wrote)
	return wrote, 0
}

/// ReaderAt exposes the inode through the standard io.ReaderAt
/// interface so elfload.Load can parse it directly.
func (f *File_t) ReaderAt() io.ReaderAt {
	return inodeReaderAt{f.ino}
}

type inodeReaderAt struct{ ino Inode_i }

func (r inodeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.ino.ReadAt(p, off)
}
