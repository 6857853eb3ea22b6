// Package blkdev is a concrete, non-authoritative stand-in for a
// VirtIO-blk queue: an in-memory byte-addressable disk image driven
// through the same Disk_i/Bdev_req_t vocabulary fs/blk.go defines for
// the teacher's AHCI driver, so a real MMIO-backed VirtIO-blk queue
// can implement Disk_i later without touching any caller of this
// package.
package blkdev

import (
	"fmt"
	"sync"

	"fs"
)

/// Ramdisk is an in-memory Disk_i: every block lives in a single
/// byte slice, sized in fs.BSIZE blocks at construction. Requests are
/// serviced synchronously on the calling goroutine and acknowledged
/// over AckCh the same way a real queue's completion interrupt would,
/// so callers written against an async Disk_i need no special-casing
/// for the in-memory case.
type Ramdisk struct {
	mu     sync.Mutex
	img    []byte
	reads  uint64
	writes uint64
}

/// MkRamdisk allocates an nblocks*fs.BSIZE byte image, zero-filled.
func MkRamdisk(nblocks int) *Ramdisk {
	return &Ramdisk{img: make([]byte, nblocks*fs.BSIZE)}
}

func (r *Ramdisk) blockOff(block int) (int, bool) {
	off := block * fs.BSIZE
	return off, off >= 0 && off+fs.BSIZE <= len(r.img)
}

/// Start services req synchronously and returns true, matching the
/// teacher's Disk_i.Start contract of "true means wait on AckCh".
/// A block number outside the image panics rather than silently
/// truncating the read/write, since that signals a caller bug (a
/// filesystem addressing a block past the device it was given).
func (r *Ramdisk) Start(req *fs.Bdev_req_t) bool {
	r.mu.Lock()
	switch req.Cmd {
	case fs.BDEV_READ:
		req.Blks.Apply(func(b *fs.Bdev_block_t) {
			off, ok := r.blockOff(b.Block)
			if !ok {
				panic(fmt.Sprintf("blkdev: read past end of disk: block %d", b.Block))
			}
			copy(b.Data[:], r.img[off:off+fs.BSIZE])
			r.reads++
		})
	case fs.BDEV_WRITE:
		req.Blks.Apply(func(b *fs.Bdev_block_t) {
			off, ok := r.blockOff(b.Block)
			if !ok {
				panic(fmt.Sprintf("blkdev: write past end of disk: block %d", b.Block))
			}
			copy(r.img[off:off+fs.BSIZE], b.Data[:])
			r.writes++
		})
	case fs.BDEV_FLUSH:
		// already durable; nothing to do for an in-memory image.
	}
	r.mu.Unlock()
	if req.Sync {
		// Start's caller reads AckCh only after Start returns, so the
		// completion send has to happen off this goroutine even though
		// the "device" itself already finished the copy synchronously.
		go func() { req.AckCh <- true }()
	}
	return true
}

/// Stats reports cumulative read/write block counts, the same shape
/// of diagnostic the teacher's ahci/ixgbe Stats() methods return.
func (r *Ramdisk) Stats() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("blkdev: ramdisk reads=%d writes=%d blocks=%d", r.reads, r.writes, len(r.img)/fs.BSIZE)
}

/// LoadImage copies data into the disk starting at block 0, for
/// seeding a boot ramdisk from a statically linked filesystem image.
/// It grows the backing image if data is larger than the current
/// capacity.
func (r *Ramdisk) LoadImage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(data) > len(r.img) {
		grown := make([]byte, len(data))
		r.img = grown
	}
	copy(r.img, data)
}
