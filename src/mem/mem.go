// Package mem implements physical frame management for the Sv39 address
// space: a bump-then-stack allocator over [base, base+npages) with a
// per-frame reference count used to make copy-on-write pages safe to
// share without a tracing collector.
package mem

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"oommsg"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// Sv39 PTE bits (RISC-V privileged architecture, table 4.4). The two RSW
// bits (8-9), reserved for supervisor software, are repurposed exactly as
// the teacher's x86 PTE_COW/PTE_WASCOW pair was: bit 8 marks a page as
// copy-on-write shared, bit 9 marks one that was COW and has since been
// claimed exclusively by a writer, so a second write fault on an
// already-claimed page is a cheap no-op instead of another copy.
const (
	PTE_V      Pa_t = 1 << 0 // valid
	PTE_R      Pa_t = 1 << 1 // readable
	PTE_W      Pa_t = 1 << 2 // writable
	PTE_X      Pa_t = 1 << 3 // executable
	PTE_U      Pa_t = 1 << 4 // user-accessible
	PTE_G      Pa_t = 1 << 5 // global mapping
	PTE_A      Pa_t = 1 << 6 // accessed
	PTE_D      Pa_t = 1 << 7 // dirty
	PTE_COW    Pa_t = 1 << 8 // RSW[0]: page is copy-on-write shared
	PTE_WASCOW Pa_t = 1 << 9 // RSW[1]: page was COW, now exclusively owned
)

// PPNSHIFT is where the 44-bit physical page number begins within a PTE.
const PPNSHIFT = 10

/// Pa_t represents a physical address (or, overloaded as in the
/// teacher, a raw PTE value -- both are 64-bit words manipulated with
/// the same bit operations).
type Pa_t uintptr

/// Vpn_t is a virtual page number (virtual address >> PGSHIFT).
type Vpn_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of machine words.
type Pg_t [512]uint64

/// Pmap_t is a single Sv39 page-table page: 512 eight-byte PTEs.
type Pmap_t [512]Pa_t

/// Unpin_i is implemented by an owner of pinned pages (such as a block
/// cache) that a shared file mapping refers to.
type Unpin_i interface {
	Unpin(Pa_t)
}

/// Page_i abstracts physical page allocation so packages need not
/// import the concrete allocator.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// PteAddr extracts the physical page address encoded in a PTE.
func PteAddr(pte Pa_t) Pa_t {
	return (pte >> PPNSHIFT) << Pa_t(PGSHIFT)
}

/// MkPTE builds a leaf PTE pointing at pa with the given flag bits.
func MkPTE(pa Pa_t, flags Pa_t) Pa_t {
	return (pa>>Pa_t(PGSHIFT))<<PPNSHIFT | flags | PTE_V
}

/// Pg2bytes converts a page of words to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg >> Pa_t(PGSHIFT))
}

/// Physpg_t describes a single physical page: its COW/mapping refcount
/// and, while free, the index of the next page on the free list.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32
}

/// Physmem_t is the global physical frame allocator. It owns one
/// contiguous RAM window [base, base+npages) and is protected by a
/// single lock -- deliberately simpler than the teacher's per-CPU free
/// lists, since the hart counts this kernel targets are small enough
/// that lock contention never becomes the bottleneck the teacher's x86
/// NUMA target worried about.
type Physmem_t struct {
	sync.Mutex
	Pgs     []Physpg_t
	ram     []Pg_t // backing store for every frame, indexed by frame number
	startn  uint32
	freei   uint32 // head of the recycled-frame free list, or noFree
	freelen int32
	bumpn   uint32 // next never-touched frame, for contiguous allocation
	inited  bool
	log     *zap.Logger
}

const noFree = ^uint32(0)

// DirectMapBase documents the virtual offset the real kernel would map
// all of physical memory at (the RISC-V analogue of the teacher's
// Vdirect window). On actual hardware Dmap is pure address arithmetic
// into that window, backed by a page table the boot loader installs
// before anything runs. A hosted Go test binary owns no such mapping
// and cannot install one, so Dmap here is backed by Physmem_t.ram, an
// ordinary Go slice addressed by frame number -- same contract
// (physical address in, live *Pg_t out), real memory behind it.
const DirectMapBase uintptr = 0xffffffc000000000

/// Zeropg is a global zero-filled page shared (read-only, COW) by every
/// lazily-faulted anonymous page until it is written.
var Zeropg *Pg_t

/// P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// PhysInit reserves npages physical frames starting at base and brings
/// up the allocator and the shared zero page. base and npages come from
/// the board's memory map (QEMU virt or the U740) via the boot config.
func PhysInit(base Pa_t, npages int, log *zap.Logger) *Physmem_t {
	phys := Physmem
	phys.log = log
	phys.Pgs = make([]Physpg_t, npages)
	phys.ram = make([]Pg_t, npages)
	phys.startn = pgn(base)
	phys.freei = noFree
	phys.freelen = 0
	phys.bumpn = 0
	phys.inited = true

	var ok bool
	Zeropg, P_zeropg, ok = phys._refpg_new()
	if !ok {
		panic("no memory for zero page")
	}
	for i := range Zeropg {
		Zeropg[i] = 0
	}
	phys.Refup(P_zeropg)
	log.Info("physical memory initialized",
		zap.Uint64("base", uint64(base)),
		zap.Int("pages", npages))
	return phys
}

// _refpg_new hands out the next frame: a recycled one if the free list
// is non-empty, otherwise bumps the watermark into virgin memory.
func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	phys.Lock()
	pg, p_pg, ok := phys._refpg_new_locked()
	phys.Unlock()
	if ok {
		return pg, p_pg, true
	}
	if !notifyOOM(1) {
		return nil, 0, false
	}
	phys.Lock()
	defer phys.Unlock()
	return phys._refpg_new_locked()
}

// notifyOOM tells a listening OOM killer goroutine that the allocator
// is out of frames and blocks until it replies on Resume, retrying the
// allocation exactly once. A non-blocking send means a kernel with no
// OOM killer registered (every test, and any boot before one is
// spawned) sees the plain allocation failure it always saw.
func notifyOOM(need int) bool {
	resume := make(chan bool)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need, Resume: resume}:
		return <-resume
	default:
		return false
	}
}

func (phys *Physmem_t) _refpg_new_locked() (*Pg_t, Pa_t, bool) {
	var idx uint32
	if phys.freei != noFree {
		idx = phys.freei
		phys.freei = phys.Pgs[idx].nexti
		phys.freelen--
	} else {
		if int(phys.bumpn) >= len(phys.Pgs) {
			return nil, 0, false
		}
		idx = phys.bumpn
		phys.bumpn++
	}
	if phys.Pgs[idx].Refcnt != 0 {
		panic("allocating frame with nonzero refcount")
	}
	phys.Pgs[idx].Refcnt = 1
	p_pg := Pa_t(idx+phys.startn) << Pa_t(PGSHIFT)
	return phys.Dmap(p_pg), p_pg, true
}

/// Refaddr returns the refcount pointer for the given frame.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) *int32 {
	idx := pgn(p_pg) - phys.startn
	return &phys.Pgs[idx].Refcnt
}

/// Refcnt returns the current reference count of a frame.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	return int(atomic.LoadInt32(phys.Refaddr(p_pg)))
}

/// Refup increments the reference count of a frame, called whenever a
/// new leaf PTE (or a transient holder, e.g. an in-flight DMA) starts
/// referencing it.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	c := atomic.AddInt32(phys.Refaddr(p_pg), 1)
	if c <= 1 {
		panic("refup of unreferenced or freed frame")
	}
}

/// Refdown decrements the reference count of a frame, returning the
/// frame to the free list and reporting true when the count reaches
/// zero.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	ref := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("refcount underflow: double free of a frame")
	}
	if c != 0 {
		return false
	}
	phys.Lock()
	idx := pgn(p_pg) - phys.startn
	phys.Pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
	phys.Unlock()
	return true
}

/// Refpg_new allocates a zeroed frame with refcount 1.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.inited {
		panic("allocator not initialized")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialized frame with refcount 1,
/// for callers about to overwrite every byte (e.g. the COW copy path).
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// AllocContiguous hands out n physically contiguous frames for DMA
/// buffers (the VirtIO descriptor/avail/used rings, the block cache's
/// bounce pages). It degenerates to a single Refpg_new for n==1 and can
/// only be satisfied from virgin (never-recycled) memory, since the
/// free list does not track adjacency.
func (phys *Physmem_t) AllocContiguous(n int) (Pa_t, bool) {
	if n <= 0 {
		panic("bad contiguous alloc size")
	}
	if n == 1 {
		_, p_pg, ok := phys.Refpg_new()
		return p_pg, ok
	}
	phys.Lock()
	defer phys.Unlock()
	if int(phys.bumpn)+n > len(phys.Pgs) {
		return 0, false
	}
	start := phys.bumpn
	for i := 0; i < n; i++ {
		idx := start + uint32(i)
		if phys.Pgs[idx].Refcnt != 0 {
			panic("contiguous region overlaps live frame")
		}
		phys.Pgs[idx].Refcnt = 1
	}
	phys.bumpn += uint32(n)
	p_pg := Pa_t(start+phys.startn) << Pa_t(PGSHIFT)
	pg := phys.Dmap(p_pg)
	for i := range pg {
		pg[i] = 0
	}
	return p_pg, true
}

/// Dmap converts a physical address into the live page backing it. On
/// real hardware this is a constant-offset arithmetic translation into
/// the kernel's direct-map window; here the "direct map" is
/// phys.ram, so the translation is an index into a real Go slice
/// instead of a cast through an unmapped virtual address.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	idx := pgn(p) - phys.startn
	return &phys.ram[idx]
}

/// Dmap_v2p converts a page returned by Dmap back to its physical
/// address, by locating it within the backing ram slice.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	base := uintptr(unsafe.Pointer(&phys.ram[0]))
	va := uintptr(unsafe.Pointer(v))
	if va < base {
		panic("address isn't in the direct map")
	}
	idx := (va - base) / uintptr(PGSIZE)
	if int(idx) >= len(phys.ram) {
		panic("address isn't in the direct map")
	}
	return Pa_t(uint32(idx)+phys.startn) << Pa_t(PGSHIFT)
}

/// Dmap8 returns a direct-mapped byte slice for p, offset within its
/// page.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p &^ PGOFFSET)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports free/used frame counts for diagnostics (the stat
/// device and boot-time logging).
func (phys *Physmem_t) Pgcount() (free, used int) {
	phys.Lock()
	defer phys.Unlock()
	free = int(phys.freelen) + (len(phys.Pgs) - int(phys.bumpn))
	used = len(phys.Pgs) - free
	return
}
