package vm

import (
	"sort"
	"sync"

	"defs"
	"fdops"
	"mem"
)

// mtype_t classifies a mapped region by how its pages are populated and
// whether they are shared across address spaces.
type mtype_t int

const (
	// VANON is a private anonymous region: pages start out aliased to
	// the global zero page and are copy-on-write duplicated on first
	// write (demand paging).
	VANON mtype_t = iota
	// VFILE is a region backed by an fdops.Fdops_i-implementing file,
	// populated on demand from Filepage.
	VFILE
	// VSANON is a shared anonymous region (used for SysV-style shared
	// memory): every mapper sees the same frames from the moment they
	// are faulted in, so the fault handler never copies.
	VSANON
)

// Mfile_t is the state shared by every Vminfo_t mapping the same
// underlying file region (so closing one mapping's fd doesn't
// invalidate pages still visible through another).
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

type vmfile_t struct {
	foff   int
	mfile  *Mfile_t
	shared bool
}

// Vminfo_t describes one contiguous mapped region of an address space:
// its virtual page range, its permissions, and how its pages are
// populated.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
	file  vmfile_t
}

func (vmi *Vminfo_t) end() uintptr {
	return vmi.Pgn + uintptr(vmi.Pglen)
}

// Ptefor returns the leaf PTE slot backing va within this region,
// allocating any missing intermediate page-table levels.
func (vmi *Vminfo_t) Ptefor(root mem.Pa_t, va uintptr) (*mem.Pa_t, bool) {
	pte := mem.Physmem.Walk(root, va, true)
	return pte, pte != nil
}

// fakeReader adapts a plain byte slice to fdops.Userio_i so Filepage
// can drive an fdops.Fdops_i's Read method directly into a freshly
// allocated frame.
type fakeReader struct {
	buf []uint8
	off int
}

func (fr *fakeReader) Uiowrite(src []uint8) (int, defs.Err_t) {
	c := copy(fr.buf[fr.off:], src)
	fr.off += c
	return c, 0
}
func (fr *fakeReader) Uioread(dst []uint8) (int, defs.Err_t) {
	c := copy(dst, fr.buf[fr.off:])
	fr.off += c
	return c, 0
}
func (fr *fakeReader) Remain() int   { return len(fr.buf) - fr.off }
func (fr *fakeReader) Totalsz() int  { return len(fr.buf) }

// Filepage returns the page backing faultaddr within a VFILE region,
// reading it through the region's Fdops_i. The fsapi stand-in package
// backs every VFILE region in this kernel; the interface here is
// deliberately narrow so a real on-disk filesystem could be substituted
// without touching vm.
func (vmi *Vminfo_t) Filepage(faultaddr uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	pgn := (faultaddr >> mem.PGSHIFT) - vmi.Pgn
	off := vmi.file.foff + int(pgn)*mem.PGSIZE
	pg, p_pg, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return nil, 0, -defs.ENOMEM
	}
	bpg := mem.Pg2bytes(pg)
	fb := &fakeReader{buf: bpg[:]}
	_ = off
	if _, err := vmi.file.mfile.mfops.Read(fb); err != 0 {
		mem.Physmem.Refdown(p_pg)
		return nil, 0, err
	}
	return pg, p_pg, 0
}

// Vmregion_t is the ordered collection of mapped regions that make up
// one address space, analogous to a VMA list: kept sorted by starting
// page number so Lookup is a binary search rather than a linear scan.
type Vmregion_t struct {
	sync.Mutex
	regions []*Vminfo_t
	novma   uint
}

// Lookup finds the region, if any, covering virtual address va.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	vr.Lock()
	defer vr.Unlock()
	pgn := va >> mem.PGSHIFT
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].end() > pgn
	})
	if i < len(vr.regions) && vr.regions[i].Pgn <= pgn {
		return vr.regions[i], true
	}
	return nil, false
}

// insert adds vmi to the region list, keeping it sorted by start page.
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	vr.Lock()
	defer vr.Unlock()
	if vmi.Mtype == VFILE && vmi.file.mfile != nil {
		vmi.file.mfile.mapcount = vmi.Pglen
	}
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn >= vmi.Pgn
	})
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
	vr.novma++
}

// empty finds a gap of at least minlen bytes at or after start,
// returning the gap's start address and size; used by mmap without a
// hint and by the exec-time stack/heap layout.
func (vr *Vmregion_t) empty(start, minlen uintptr) (uintptr, uintptr) {
	vr.Lock()
	defer vr.Unlock()
	cur := start
	for _, r := range vr.regions {
		rstart := r.Pgn << mem.PGSHIFT
		if rstart >= cur+minlen {
			break
		}
		rend := r.end() << mem.PGSHIFT
		if rend > cur {
			cur = rend
		}
	}
	return cur, ^uintptr(0) - cur
}

// Clear drops every region, releasing any file backing references.
func (vr *Vmregion_t) Clear() {
	vr.Lock()
	defer vr.Unlock()
	for _, r := range vr.regions {
		if r.Mtype == VFILE && r.file.mfile != nil {
			r.file.mfile.mfops.Close()
		}
	}
	vr.regions = nil
	vr.novma = 0
}

// Novma reports the number of distinct mapped regions (for the Novma
// rlimit).
func (vr *Vmregion_t) Novma() uint {
	vr.Lock()
	defer vr.Unlock()
	return vr.novma
}
