// Package elfload parses riscv64 ET_EXEC/ET_DYN ELF images for exec(2),
// translating PT_LOAD segments into the mem/vm permission and mapping
// vocabulary the proc package's exec path consumes. Grounded on
// cmd/chentry's use of debug/elf (the only ELF-handling code retrieved
// from the teacher), generalized from a one-field patcher into a full
// loader the way the teacher's own kernel/sys.go would call into an
// ELF-loading helper at exec time.
package elfload

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"mem"
)

// elf64PhoffOff/elf64PhentsizeOff are the byte offsets of e_phoff and
// e_phentsize within an ELF64 file header -- fixed by the ELF64 ABI,
// not retrieved by debug/elf (which parses program headers but doesn't
// re-expose the header fields that located them). Needed to compute
// AT_PHDR, since that's an in-memory address the loader derives from
// the on-disk phoff, not something elf.Prog ever carries.
const (
	elf64PhoffOff     = 32
	elf64PhentsizeOff = 54
)

/// Segment describes one PT_LOAD program header translated into the
/// kernel's page-permission vocabulary.
type Segment struct {
	Vaddr  uintptr
	Filesz int64
	Memsz  int64
	Off    int64
	Perms  mem.Pa_t // PTE_R/PTE_W/PTE_X, already ORed with PTE_U
}

/// Image is a parsed executable ready to be mapped into a fresh address
/// space: its entry point, its PT_LOAD segments in file order, the
/// program header table's in-memory address/entry size/count (needed
/// to build AT_PHDR/AT_PHENT/AT_PHNUM for the auxiliary vector), and
/// (for position-independent/ET_DYN binaries) whether the loader must
/// choose a base address. Interp is the PT_INTERP requested dynamic
/// linker path, empty for a statically linked executable.
type Image struct {
	Entry     uintptr
	PhEntry   uintptr
	PhEntsize int
	PhNum     int
	Segments  []Segment
	PIE       bool
	Interp    string
}

/// Load parses r as a riscv64 ELF executable, returning its segments
/// and entry point. It rejects anything that is not a little-endian
/// EM_RISCV ET_EXEC/ET_DYN binary -- the same class of check
/// cmd/chentry performs before it will touch a file, generalized from a
/// single EM_RISCV/ET_EXEC check to accept position-independent
/// binaries too.
func Load(r io.ReaderAt) (*Image, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elfload: %w", err)
	}
	if ef.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elfload: not a 64-bit elf")
	}
	if ef.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("elfload: not little-endian")
	}
	if ef.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfload: not a riscv64 elf")
	}
	pie := false
	switch ef.Type {
	case elf.ET_EXEC:
	case elf.ET_DYN:
		pie = true
	default:
		return nil, fmt.Errorf("elfload: not an executable elf")
	}

	phoff, phentsize := elfHeaderFields(r)

	img := &Image{
		Entry:     uintptr(ef.Entry),
		PIE:       pie,
		PhEntsize: int(phentsize),
		PhNum:     len(ef.Progs),
	}
	for _, p := range ef.Progs {
		switch p.Type {
		case elf.PT_INTERP:
			buf := make([]byte, p.Filesz)
			if _, err := r.ReadAt(buf, int64(p.Off)); err == nil || err == io.EOF {
				img.Interp = stripNul(buf)
			}
			continue
		case elf.PT_LOAD:
		default:
			continue
		}

		var perms mem.Pa_t = mem.PTE_U
		if p.Flags&elf.PF_R != 0 {
			perms |= mem.PTE_R
		}
		if p.Flags&elf.PF_W != 0 {
			perms |= mem.PTE_W
		}
		if p.Flags&elf.PF_X != 0 {
			perms |= mem.PTE_X
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr:  uintptr(p.Vaddr),
			Filesz: int64(p.Filesz),
			Memsz:  int64(p.Memsz),
			Off:    int64(p.Off),
			Perms:  perms,
		})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("elfload: no PT_LOAD segments")
	}
	img.PhEntry = phdrVaddr(phoff, img.Segments)
	return img, nil
}

// elfHeaderFields reads e_phoff and e_phentsize directly out of the
// ELF64 file header: debug/elf parses program headers into elf.Prog
// but doesn't re-expose the header fields that located them on disk,
// and AT_PHDR needs the in-memory address those headers load at, which
// can only be derived from the on-disk phoff.
func elfHeaderFields(r io.ReaderAt) (phoff int64, phentsize uint16) {
	var hdr [64]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return 0, 0
	}
	phoff = int64(binary.LittleEndian.Uint64(hdr[elf64PhoffOff:]))
	phentsize = binary.LittleEndian.Uint16(hdr[elf64PhentsizeOff:])
	return phoff, phentsize
}

// phdrVaddr locates the in-memory address of the program header table
// by finding the PT_LOAD segment whose file range covers e_phoff and
// translating that file offset into the segment's virtual address --
// the same "headers are part of the first loaded segment" assumption
// every conventionally linked (non-PIE) ELF satisfies.
func phdrVaddr(phoff int64, segs []Segment) uintptr {
	for _, s := range segs {
		if phoff >= s.Off && phoff < s.Off+s.Filesz {
			return s.Vaddr + uintptr(phoff-s.Off)
		}
	}
	if len(segs) > 0 {
		return segs[0].Vaddr
	}
	return 0
}

func stripNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
