package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

// buildMiniELF hand-assembles the smallest valid little-endian 64-bit
// EM_RISCV ET_EXEC ELF file with one PT_LOAD segment, enough for Load
// to parse without needing a real toolchain-built binary on disk.
func buildMiniELF(t *testing.T) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8)) // e_ident padding

	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.EV_CURRENT))
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))     // e_entry
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize))     // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))          // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))     // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))     // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))          // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shstrndx

	// one PT_LOAD program header, R|X, covering 0x1000 for one page.
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PF_R|elf.PF_X))
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize+phsize)) // p_offset
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))        // p_vaddr
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))        // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(4))              // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint64(4))              // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))         // p_align

	buf.Write([]byte{0x13, 0x00, 0x00, 0x00}) // one riscv NOP (addi x0,x0,0)

	return buf.Bytes()
}

func TestLoadParsesSegmentsAndEntry(t *testing.T) {
	data := buildMiniELF(t)
	img, err := Load(bytes.NewReader(data))
	assert.NoError(t, err)
	assert.EqualValues(t, 0x1000, img.Entry)
	assert.False(t, img.PIE)
	if assert.Len(t, img.Segments, 1) {
		seg := img.Segments[0]
		assert.EqualValues(t, 0x1000, seg.Vaddr)
		assert.EqualValues(t, 4, seg.Filesz)
	}
}

func TestLoadRejectsNonRiscv(t *testing.T) {
	data := buildMiniELF(t)
	data[18] = byte(elf.EM_X86_64) // e_machine low byte
	_, err := Load(bytes.NewReader(data))
	assert.Error(t, err)
}

// buildMiniELFWithHeaders is buildMiniELF but the one PT_LOAD segment
// starts at file offset 0, vaddr 0x1000 -- the conventional static-link
// layout where the ELF header and program header table are themselves
// part of the first loaded segment, so AT_PHDR has somewhere to point.
func buildMiniELFWithHeaders(t *testing.T) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56
	const segoff = 0
	const segvaddr = 0x1000

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.EV_CURRENT))
	binary.Write(&buf, binary.LittleEndian, uint64(segvaddr+ehsize+phsize)) // e_entry
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize))                 // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))                      // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))                      // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))                 // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))                 // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))                      // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))                      // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))                      // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))                      // e_shstrndx

	binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PF_R|elf.PF_X))
	binary.Write(&buf, binary.LittleEndian, uint64(segoff))
	binary.Write(&buf, binary.LittleEndian, uint64(segvaddr))
	binary.Write(&buf, binary.LittleEndian, uint64(segvaddr))
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize+phsize+4))
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize+phsize+4))
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))

	buf.Write([]byte{0x13, 0x00, 0x00, 0x00}) // one riscv NOP

	return buf.Bytes()
}

func TestLoadComputesAuxvFields(t *testing.T) {
	data := buildMiniELFWithHeaders(t)
	img, err := Load(bytes.NewReader(data))
	assert.NoError(t, err)
	assert.Equal(t, 1, img.PhNum)
	assert.EqualValues(t, 56, img.PhEntsize)
	assert.EqualValues(t, 0x1000+64, img.PhEntry, "phdr table sits right after the 64-byte ELF header within the loaded segment")
	assert.Empty(t, img.Interp, "statically linked image has no PT_INTERP")
}
