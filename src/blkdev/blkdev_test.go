package blkdev

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fs"
	"mem"
)

type nopMem struct{}

func (nopMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) { return 0, &mem.Bytepg_t{}, true }
func (nopMem) Free(mem.Pa_t)                          {}
func (nopMem) Refup(mem.Pa_t)                          {}

func TestWriteThenReadRoundtrips(t *testing.T) {
	disk := MkRamdisk(16)
	b := fs.MkBlock_newpage(3, "test", nopMem{}, disk, nil)
	b.Data[0] = 0xab
	b.Data[1] = 0xcd
	b.Write()

	b2 := fs.MkBlock_newpage(3, "test", nopMem{}, disk, nil)
	b2.Read()
	assert.Equal(t, uint8(0xab), b2.Data[0])
	assert.Equal(t, uint8(0xcd), b2.Data[1])
}

func TestStatsCountReadsAndWrites(t *testing.T) {
	disk := MkRamdisk(4)
	b := fs.MkBlock_newpage(0, "s", nopMem{}, disk, nil)
	b.Write()
	b.Read()
	s := disk.Stats()
	assert.Contains(t, s, "reads=1")
	assert.Contains(t, s, "writes=1")
}

func TestLoadImageSeedsBlockZero(t *testing.T) {
	disk := MkRamdisk(4)
	img := make([]byte, fs.BSIZE)
	img[0] = 0x7f
	disk.LoadImage(img)

	b := fs.MkBlock_newpage(0, "boot", nopMem{}, disk, nil)
	b.Read()
	assert.Equal(t, uint8(0x7f), b.Data[0])
}
