package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"elfload"
	"mem"
)

func TestLayoutStackBuildsAuxv(t *testing.T) {
	init := freshWorld(t)
	as := init.Vm
	as.Vmadd_anon(int(stackBot), int(stackBytes), mem.PTE_R|mem.PTE_W|mem.PTE_U)

	img := &elfload.Image{
		Entry:     0x1000,
		PhEntry:   0x1040,
		PhEntsize: 56,
		PhNum:     2,
	}

	sp, err := layoutStack(as, img, []string{"init"}, []string{"HOME=/"})
	assert.Zero(t, err)
	assert.NotZero(t, sp)
	assert.Zero(t, sp&0xf, "sp must be 16-byte aligned before the auxv/envp/argv vectors")

	argc, rerr := as.Userreadn(int(sp), 8)
	assert.Zero(t, rerr)
	assert.Equal(t, 1, argc)

	// Walk past argc, the one argv pointer, its NULL, the one envp
	// pointer and its NULL to reach the auxv vector's first pair.
	auxvBase := int(sp) + 8*(1+1+1+1+1)
	typ, rerr := as.Userreadn(auxvBase, 8)
	assert.Zero(t, rerr)
	assert.EqualValues(t, atPhdr, typ)
	val, rerr := as.Userreadn(auxvBase+8, 8)
	assert.Zero(t, rerr)
	assert.EqualValues(t, img.PhEntry, val)

	phnumOff := auxvBase + 8*4 // AT_PHDR, AT_PHENT pairs precede AT_PHNUM
	typ, rerr = as.Userreadn(phnumOff, 8)
	assert.Zero(t, rerr)
	assert.EqualValues(t, atPhnum, typ)
	val, rerr = as.Userreadn(phnumOff+8, 8)
	assert.Zero(t, rerr)
	assert.EqualValues(t, img.PhNum, val)
}
