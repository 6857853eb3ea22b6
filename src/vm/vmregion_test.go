package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mem"
)

func mkvmi(pgn uintptr, pglen int) *Vminfo_t {
	return &Vminfo_t{Mtype: VANON, Pgn: pgn, Pglen: pglen, Perms: uint(mem.PTE_R | mem.PTE_W | mem.PTE_U)}
}

func TestVmregionLookupFindsCoveringRegion(t *testing.T) {
	var vr Vmregion_t
	vr.insert(mkvmi(0, 4))
	vr.insert(mkvmi(10, 2))

	vmi, ok := vr.Lookup(2 << mem.PGSHIFT)
	assert.True(t, ok)
	assert.Equal(t, uintptr(0), vmi.Pgn)

	vmi, ok = vr.Lookup(11 << mem.PGSHIFT)
	assert.True(t, ok)
	assert.Equal(t, uintptr(10), vmi.Pgn)
}

func TestVmregionLookupMissesGap(t *testing.T) {
	var vr Vmregion_t
	vr.insert(mkvmi(0, 4))
	vr.insert(mkvmi(10, 2))

	_, ok := vr.Lookup(6 << mem.PGSHIFT)
	assert.False(t, ok)
}

func TestVmregionInsertKeepsSortedOrder(t *testing.T) {
	var vr Vmregion_t
	vr.insert(mkvmi(20, 2))
	vr.insert(mkvmi(0, 2))
	vr.insert(mkvmi(10, 2))

	assert.Equal(t, uintptr(0), vr.regions[0].Pgn)
	assert.Equal(t, uintptr(10), vr.regions[1].Pgn)
	assert.Equal(t, uintptr(20), vr.regions[2].Pgn)
	assert.EqualValues(t, 3, vr.Novma())
}

func TestVmregionClearReleasesRegions(t *testing.T) {
	var vr Vmregion_t
	vr.insert(mkvmi(0, 4))
	vr.Clear()
	assert.EqualValues(t, 0, vr.Novma())
	_, ok := vr.Lookup(0)
	assert.False(t, ok)
}
