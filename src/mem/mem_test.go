package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"oommsg"
)

func freshPhysmem(t *testing.T, npages int) {
	t.Helper()
	Physmem = &Physmem_t{}
	PhysInit(Pa_t(0x80000000), npages, zap.NewNop())
}

func TestRefpgNewZeroed(t *testing.T) {
	freshPhysmem(t, 64)
	pg, pa, ok := Physmem.Refpg_new()
	assert.True(t, ok)
	assert.NotZero(t, pa)
	for _, w := range pg {
		assert.Zero(t, w)
	}
	assert.Equal(t, 1, Physmem.Refcnt(pa))
}

func TestRefupRefdown(t *testing.T) {
	freshPhysmem(t, 64)
	_, pa, ok := Physmem.Refpg_new()
	assert.True(t, ok)

	Physmem.Refup(pa)
	assert.Equal(t, 2, Physmem.Refcnt(pa))

	assert.False(t, Physmem.Refdown(pa)) // still one ref left
	assert.Equal(t, 1, Physmem.Refcnt(pa))

	assert.True(t, Physmem.Refdown(pa)) // last ref: page freed
}

func TestAllocContiguousReturnsPageAlignedRun(t *testing.T) {
	freshPhysmem(t, 64)
	pa, ok := Physmem.AllocContiguous(4)
	assert.True(t, ok)
	assert.Zero(t, uintptr(pa)%uintptr(PGSIZE))
}

func TestPgcountAccounting(t *testing.T) {
	freshPhysmem(t, 16)
	free0, used0 := Physmem.Pgcount()
	_, _, ok := Physmem.Refpg_new()
	assert.True(t, ok)
	free1, used1 := Physmem.Pgcount()
	assert.Equal(t, free0-1, free1)
	assert.Equal(t, used0+1, used1)
}

func TestExhaustionNotifiesOOMListenerAndRetries(t *testing.T) {
	freshPhysmem(t, 2)
	_, heldPa, ok := Physmem.Refpg_new() // consume the only frame the zero page left
	assert.True(t, ok)

	// buffer the channel so notifyOOM's non-blocking send always lands,
	// regardless of goroutine scheduling order.
	orig := oommsg.OomCh
	oommsg.OomCh = make(chan oommsg.Oommsg_t, 1)
	defer func() { oommsg.OomCh = orig }()

	done := make(chan bool)
	go func() {
		msg := <-oommsg.OomCh
		assert.Equal(t, 1, msg.Need)
		assert.True(t, Physmem.Refdown(heldPa)) // free the frame for the retry
		msg.Resume <- true
		done <- true
	}()

	_, _, ok = Physmem.Refpg_new()
	<-done
	assert.True(t, ok)
}

func TestMkPTEAndPteAddrRoundtrip(t *testing.T) {
	pa := Pa_t(0x80123000)
	pte := MkPTE(pa, PTE_R|PTE_W|PTE_U)
	assert.Equal(t, pa, PteAddr(pte))
	assert.NotZero(t, pte&PTE_V)
}
