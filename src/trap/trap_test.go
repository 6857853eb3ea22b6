package trap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRearmOnlyAfterTimerCause(t *testing.T) {
	assert.False(t, Rearm(false))
	assert.True(t, Rearm(true))
}

func TestPgfaultEcodeMarksWriteOnStoreFault(t *testing.T) {
	assert.NotZero(t, pgfaultEcode(CauseStorePageFault)&uintptr(0x4)) // mem.PTE_W bit
	assert.Zero(t, pgfaultEcode(CauseLoadPageFault)&uintptr(0x4))
}
