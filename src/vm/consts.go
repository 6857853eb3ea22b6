package vm

import "mem"

// Sv39 splits its 39-bit virtual address space in half by sign
// extension: addresses below 1<<38 are the (canonical, non-negated)
// user-reachable half, everything above is reserved for the kernel's
// direct map and image. USERMIN leaves page zero permanently unmapped
// as a guard against null-pointer dereferences, mirroring the teacher's
// null-page convention.
const USERMIN = mem.PGSIZE

// USERMAX is the first address not reachable by user mode.
const USERMAX = uintptr(1) << 38
