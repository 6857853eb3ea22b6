package mem

// Sv39 divides a 39-bit virtual address into three 9-bit indices (VPN[2],
// VPN[1], VPN[0]) plus a 12-bit page offset; this file walks that
// structure. It replaces the teacher's recursive VREC self-map (which
// needed a spare PML4 slot pointing at itself, a trick that only works
// with x86's 4-level tables) with ordinary Dmap-based walks: every
// page-table page is reached by looking up its physical address in a
// parent PTE and Dmap-ing it, exactly the way a TLB miss handler would.

/// vpn returns the 9-bit index into page-table level lvl (0 = leaf).
func vpn(va uintptr, lvl uint) uint {
	return uint((va >> (PGSHIFT + 9*lvl)) & 0x1ff)
}

/// Walk descends the Sv39 page table rooted at root to find (or, if
/// alloc is set, create) the leaf PTE slot mapping va. It returns nil if
/// the slot does not exist and alloc is false, or if an intermediate
/// allocation fails.
func (phys *Physmem_t) Walk(root Pa_t, va uintptr, alloc bool) *Pa_t {
	pm := pg2pmap(phys.Dmap(root))
	for lvl := uint(2); lvl > 0; lvl-- {
		pte := &pm[vpn(va, lvl)]
		if *pte&PTE_V == 0 {
			if !alloc {
				return nil
			}
			_, p_pg, ok := phys.Refpg_new()
			if !ok {
				return nil
			}
			*pte = MkPTE(p_pg, 0)
		}
		pm = pg2pmap(phys.Dmap(PteAddr(*pte)))
	}
	return &pm[vpn(va, 0)]
}

/// WalkNoAlloc is Walk without the ability to create missing
/// intermediate tables -- used by read-only lookups (page-fault
/// diagnosis, /proc-style introspection) that must not have a
/// allocation side effect.
func (phys *Physmem_t) WalkNoAlloc(root Pa_t, va uintptr) *Pa_t {
	return phys.Walk(root, va, false)
}

/// NewPtbl allocates a fresh, zeroed top-level Sv39 page table.
func (phys *Physmem_t) NewPtbl() (*Pmap_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new()
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(pg), p_pg, true
}

/// FreePtbl recursively frees every page-table page and leaf frame
/// reachable from root that is mapped with the user (PTE_U) bit set,
/// leaving global kernel mappings (shared by every address space) alone.
/// Mirrors the teacher's pmap-refcounting walk in dmap.go/_pmcount, but
/// drives frame reclamation directly through Refdown instead of a
/// separate dedicated pmap free-list.
func (phys *Physmem_t) FreePtbl(root Pa_t) {
	phys.freeLevel(root, 2)
}

func (phys *Physmem_t) freeLevel(p_pg Pa_t, lvl uint) {
	pm := pg2pmap(phys.Dmap(p_pg))
	for i := range pm {
		pte := pm[i]
		if pte&PTE_V == 0 {
			continue
		}
		child := PteAddr(pte)
		if lvl > 0 && pte&(PTE_R|PTE_W|PTE_X) == 0 {
			// non-leaf: Sv39 keeps U clear on these, so the leaves' own U
			// bit decides; the recursive call reclaims the table page itself
			phys.freeLevel(child, lvl-1)
			continue
		}
		if pte&PTE_U == 0 {
			continue
		}
		phys.Refdown(child)
	}
	phys.Refdown(p_pg)
}

/// CowClone builds a fresh top-level table sharing every user-mapped
/// leaf frame reachable from root with it: each writable leaf has its
/// W bit cleared and COW bit set in both the original and the new
/// table, and the shared frame's refcount is bumped once for the new
/// mapping, so the first write on either side faults into
/// Sys_pgfault's existing claim-or-copy path instead of getting a
/// silently stale second writer. Kernel-global entries (PTE_U clear)
/// are left alone, since every address space already shares those.
/// Returns the new root and false if frame allocation failed partway
/// (the partially built table is freed before returning).
func (phys *Physmem_t) CowClone(root Pa_t) (*Pmap_t, Pa_t, bool) {
	dst, p_dst, ok := phys.NewPtbl()
	if !ok {
		return nil, 0, false
	}
	if !phys.cowCloneLevel(root, p_dst, 2) {
		phys.FreePtbl(p_dst)
		return nil, 0, false
	}
	return dst, p_dst, true
}

func (phys *Physmem_t) cowCloneLevel(srcRoot, dstRoot Pa_t, lvl uint) bool {
	spm := pg2pmap(phys.Dmap(srcRoot))
	dpm := pg2pmap(phys.Dmap(dstRoot))
	for i := range spm {
		pte := spm[i]
		if pte&PTE_V == 0 {
			continue
		}
		isleaf := lvl == 0 || pte&(PTE_R|PTE_W|PTE_X) != 0
		// non-leaf entries never carry U under Sv39; only leaves are
		// told apart by it
		if isleaf && pte&PTE_U == 0 {
			continue
		}
		if !isleaf {
			_, p_child, ok := phys.Refpg_new()
			if !ok {
				return false
			}
			if !phys.cowCloneLevel(PteAddr(pte), p_child, lvl-1) {
				return false
			}
			dpm[i] = MkPTE(p_child, pte&0x3ff)
			continue
		}

		p_leaf := PteAddr(pte)
		flags := pte & 0x3ff
		if flags&PTE_W != 0 {
			// Clearing WASCOW along with setting COW matters: WASCOW
			// means "this frame was claimed exclusively, stop treating
			// it as shared" and Sys_pgfault short-circuits a write
			// fault on a WASCOW page without re-checking PTE_W. Fork
			// is re-sharing the frame, so that claim no longer holds.
			flags = (flags &^ (PTE_W | PTE_WASCOW)) | PTE_COW
			spm[i] = MkPTE(p_leaf, flags)
		}
		phys.Refup(p_leaf)
		dpm[i] = MkPTE(p_leaf, flags)
	}
	return true
}

/// satp builds the value destined for the supervisor address translation
/// and protection register: mode 8 selects Sv39, and the low 44 bits
/// carry the root page table's physical page number.
func Satp(root Pa_t, asid uint16) uint64 {
	const modeSv39 = uint64(8) << 60
	return modeSv39 | uint64(asid)<<44 | uint64(root>>Pa_t(PGSHIFT))
}
