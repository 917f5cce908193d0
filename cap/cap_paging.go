package cap

// This file covers the architectural (odd-tag) paging capability variants:
// Frame, PageTable, and — on architectures with a deeper paging hierarchy
// (AArch64) — PageDirectory, PageUpperDirectory, PageGlobalDirectory, plus
// ASIDPool. Their bit positions differ by architecture in ways that are not
// reducible to a single pointer-width parameter, so each accessor goes
// through the activeArch's pagingLayout table in arch.go rather than the
// generic layout used by cap_generic.go.

func getAt(words [2]uint64, p bitPos) uint64 {
	return getPtrField(words[p.word], p.offset, p.width, p.shift)
}

func setAt(words [2]uint64, p bitPos, value uint64) [2]uint64 {
	words[p.word] = setPtrField(words[p.word], p.offset, p.width, p.shift, value)
	return words
}

// VMRights mirrors the seL4 rights mask a Frame or ASID mapping carries.
type VMRights uint

const (
	VMNoAccess VMRights = iota
	VMReadOnly
	VMReadWrite
	VMKernelOnly
)

// FrameSize is the log2-index into the architecture's page size table that
// a Frame capability's capFSize field selects (4K/64K/2M/1G, architecture
// dependent); the core only threads the raw index through, never the
// concrete byte sizes, which are an MMU concern.
type FrameSize uint

// ---- Frame ----

func NewFrameCap(basePtr uint64, size FrameSize, rights VMRights, isDevice bool, mappedASID uint64, mappedAddress uint64) Cap {
	pl := activeArch.paging()
	c := Cap{}.setTag(FrameCap)
	c.words = setAt(c.words, pl.frameBasePtr, basePtr)
	c.words[0] = setField(c.words[0], pl.frameSize.offset, pl.frameSize.width, uint64(size))
	c.words[0] = setField(c.words[0], pl.frameVMRights.offset, pl.frameVMRights.width, uint64(rights))
	c.words[0] = setBool(c.words[0], pl.frameIsDevice.offset, isDevice)
	c.words = setAt(c.words, pl.frameMappedASID, mappedASID)
	c.words = setAt(c.words, pl.frameMappedAddress, mappedAddress)
	return c
}

func (c Cap) GetFrameBasePtr() uint64     { return getAt(c.words, activeArch.paging().frameBasePtr) }
func (c Cap) GetFrameSize() FrameSize {
	pl := activeArch.paging()
	return FrameSize(getField(c.words[0], pl.frameSize.offset, pl.frameSize.width))
}
func (c Cap) GetFrameVMRights() VMRights {
	pl := activeArch.paging()
	return VMRights(getField(c.words[0], pl.frameVMRights.offset, pl.frameVMRights.width))
}
func (c Cap) GetFrameIsDevice() bool {
	pl := activeArch.paging()
	return getField(c.words[0], pl.frameIsDevice.offset, 1) != 0
}
func (c Cap) GetFrameMappedASID() uint64 { return getAt(c.words, activeArch.paging().frameMappedASID) }
func (c Cap) GetFrameMappedAddress() uint64 {
	return getAt(c.words, activeArch.paging().frameMappedAddress)
}
func (c Cap) GetFrameIsMapped() bool { return c.GetFrameMappedASID() != 0 }

func (c Cap) SetFrameMappedASID(asid uint64) Cap {
	c.words = setAt(c.words, activeArch.paging().frameMappedASID, asid)
	return c
}
func (c Cap) SetFrameMappedAddress(addr uint64) Cap {
	c.words = setAt(c.words, activeArch.paging().frameMappedAddress, addr)
	return c
}
func (c Cap) SetFrameVMRights(r VMRights) Cap {
	pl := activeArch.paging()
	c.words[0] = setField(c.words[0], pl.frameVMRights.offset, pl.frameVMRights.width, uint64(r))
	return c
}

// ---- PageTable ----

func NewPageTableCap(basePtr uint64, isMapped bool, mappedASID uint64, mappedAddress uint64) Cap {
	pl := activeArch.paging()
	c := Cap{}.setTag(PageTableCap)
	c.words = setAt(c.words, pl.ptBasePtr, basePtr)
	c.words[0] = setBool(c.words[0], pl.ptIsMapped.offset, isMapped)
	c.words = setAt(c.words, pl.ptMappedASID, mappedASID)
	c.words = setAt(c.words, pl.ptMappedAddress, mappedAddress)
	return c
}

func (c Cap) GetPTBasePtr() uint64     { return getAt(c.words, activeArch.paging().ptBasePtr) }
func (c Cap) GetPTIsMapped() bool {
	pl := activeArch.paging()
	return getField(c.words[0], pl.ptIsMapped.offset, 1) != 0
}
func (c Cap) GetPTMappedASID() uint64    { return getAt(c.words, activeArch.paging().ptMappedASID) }
func (c Cap) GetPTMappedAddress() uint64 { return getAt(c.words, activeArch.paging().ptMappedAddress) }

func (c Cap) SetPTMappedASID(asid uint64) Cap {
	c.words = setAt(c.words, activeArch.paging().ptMappedASID, asid)
	return c
}
func (c Cap) SetPTMappedAddress(addr uint64) Cap {
	c.words = setAt(c.words, activeArch.paging().ptMappedAddress, addr)
	return c
}
func (c Cap) SetPTIsMapped(v bool) Cap {
	pl := activeArch.paging()
	c.words[0] = setBool(c.words[0], pl.ptIsMapped.offset, v)
	return c
}

// ---- PageDirectory (AArch64 only; callers must check Arch.HasPageDirLevels) ----

func NewPageDirectoryCap(basePtr uint64, isMapped bool, mappedASID uint64, mappedAddress uint64) Cap {
	pl := activeArch.paging()
	c := Cap{}.setTag(PageDirectoryCap)
	c.words = setAt(c.words, pl.pdBasePtr, basePtr)
	c.words[0] = setBool(c.words[0], pl.pdIsMapped.offset, isMapped)
	c.words = setAt(c.words, pl.pdMappedASID, mappedASID)
	c.words = setAt(c.words, pl.pdMappedAddress, mappedAddress)
	return c
}

func (c Cap) GetPDBasePtr() uint64 { return getAt(c.words, activeArch.paging().pdBasePtr) }
func (c Cap) GetPDIsMapped() bool {
	pl := activeArch.paging()
	return getField(c.words[0], pl.pdIsMapped.offset, 1) != 0
}
func (c Cap) GetPDMappedASID() uint64    { return getAt(c.words, activeArch.paging().pdMappedASID) }
func (c Cap) GetPDMappedAddress() uint64 { return getAt(c.words, activeArch.paging().pdMappedAddress) }

func (c Cap) SetPDMappedASID(asid uint64) Cap {
	c.words = setAt(c.words, activeArch.paging().pdMappedASID, asid)
	return c
}

// ---- PageUpperDirectory (AArch64 only) ----

func NewPageUpperDirectoryCap(basePtr uint64, isMapped bool, mappedASID uint64, mappedAddress uint64) Cap {
	pl := activeArch.paging()
	c := Cap{}.setTag(PageUpperDirectoryCap)
	c.words = setAt(c.words, pl.pudBasePtr, basePtr)
	c.words[0] = setBool(c.words[0], pl.pudIsMapped.offset, isMapped)
	c.words = setAt(c.words, pl.pudMappedASID, mappedASID)
	c.words = setAt(c.words, pl.pudMappedAddress, mappedAddress)
	return c
}

func (c Cap) GetPUDBasePtr() uint64 { return getAt(c.words, activeArch.paging().pudBasePtr) }
func (c Cap) GetPUDIsMapped() bool {
	pl := activeArch.paging()
	return getField(c.words[0], pl.pudIsMapped.offset, 1) != 0
}
func (c Cap) GetPUDMappedASID() uint64 { return getAt(c.words, activeArch.paging().pudMappedASID) }
func (c Cap) GetPUDMappedAddress() uint64 {
	return getAt(c.words, activeArch.paging().pudMappedAddress)
}

func (c Cap) SetPUDMappedASID(asid uint64) Cap {
	c.words = setAt(c.words, activeArch.paging().pudMappedASID, asid)
	return c
}

// ---- PageGlobalDirectory (AArch64 only; the vtable root) ----

func NewPageGlobalDirectoryCap(basePtr uint64, isMapped bool, mappedASID uint64) Cap {
	pl := activeArch.paging()
	c := Cap{}.setTag(PageGlobalDirectoryCap)
	c.words = setAt(c.words, pl.pgdBasePtr, basePtr)
	c.words[0] = setBool(c.words[0], pl.pgdIsMapped.offset, isMapped)
	c.words = setAt(c.words, pl.pgdMappedASID, mappedASID)
	return c
}

func (c Cap) GetPGDBasePtr() uint64 { return getAt(c.words, activeArch.paging().pgdBasePtr) }
func (c Cap) GetPGDIsMapped() bool {
	pl := activeArch.paging()
	return getField(c.words[0], pl.pgdIsMapped.offset, 1) != 0
}
func (c Cap) GetPGDMappedASID() uint64 { return getAt(c.words, activeArch.paging().pgdMappedASID) }

// IsVTableRoot reports whether c is the root of the architecture's virtual
// address translation hierarchy (the PageGlobalDirectory on AArch64, the
// top-level PageTable on RISC-V sv39, which has no separate PGD level).
func (c Cap) IsVTableRoot() bool {
	if activeArch.HasPageDirLevels() {
		return c.GetCapType() == PageGlobalDirectoryCap
	}
	return c.GetCapType() == PageTableCap
}

// IsValidNativeRoot reports whether c is a vtable root that is actually
// mapped, i.e. usable as a thread's top-level translation table.
func (c Cap) IsValidNativeRoot() bool {
	if !c.IsVTableRoot() {
		return false
	}
	if activeArch.HasPageDirLevels() {
		return c.GetPGDIsMapped()
	}
	return c.GetPTIsMapped()
}

// ---- ASIDPool ----

func NewASIDPoolCap(base uint64, pool uint64) Cap {
	pl := activeArch.paging()
	c := Cap{}.setTag(ASIDPoolCap)
	c.words[0] = setField(c.words[0], pl.asidBase.offset, pl.asidBase.width, base)
	c.words = setAt(c.words, pl.asidPool, pool)
	return c
}

func (c Cap) GetASIDBase() uint64 {
	pl := activeArch.paging()
	return getField(c.words[0], pl.asidBase.offset, pl.asidBase.width)
}
func (c Cap) GetASIDPool() uint64 { return getAt(c.words, activeArch.paging().asidPool) }

// ---- ASIDControl ----

func NewASIDControlCap() Cap { return Cap{}.setTag(ASIDControlCap) }
