//
// Copyright 2020-2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package capalg

import "github.com/nestybox/sysbox-libs/cspace/cap"

// archSameObjectAs handles the paging-capability pair that needs stricter
// equality than region overlap: two Frames name the same object only when
// they also agree on size and device-ness, not merely on overlapping range.
func archSameObjectAs(a, b cap.Cap) bool {
	if a.GetCapType() == cap.FrameCap && b.GetCapType() == cap.FrameCap {
		return a.GetFrameBasePtr() == b.GetFrameBasePtr() &&
			a.GetFrameSize() == b.GetFrameSize() &&
			a.GetFrameIsDevice() == b.GetFrameIsDevice()
	}
	return archSameRegionAs(a, b)
}

// archSameRegionAs is the paging half of SameRegionAs, covering the
// variants that only exist behind IsArchCap: Frame, the paging-structure
// levels (PageTable always, PageDirectory/PageUpperDirectory/
// PageGlobalDirectory on architectures with HasPageDirLevels), ASIDControl
// and ASIDPool.
func archSameRegionAs(a, b cap.Cap) bool {
	switch a.GetCapType() {
	case cap.FrameCap:
		if b.GetCapType() != cap.FrameCap {
			return false
		}
		botA, botB := a.GetFrameBasePtr(), b.GetFrameBasePtr()
		topA := botA + pageBitsMask(a.GetFrameSize())
		topB := botB + pageBitsMask(b.GetFrameSize())
		return botA <= botB && topA >= topB && botB <= topB

	case cap.PageTableCap:
		return b.GetCapType() == cap.PageTableCap && a.GetPTBasePtr() == b.GetPTBasePtr()

	case cap.PageDirectoryCap:
		return b.GetCapType() == cap.PageDirectoryCap && a.GetPDBasePtr() == b.GetPDBasePtr()

	case cap.PageUpperDirectoryCap:
		return b.GetCapType() == cap.PageUpperDirectoryCap && a.GetPUDBasePtr() == b.GetPUDBasePtr()

	case cap.PageGlobalDirectoryCap:
		return b.GetCapType() == cap.PageGlobalDirectoryCap && a.GetPGDBasePtr() == b.GetPGDBasePtr()

	case cap.ASIDControlCap:
		return b.GetCapType() == cap.ASIDControlCap

	case cap.ASIDPoolCap:
		return b.GetCapType() == cap.ASIDPoolCap && a.GetASIDPool() == b.GetASIDPool()

	default:
		panic("capalg: arch_same_region_as on an unknown capability type")
	}
}

// pageBitsForSize maps a Frame's size index to its log2 byte size. The
// concrete page-size table is an MMU concern outside this core; callers
// that need the real architecture table install one via SetPageBitsTable.
var pageBitsTable = map[cap.Arch][]uint{
	cap.RISCV64: {12, 21, 30},     // 4K, 2M, 1G
	cap.AArch64: {12, 16, 21, 25, 30, 34}, // 4K, 64K, 2M, 32M, 1G, 16G (superset; unused entries ignored)
}

// SetPageBitsTable overrides the log2-bytes-per-FrameSize table consulted
// by region-overlap checks for the given architecture.
func SetPageBitsTable(a cap.Arch, bits []uint) {
	pageBitsTable[a] = bits
}

func pageBitsForSize(size cap.FrameSize) uint {
	table := pageBitsTable[cap.CurrentArch()]
	idx := int(size)
	if idx < 0 || idx >= len(table) {
		return 12
	}
	return table[idx]
}

func pageBitsMask(size cap.FrameSize) uint64 {
	return mask(pageBitsForSize(size))
}

// ArchDeriveCap computes the derived capability for an architectural
// (odd-tag) source capability.
//
// The AArch64 mapping hierarchy's PageTable, PageDirectory and
// PageUpperDirectory capabilities are all gated the same way: a derived
// reference to an unmapped paging structure is rejected, because deriving
// before the structure is attached to a vtable would let a second
// reference observe a mapping the first reference's owner never
// installed. Each level must check its OWN is-mapped bit for that to hold.
func ArchDeriveCap(src cap.Cap) (cap.Cap, Status) {
	switch src.GetCapType() {
	case cap.PageGlobalDirectoryCap:
		if src.GetPGDIsMapped() {
			return src, StatusNone
		}
		return cap.NewNullCap(), StatusSyscallError

	case cap.PageUpperDirectoryCap:
		if src.GetPUDIsMapped() {
			return src, StatusNone
		}
		return cap.NewNullCap(), StatusSyscallError

	case cap.PageDirectoryCap:
		if src.GetPDIsMapped() {
			return src, StatusNone
		}
		return cap.NewNullCap(), StatusSyscallError

	case cap.PageTableCap:
		if src.GetPTIsMapped() {
			return src, StatusNone
		}
		return cap.NewNullCap(), StatusSyscallError

	case cap.FrameCap:
		newCap := src.SetFrameMappedASID(0)
		if !cap.CurrentArch().HasPageDirLevels() {
			newCap = newCap.SetFrameMappedAddress(0)
		}
		return newCap, StatusNone

	case cap.ASIDControlCap, cap.ASIDPoolCap:
		return src, StatusNone

	default:
		return cap.NewNullCap(), StatusSyscallError
	}
}
