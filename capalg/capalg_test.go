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

import (
	"testing"

	"github.com/nestybox/sysbox-libs/cspace/cap"
)

func TestSameRegionAsUntypedEnclosesFrame(t *testing.T) {
	u := cap.NewUntypedCap(0x1000, 16, false, 0) // 64KiB region at 0x1000
	f := cap.NewFrameCap(0x1000, 0, cap.VMReadWrite, false, 0, 0)
	if !SameRegionAs(u, f) {
		t.Errorf("SameRegionAs(untyped, frame-at-start): want true")
	}
	outside := cap.NewFrameCap(0x20000, 0, cap.VMReadWrite, false, 0, 0)
	if SameRegionAs(u, outside) {
		t.Errorf("SameRegionAs(untyped, frame-outside): want false")
	}
}

func TestSameObjectAsNeverMatchesUntyped(t *testing.T) {
	u1 := cap.NewUntypedCap(0x1000, 16, false, 0)
	u2 := cap.NewUntypedCap(0x1000, 16, false, 0)
	if SameObjectAs(u1, u2) {
		t.Errorf("SameObjectAs(untyped, untyped): want false, an Untyped is never same-object-as anything")
	}
}

func TestSameObjectAsIrqControlNeverMatchesHandler(t *testing.T) {
	ctrl := cap.NewIrqControlCap()
	h := cap.NewIrqHandlerCap(5)
	if SameObjectAs(ctrl, h) {
		t.Errorf("SameObjectAs(irqcontrol, irqhandler): want false")
	}
}

func TestIsCapRevocable(t *testing.T) {
	src := cap.NewEndpointCap(0x2000, 0, true, true, true, true)
	badged := src.SetEPBadge(7)
	if !IsCapRevocable(badged, src) {
		t.Errorf("a re-badged endpoint derived from an unbadged one must be revocable")
	}
	if IsCapRevocable(src, src) {
		t.Errorf("an endpoint with an unchanged badge must not be independently revocable")
	}

	u := cap.NewUntypedCap(0x3000, 12, false, 0)
	if !IsCapRevocable(u, u) {
		t.Errorf("Untyped capabilities are always revocable")
	}

	h := cap.NewIrqHandlerCap(3)
	ctrl := cap.NewIrqControlCap()
	if !IsCapRevocable(h, ctrl) {
		t.Errorf("an IrqHandler derived from IrqControl must be revocable")
	}
}

func TestUpdateDataEndpointBadge(t *testing.T) {
	ep := cap.NewEndpointCap(0x4000, 0, true, true, false, false)
	badged := UpdateData(ep, false, 0xabc)
	if badged.GetCapType() != cap.EndpointCap || badged.GetEPBadge() != 0xabc {
		t.Fatalf("UpdateData: got %v badge=%#x, want Endpoint badge=0xabc", badged.GetCapType(), badged.GetEPBadge())
	}

	alreadyBadged := ep.SetEPBadge(1)
	if got := UpdateData(alreadyBadged, false, 0xdef); got.GetCapType() != cap.NullCap {
		t.Errorf("UpdateData on an already-badged endpoint without preserve: want null cap, got %v", got.GetCapType())
	}
}

func TestUpdateDataCNodeGuard(t *testing.T) {
	cn := cap.NewCNodeCap(0x5000, 10, 0, 0)
	// guard=0x3, guard_size=4 packed per CNodeCapData's bit layout.
	packed := (uint64(0x3) << 6) | 4
	updated := UpdateData(cn, false, packed)
	if updated.GetCapType() != cap.CNodeCap {
		t.Fatalf("UpdateData(cnode): got %v, want CNode", updated.GetCapType())
	}
	if updated.GetCNodeGuardSize() != 4 || updated.GetCNodeGuard() != 0x3 {
		t.Errorf("UpdateData(cnode): guardSize=%d guard=%#x, want 4/0x3",
			updated.GetCNodeGuardSize(), updated.GetCNodeGuard())
	}
}

func TestUpdateDataCNodeGuardOverflowRejected(t *testing.T) {
	cn := cap.NewCNodeCap(0x5000, 60, 0, 0)
	packed := uint64(10) // guard_size=10, 60+10 > 64
	if got := UpdateData(cn, false, packed); got.GetCapType() != cap.NullCap {
		t.Errorf("UpdateData(cnode) overflow: want null cap, got %v", got.GetCapType())
	}
}

func TestDeriveCapZombieAndReplyBecomeNull(t *testing.T) {
	z := cap.NewZombieCap(0, 4, 0x6000)
	derived, st := DeriveCap(z, func() Status { return StatusNone })
	if !st.OK() || derived.GetCapType() != cap.NullCap {
		t.Errorf("DeriveCap(zombie): want null cap + OK, got %v, %v", derived.GetCapType(), st)
	}

	r := cap.NewReplyCap(0x7000, true, true)
	derived, st = DeriveCap(r, func() Status { return StatusNone })
	if !st.OK() || derived.GetCapType() != cap.NullCap {
		t.Errorf("DeriveCap(reply): want null cap + OK, got %v, %v", derived.GetCapType(), st)
	}
}

func TestDeriveCapUntypedConsultsEnsureNoChildren(t *testing.T) {
	u := cap.NewUntypedCap(0x8000, 12, false, 0)

	derived, st := DeriveCap(u, func() Status { return StatusNone })
	if !st.OK() || derived.GetCapType() != cap.UntypedCap {
		t.Errorf("DeriveCap(untyped, no children): want untyped survives, got %v, %v", derived.GetCapType(), st)
	}

	derived, st = DeriveCap(u, func() Status { return StatusSyscallError })
	if st.OK() || derived.GetCapType() != cap.NullCap {
		t.Errorf("DeriveCap(untyped, has children): want null cap + error, got %v, %v", derived.GetCapType(), st)
	}
}

func TestArchDeriveCapFrameScrubsMapping(t *testing.T) {
	prev := cap.CurrentArch()
	defer cap.SetArch(prev)

	cap.SetArch(cap.RISCV64)
	f := cap.NewFrameCap(0x9000, 0, cap.VMReadOnly, false, 3, 0xa000)
	derived, st := ArchDeriveCap(f)
	if !st.OK() || derived.GetFrameMappedASID() != 0 || derived.GetFrameMappedAddress() != 0 {
		t.Errorf("riscv64 ArchDeriveCap(frame): want asid=0 address=0, got asid=%d address=%#x",
			derived.GetFrameMappedASID(), derived.GetFrameMappedAddress())
	}

	cap.SetArch(cap.AArch64)
	f = cap.NewFrameCap(0x9000, 0, cap.VMReadOnly, false, 3, 0xa000)
	derived, st = ArchDeriveCap(f)
	if !st.OK() || derived.GetFrameMappedASID() != 0 {
		t.Errorf("aarch64 ArchDeriveCap(frame): want asid=0, got %d", derived.GetFrameMappedASID())
	}
	if derived.GetFrameMappedAddress() != 0xa000 {
		t.Errorf("aarch64 ArchDeriveCap(frame): mapped_address must survive, got %#x", derived.GetFrameMappedAddress())
	}
}

func TestArchDeriveCapRejectsUnmappedPageTable(t *testing.T) {
	prev := cap.CurrentArch()
	defer cap.SetArch(prev)
	cap.SetArch(cap.RISCV64)

	unmapped := cap.NewPageTableCap(0xb000, false, 0, 0)
	derived, st := ArchDeriveCap(unmapped)
	if st.OK() || derived.GetCapType() != cap.NullCap {
		t.Errorf("ArchDeriveCap(unmapped page table): want null cap + error, got %v, %v", derived.GetCapType(), st)
	}

	mapped := cap.NewPageTableCap(0xb000, true, 2, 0xc000)
	derived, st = ArchDeriveCap(mapped)
	if !st.OK() || derived.GetCapType() != cap.PageTableCap {
		t.Errorf("ArchDeriveCap(mapped page table): want survives, got %v, %v", derived.GetCapType(), st)
	}
}

// TestArchDeriveCapAArch64ChecksOwnMappingBit verifies the corrected
// dispatch: on AArch64, deriving a PageTable or PageDirectory capability
// checks THAT level's own is-mapped bit, not the PageUpperDirectory's.
func TestArchDeriveCapAArch64ChecksOwnMappingBit(t *testing.T) {
	prev := cap.CurrentArch()
	defer cap.SetArch(prev)
	cap.SetArch(cap.AArch64)

	pt := cap.NewPageTableCap(0xd000, true, 0, 0) // mapped PT, no ambient PUD state to confuse with
	if _, st := ArchDeriveCap(pt); !st.OK() {
		t.Errorf("mapped aarch64 PageTable must derive successfully regardless of any PUD state")
	}

	pd := cap.NewPageDirectoryCap(0xe000, true, 0, 0)
	if _, st := ArchDeriveCap(pd); !st.OK() {
		t.Errorf("mapped aarch64 PageDirectory must derive successfully regardless of any PUD state")
	}
}
