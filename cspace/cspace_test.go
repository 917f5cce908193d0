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

package cspace

import (
	"testing"

	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/mdb"
)

func newArena(t *testing.T, n int) *mdb.Arena {
	t.Helper()
	a, err := mdb.NewArena(n)
	if err != nil {
		t.Fatalf("mdb.NewArena: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCteInsertLinksChild(t *testing.T) {
	a := newArena(t, 4)
	root, child := a.PtrAt(0), a.PtrAt(1)

	ep := cap.NewEndpointCap(0x1000, 0, true, true, true, true)
	a.Set(root, mdb.Slot{Cap: ep, Node: mdb.NewNode()})

	CteInsert(a, ep, root, child)

	rootSlot, childSlot := a.Get(root), a.Get(child)
	if rootSlot.Node.Next() != child {
		t.Errorf("root.Next() = %v, want %v", rootSlot.Node.Next(), child)
	}
	if childSlot.Node.Prev() != root {
		t.Errorf("child.Prev() = %v, want %v", childSlot.Node.Prev(), root)
	}
	if childSlot.Cap.GetCapType() != cap.EndpointCap {
		t.Errorf("child.Cap = %v, want Endpoint", childSlot.Cap.GetCapType())
	}
	if childSlot.Node.Revocable() {
		t.Errorf("an unbadged endpoint re-derived identically should not be revocable")
	}
}

func TestCteInsertPanicsOnNonEmptyDest(t *testing.T) {
	a := newArena(t, 4)
	root, dest := a.PtrAt(0), a.PtrAt(1)
	ep := cap.NewEndpointCap(0x1000, 0, true, true, true, true)
	a.Set(root, mdb.Slot{Cap: ep})
	a.Set(dest, mdb.Slot{Cap: ep})

	defer func() {
		if recover() == nil {
			t.Fatalf("CteInsert into non-empty destination: expected panic")
		}
	}()
	CteInsert(a, ep, root, dest)
}

func TestCteInsertMarksUntypedSourceFull(t *testing.T) {
	a := newArena(t, 4)
	root, child := a.PtrAt(0), a.PtrAt(1)
	u := cap.NewUntypedCap(0x2000, 16, false, 0)
	a.Set(root, mdb.Slot{Cap: u})

	CteInsert(a, u, root, child)

	rootSlot := a.Get(root)
	if got := rootSlot.Cap.GetUntypedFreeIndex(); got != cap.MaxFreeIndex(16) {
		t.Errorf("source untyped free_index = %d, want %d (fully consumed)", got, cap.MaxFreeIndex(16))
	}
}

func TestInsertNewCapBootstrapsRevocableChild(t *testing.T) {
	a := newArena(t, 4)
	parent, slot := a.PtrAt(0), a.PtrAt(1)
	root := cap.NewCNodeCap(0, 4, 0, 0)
	a.Set(parent, mdb.Slot{Cap: root})

	child := cap.NewThreadCap(0x3000)
	InsertNewCap(a, parent, slot, child)

	s := a.Get(slot)
	if !s.Node.Revocable() || !s.Node.FirstBadged() {
		t.Errorf("InsertNewCap: want revocable+first_badged both set, got %v/%v", s.Node.Revocable(), s.Node.FirstBadged())
	}
	if a.Get(parent).Node.Next() != slot {
		t.Errorf("InsertNewCap: parent.Next() = %v, want %v", a.Get(parent).Node.Next(), slot)
	}
}

func TestCteMoveRelocatesPositionAndEmptiesSource(t *testing.T) {
	a := newArena(t, 4)
	parent, src, dest := a.PtrAt(0), a.PtrAt(1), a.PtrAt(2)
	root := cap.NewCNodeCap(0, 4, 0, 0)
	a.Set(parent, mdb.Slot{Cap: root})

	c := cap.NewThreadCap(0x4000)
	InsertNewCap(a, parent, src, c)

	CteMove(a, c, src, dest)

	if !a.Get(src).IsEmpty() {
		t.Errorf("CteMove: source slot should be empty afterwards")
	}
	if a.Get(dest).Cap.GetCapType() != cap.ThreadCap {
		t.Errorf("CteMove: dest should hold the moved capability")
	}
	if a.Get(parent).Node.Next() != dest {
		t.Errorf("CteMove: parent.Next() should now point at dest, got %v", a.Get(parent).Node.Next())
	}
}

func TestCteSwapExchangesCapsAndRelinks(t *testing.T) {
	a := newArena(t, 4)
	p1, p2, s1, s2 := a.PtrAt(0), a.PtrAt(1), a.PtrAt(2), a.PtrAt(3)
	root1 := cap.NewCNodeCap(0, 4, 0, 0)
	root2 := cap.NewCNodeCap(0, 4, 0, 1)
	a.Set(p1, mdb.Slot{Cap: root1})
	a.Set(p2, mdb.Slot{Cap: root2})

	c1 := cap.NewThreadCap(0x5000)
	c2 := cap.NewThreadCap(0x6000)
	InsertNewCap(a, p1, s1, c1)
	InsertNewCap(a, p2, s2, c2)

	CteSwap(a, a.Get(s1).Cap, s1, a.Get(s2).Cap, s2)

	if a.Get(s1).Cap.GetTCBPtr() != 0x6000 {
		t.Errorf("CteSwap: s1 should now hold c2's ptr, got %#x", a.Get(s1).Cap.GetTCBPtr())
	}
	if a.Get(s2).Cap.GetTCBPtr() != 0x5000 {
		t.Errorf("CteSwap: s2 should now hold c1's ptr, got %#x", a.Get(s2).Cap.GetTCBPtr())
	}
	if a.Get(p1).Node.Next() != s2 {
		t.Errorf("CteSwap: p1.Next() should now reference s2 (holding c1's old slot), got %v", a.Get(p1).Node.Next())
	}
	if a.Get(p2).Node.Next() != s1 {
		t.Errorf("CteSwap: p2.Next() should now reference s1, got %v", a.Get(p2).Node.Next())
	}
}

func TestSetEmptyUnlinksAndFiresCallback(t *testing.T) {
	a := newArena(t, 4)
	parent, slot := a.PtrAt(0), a.PtrAt(1)
	root := cap.NewCNodeCap(0, 4, 0, 0)
	a.Set(parent, mdb.Slot{Cap: root})

	c := cap.NewIrqHandlerCap(9)
	InsertNewCap(a, parent, slot, c)

	var firedWith cap.Cap
	SetEmpty(a, slot, c, func(cleanup cap.Cap) { firedWith = cleanup })

	if !a.Get(slot).IsEmpty() {
		t.Errorf("SetEmpty: slot should be empty afterwards")
	}
	if a.Get(parent).Node.Next() != 0 {
		t.Errorf("SetEmpty: parent.Next() should be unlinked, got %v", a.Get(parent).Node.Next())
	}
	if firedWith.GetCapType() != cap.IrqHandlerCap {
		t.Errorf("SetEmpty: postCapDeletion callback did not receive cleanupInfo")
	}
}

func TestSetEmptyPropagatesFirstBadged(t *testing.T) {
	a := newArena(t, 4)
	parent, mid, tail := a.PtrAt(0), a.PtrAt(1), a.PtrAt(2)
	root := cap.NewCNodeCap(0, 4, 0, 0)
	a.Set(parent, mdb.Slot{Cap: root})

	ep := cap.NewEndpointCap(0x7000, 5, true, true, true, true)
	InsertNewCap(a, parent, mid, ep)
	CteInsert(a, ep, mid, tail)

	if a.Get(tail).Node.FirstBadged() {
		t.Fatalf("setup: tail copies mid's badge, so it should start as not first badged")
	}

	SetEmpty(a, mid, cap.NewNullCap(), nil)

	if !a.Get(tail).Node.FirstBadged() {
		t.Errorf("SetEmpty: removing the prior first-badged slot must propagate the flag forward")
	}
}

func TestIsFinalCapAndEnsureNoChildren(t *testing.T) {
	a := newArena(t, 4)
	parent, child := a.PtrAt(0), a.PtrAt(1)
	// is_mdb_parent_of also requires same_region_as to hold between parent
	// and child, so parent must be a physical capability enclosing child's
	// region (here, a larger Untyped enclosing a smaller one) rather than
	// an unrelated CNode. Revocable must be set on parent's own node since
	// this slot was never itself derived via cte_insert.
	enclosing := cap.NewUntypedCap(0x8000, 16, false, 0)
	a.Set(parent, mdb.Slot{Cap: enclosing, Node: mdb.NewNode().SetRevocable(true)})

	u := cap.NewUntypedCap(0x8000, 12, false, 0)
	InsertNewCap(a, parent, child, u)

	if !IsFinalCap(a, child) {
		t.Errorf("IsFinalCap: lone reference should be final")
	}

	if st := EnsureNoChildren(a, parent); st != StatusSyscallError {
		t.Errorf("EnsureNoChildren(parent with child): got %v, want SyscallError", st)
	}
	if st := EnsureNoChildren(a, child); st != StatusNone {
		t.Errorf("EnsureNoChildren(leaf): got %v, want None", st)
	}
}

func TestIsLongRunningDeleteOnlyForFinalCNodeThreadZombie(t *testing.T) {
	a := newArena(t, 4)
	parent, slot := a.PtrAt(0), a.PtrAt(1)
	root := cap.NewCNodeCap(0, 4, 0, 0)
	a.Set(parent, mdb.Slot{Cap: root})

	thread := cap.NewThreadCap(0x9000)
	InsertNewCap(a, parent, slot, thread)

	if !IsLongRunningDelete(a, slot) {
		t.Errorf("IsLongRunningDelete: final Thread cap should be long-running")
	}

	ep := cap.NewEndpointCap(0xa000, 0, true, true, true, true)
	a.Set(slot, mdb.Slot{Cap: ep})
	if IsLongRunningDelete(a, slot) {
		t.Errorf("IsLongRunningDelete: Endpoint cap should never be long-running")
	}
}
