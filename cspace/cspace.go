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

// Package cspace implements the CSpace address space's slot-mutation
// protocol: inserting, moving and swapping capabilities while keeping the
// mapping database's doubly-linked derivation list consistent, and the
// parent/sibling/final-capability predicates the deletion engine in
// package zombie drives its recursion from.
package cspace

import (
	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/capalg"
	"github.com/nestybox/sysbox-libs/cspace/mdb"
)

// Status re-exports capalg's outcome taxonomy so callers need not import
// both packages for a single return type.
type Status = capalg.Status

const (
	StatusNone         = capalg.StatusNone
	StatusSyscallError = capalg.StatusSyscallError
	StatusLookupFault  = capalg.StatusLookupFault
	StatusPreempted    = capalg.StatusPreempted
)

// IsMdbParentOf reports whether the slot at self is the mapping-database
// parent of the slot at next: self must be marked revocable, the two
// capabilities must occupy the same region, and for Endpoint and
// Notification capabilities, either self's badge is unset or next's badge
// must match self's badge and next must not be the first derivative to
// carry that badge.
func IsMdbParentOf(a *mdb.Arena, self, next mdb.Ptr) bool {
	s, n := a.Get(self), a.Get(next)
	if !s.Node.Revocable() {
		return false
	}
	if !capalg.SameRegionAs(s.Cap, n.Cap) {
		return false
	}
	switch s.Cap.GetCapType() {
	case cap.EndpointCap:
		badge := s.Cap.GetEPBadge()
		if badge == 0 {
			return true
		}
		return badge == n.Cap.GetEPBadge() && !n.Node.FirstBadged()

	case cap.NotificationCap:
		badge := s.Cap.GetNtfnBadge()
		if badge == 0 {
			return true
		}
		return badge == n.Cap.GetNtfnBadge() && !n.Node.FirstBadged()

	default:
		return true
	}
}

// IsFinalCap reports whether the slot at self holds the last surviving
// reference to its kernel object: neither its mapping-database predecessor
// nor successor may reference the same object.
func IsFinalCap(a *mdb.Arena, self mdb.Ptr) bool {
	s := a.Get(self)
	if prev := s.Node.Prev(); prev != 0 {
		if capalg.SameObjectAs(a.Get(prev).Cap, s.Cap) {
			return false
		}
	}
	if next := s.Node.Next(); next != 0 {
		return !capalg.SameObjectAs(s.Cap, a.Get(next).Cap)
	}
	return true
}

// EnsureNoChildren returns StatusSyscallError when the slot at self has a
// mapping-database child (used to veto deriving further from an Untyped
// that has already been retyped into something); StatusNone otherwise.
func EnsureNoChildren(a *mdb.Arena, self mdb.Ptr) Status {
	s := a.Get(self)
	if next := s.Node.Next(); next != 0 {
		if IsMdbParentOf(a, self, next) {
			return StatusSyscallError
		}
	}
	return StatusNone
}

// IsLongRunningDelete reports whether deleting the capability at self may
// take an unbounded number of steps and so must be interruptible at
// preemption points: true for the final reference to a Thread, Zombie or
// CNode.
func IsLongRunningDelete(a *mdb.Arena, self mdb.Ptr) bool {
	s := a.Get(self)
	if s.Cap.GetCapType() == cap.NullCap || !IsFinalCap(a, self) {
		return false
	}
	switch s.Cap.GetCapType() {
	case cap.ThreadCap, cap.ZombieCap, cap.CNodeCap:
		return true
	default:
		return false
	}
}

// setUntypedCapAsFull marks srcCap's slot as having no free space left
// when newCap is an Untyped retyped from the very same region: this stops
// the same memory from being retyped a second time through the stale
// source capability's free_index.
func setUntypedCapAsFull(srcCap, newCap cap.Cap, srcSlotPtr mdb.Ptr, a *mdb.Arena) {
	if srcCap.GetCapType() != cap.UntypedCap || newCap.GetCapType() != cap.UntypedCap {
		return
	}
	if srcCap.GetUntypedPtr() == newCap.GetUntypedPtr() &&
		srcCap.GetUntypedBlockSize() == newCap.GetUntypedBlockSize() {
		slot := a.Get(srcSlotPtr)
		slot.Cap = slot.Cap.SetUntypedFreeIndex(cap.MaxFreeIndex(srcCap.GetUntypedBlockSize()))
		a.Set(srcSlotPtr, slot)
	}
}

// CteInsert installs newCap at dest as a mapping-database child of src.
// dest must be empty. newCap's revocable and first-badged flags are
// derived from whether it differs from src's own capability (is_cap_revocable).
func CteInsert(a *mdb.Arena, newCap cap.Cap, src, dest mdb.Ptr) {
	srcSlot := a.Get(src)
	destSlot := a.Get(dest)
	if destSlot.Cap.GetCapType() != cap.NullCap {
		panic("cspace: cteInsert to non-empty destination")
	}
	if destSlot.Node.Next() != 0 || destSlot.Node.Prev() != 0 {
		panic("cspace: cteInsert: mdb entry must be empty")
	}

	revocable := capalg.IsCapRevocable(newCap, srcSlot.Cap)
	newNode := srcSlot.Node.SetPrev(src).SetRevocable(revocable).SetFirstBadged(revocable)

	setUntypedCapAsFull(srcSlot.Cap, newCap, src, a)
	srcSlot = a.Get(src) // setUntypedCapAsFull may have mutated the source slot

	destSlot.Cap = newCap
	destSlot.Node = newNode
	a.Set(dest, destSlot)

	srcSlot.Node = srcSlot.Node.SetNext(dest)
	a.Set(src, srcSlot)

	if next := newNode.Next(); next != 0 {
		n := a.Get(next)
		n.Node = n.Node.SetPrev(dest)
		a.Set(next, n)
	}
}

// InsertNewCap installs cap at slot as a fresh mapping-database child of
// parent, without consulting is_cap_revocable: used during bootstrap when
// every inserted capability is, by construction, the first and only
// derivative (both revocable and first-badged are set unconditionally).
func InsertNewCap(a *mdb.Arena, parent, slot mdb.Ptr, c cap.Cap) {
	p := a.Get(parent)
	next := p.Node.Next()

	s := mdb.Slot{
		Cap:  c,
		Node: mdb.NewNode().SetNext(next).SetRevocable(true).SetFirstBadged(true).SetPrev(parent),
	}
	a.Set(slot, s)

	if next != 0 {
		n := a.Get(next)
		n.Node = n.Node.SetPrev(slot)
		a.Set(next, n)
	}

	p.Node = p.Node.SetNext(slot)
	a.Set(parent, p)
}

// CteMove relocates src's capability and mapping-database position to
// dest, emptying src in place: unlike CteInsert, dest takes over src's
// spot in the derivation list rather than becoming a new child of it.
func CteMove(a *mdb.Arena, newCap cap.Cap, src, dest mdb.Ptr) {
	srcSlot := a.Get(src)
	destSlot := a.Get(dest)
	if destSlot.Cap.GetCapType() != cap.NullCap {
		panic("cspace: cteMove to non-empty destination")
	}
	if destSlot.Node.Next() != 0 || destSlot.Node.Prev() != 0 {
		panic("cspace: cteMove: mdb entry must be empty")
	}

	node := srcSlot.Node

	a.Set(dest, mdb.Slot{Cap: newCap, Node: node})
	a.Set(src, mdb.Slot{Cap: cap.NewNullCap(), Node: mdb.NewNode()})

	if prev := node.Prev(); prev != 0 {
		p := a.Get(prev)
		p.Node = p.Node.SetNext(dest)
		a.Set(prev, p)
	}
	if next := node.Next(); next != 0 {
		n := a.Get(next)
		n.Node = n.Node.SetPrev(dest)
		a.Set(next, n)
	}
}

// CteSwap exchanges the capabilities and mapping-database positions of
// slot1 and slot2 in place, re-pointing their former neighbours at the new
// occupants.
func CteSwap(a *mdb.Arena, cap1 cap.Cap, slot1 mdb.Ptr, cap2 cap.Cap, slot2 mdb.Ptr) {
	s1 := a.Get(slot1)
	s2 := a.Get(slot2)
	mdb1, mdb2 := s1.Node, s2.Node

	if prev := mdb1.Prev(); prev != 0 {
		p := a.Get(prev)
		p.Node = p.Node.SetNext(slot2)
		a.Set(prev, p)
	}
	if next := mdb1.Next(); next != 0 {
		n := a.Get(next)
		n.Node = n.Node.SetPrev(slot2)
		a.Set(next, n)
	}

	a.Set(slot1, mdb.Slot{Cap: cap2, Node: mdb2})
	a.Set(slot2, mdb.Slot{Cap: cap1, Node: mdb1})

	if prev := mdb2.Prev(); prev != 0 {
		p := a.Get(prev)
		p.Node = p.Node.SetNext(slot1)
		a.Set(prev, p)
	}
	if next := mdb2.Next(); next != 0 {
		n := a.Get(next)
		n.Node = n.Node.SetPrev(slot1)
		a.Set(next, n)
	}
}

// PostCapDeletionFunc is invoked by SetEmpty with whatever cleanup
// information the finalised capability produced (e.g. an IRQ to mask); the
// core never interprets this payload itself.
type PostCapDeletionFunc func(cleanupInfo cap.Cap)

// SetEmpty unlinks the slot at self from the mapping database and clears
// it, then invokes postCapDeletion with cleanupInfo. A no-op if the slot
// is already empty.
func SetEmpty(a *mdb.Arena, self mdb.Ptr, cleanupInfo cap.Cap, postCapDeletion PostCapDeletionFunc) {
	s := a.Get(self)
	if s.Cap.GetCapType() == cap.NullCap {
		return
	}
	node := s.Node
	prev, next := node.Prev(), node.Next()

	if prev != 0 {
		p := a.Get(prev)
		p.Node = p.Node.SetNext(next)
		a.Set(prev, p)
	}
	if next != 0 {
		n := a.Get(next)
		n.Node = n.Node.SetPrev(prev)
		n.Node = n.Node.SetFirstBadged(n.Node.FirstBadged() || node.FirstBadged())
		a.Set(next, n)
	}

	a.Set(self, mdb.Slot{Cap: cap.NewNullCap(), Node: mdb.NewNode()})
	if postCapDeletion != nil {
		postCapDeletion(cleanupInfo)
	}
}
