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

// Package zombie implements the preemptible deletion and revocation
// protocol: tearing down a CNode or TCB too large to finalise in one step
// without ever holding the kernel in an unbounded, non-preemptible loop.
// A capability that can't be atomically finalised is turned into a Zombie
// capability recording how many of its former contents remain, and
// whittled down one preemption point at a time.
package zombie

import (
	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/capalg"
	"github.com/nestybox/sysbox-libs/cspace/cspace"
	"github.com/nestybox/sysbox-libs/cspace/mdb"
)

// Hooks are the three external operations this package never implements
// itself: how to reduce a capability to its Zombie remainder, what to do
// with cleanup information once a capability is fully gone, and how to
// yield control back to the scheduler between preemptible steps. A real
// kernel wires these to its object finalisation, IRQ/notification
// teardown, and scheduler; tests wire them to whatever stub behavior the
// scenario needs.
type Hooks struct {
	// FinaliseCap reduces c to what remains after its kernel-side effects
	// (unbinding notifications, halting a thread, masking an IRQ, ...) are
	// applied. final reports whether c is the last outstanding reference
	// to its object; immediate requests that no Zombie remainder be
	// produced (delete_one's contract). It returns the capability left in
	// the slot (NullCap or, for an oversized CNode/TCB, a Zombie) and any
	// cleanup payload for PostCapDeletion.
	FinaliseCap func(c cap.Cap, final, immediate bool) (remainder, cleanupInfo cap.Cap)

	// PostCapDeletion is invoked once a slot has actually gone empty, with
	// whatever cleanup payload FinaliseCap produced.
	PostCapDeletion cspace.PostCapDeletionFunc

	// PreemptionPoint is polled between steps of a long-running deletion;
	// returning anything other than StatusNone aborts the operation so its
	// caller can resume it later (§ preemptible deletion).
	PreemptionPoint func() capalg.Status
}

func (h Hooks) preempt() capalg.Status {
	if h.PreemptionPoint == nil {
		return capalg.StatusNone
	}
	return h.PreemptionPoint()
}

func (h Hooks) postCapDeletion(cleanupInfo cap.Cap) {
	if h.PostCapDeletion != nil {
		h.PostCapDeletion(cleanupInfo)
	}
}

// CapRemovable reports whether c is immediately droppable from slot
// without further teardown steps: the null capability always is, and a
// Zombie is once its residual count has reached zero, or stands at one and
// names slot itself (the single-entry, self-referential case that
// terminates a CNode's own teardown).
func CapRemovable(c cap.Cap, slot mdb.Ptr) bool {
	switch c.GetCapType() {
	case cap.NullCap:
		return true
	case cap.ZombieCap:
		n := c.GetZombieNumber()
		zSlot := mdb.Ptr(c.GetZombiePtr())
		return n == 0 || (n == 1 && zSlot == slot)
	default:
		panic("zombie: finaliseCap must return Null or Zombie")
	}
}

// Finalise drives slot's capability down to something CapRemovable,
// reducing any Zombie remainder one step at a time via ReduceZombie and
// checking in at a preemption point after each step. immediate forbids
// leaving a cyclic-zombie remainder half-processed (delete_all's contract
// when called directly on an exposed slot rather than recursively).
func Finalise(a *mdb.Arena, self mdb.Ptr, immediate bool, hooks Hooks) (status capalg.Status, success bool, cleanupInfo cap.Cap) {
	success = true
	for {
		s := a.Get(self)
		if s.Cap.GetCapType() == cap.NullCap {
			return capalg.StatusNone, true, cap.NewNullCap()
		}

		final := cspace.IsFinalCap(a, self)
		remainder, cleanup := hooks.FinaliseCap(s.Cap, final, false)

		if CapRemovable(remainder, self) {
			return capalg.StatusNone, true, cleanup
		}

		s.Cap = remainder
		a.Set(self, s)

		if !immediate && cap.CyclicZombie(remainder, uint64(self)) {
			return capalg.StatusNone, false, cleanup
		}

		if st := ReduceZombie(a, self, immediate, hooks); !st.OK() {
			return st, false, cap.NewNullCap()
		}

		if st := hooks.preempt(); !st.OK() {
			return st, false, cap.NewNullCap()
		}
	}
}

// DeleteAll empties slot, deleting everything it transitively owns
// (e.g. every capability in a CNode, for a CNode capability). exposed is
// true for a directly-requested deletion and false when DeleteAll is
// invoked recursively while reducing a Zombie.
func DeleteAll(a *mdb.Arena, self mdb.Ptr, exposed bool, hooks Hooks) capalg.Status {
	status, success, cleanupInfo := Finalise(a, self, exposed, hooks)
	if !status.OK() {
		return status
	}
	if exposed || success {
		cspace.SetEmpty(a, self, cleanupInfo, hooks.postCapDeletion)
	}
	return capalg.StatusNone
}

// DeleteOne empties slot in a single, non-preemptible step; it panics if
// the capability there turns out to require multi-step teardown, which a
// caller must rule out before calling DeleteOne (that's what DeleteAll is
// for).
func DeleteOne(a *mdb.Arena, self mdb.Ptr, hooks Hooks) {
	s := a.Get(self)
	if s.Cap.GetCapType() == cap.NullCap {
		return
	}

	final := cspace.IsFinalCap(a, self)
	remainder, cleanupInfo := hooks.FinaliseCap(s.Cap, final, true)
	if !CapRemovable(remainder, self) || cleanupInfo.GetCapType() != cap.NullCap {
		panic("zombie: delete_one expected an immediately removable capability")
	}

	cspace.SetEmpty(a, self, cap.NewNullCap(), hooks.postCapDeletion)
}

// ReduceZombie performs one step of reducing the Zombie capability held at
// self: immediate peels off and deletes the Zombie's last element in
// place (used when self itself is being torn down top-down); the deferred
// path instead swaps self with the element the Zombie still targets,
// letting that element's own slot carry the Zombie state forward one
// level — the mechanism that eventually produces a cyclic zombie for a
// self-referential CNode.
func ReduceZombie(a *mdb.Arena, self mdb.Ptr, immediate bool, hooks Hooks) capalg.Status {
	s := a.Get(self)
	if s.Cap.GetCapType() != cap.ZombieCap {
		panic("zombie: reduce_zombie requires a Zombie capability")
	}

	ptr := mdb.Ptr(s.Cap.GetZombiePtr())
	n := s.Cap.GetZombieNumber()
	zombieType := s.Cap.GetZombieTypeRaw()
	if n == 0 {
		panic("zombie: reduce_zombie on an exhausted Zombie")
	}

	if immediate {
		endSlot := ptr + mdb.Ptr(n-1)
		if status := DeleteAll(a, endSlot, false, hooks); !status.OK() {
			return status
		}

		s = a.Get(self)
		switch s.Cap.GetCapType() {
		case cap.NullCap:
			return capalg.StatusNone

		case cap.ZombieCap:
			ptr2 := mdb.Ptr(s.Cap.GetZombiePtr())
			if ptr2 == ptr && s.Cap.GetZombieNumber() == n && s.Cap.GetZombieTypeRaw() == zombieType {
				s.Cap = s.Cap.SetZombieNumber(n - 1)
				a.Set(self, s)
			} else if ptr2 != self || ptr == self {
				panic("zombie: reduce_zombie saw an unexpected recursive outcome")
			}

		default:
			panic("zombie: expected recursion to result in a Zombie")
		}
		return capalg.StatusNone
	}

	if ptr == self {
		panic("zombie: reduce_zombie's deferred path must not target itself")
	}
	next := a.Get(ptr).Cap
	cur := s.Cap
	cspace.CteSwap(a, next, ptr, cur, self)
	return capalg.StatusNone
}

// Revoke deletes every capability derived from the one held at self,
// walking the mapping database forward one derivative at a time so each
// deletion can be interrupted at a preemption point.
func Revoke(a *mdb.Arena, self mdb.Ptr, hooks Hooks) capalg.Status {
	for {
		next := a.Get(self).Node.Next()
		if next == 0 || !cspace.IsMdbParentOf(a, self, next) {
			return capalg.StatusNone
		}

		if status := DeleteAll(a, next, true, hooks); !status.OK() {
			return status
		}

		if status := hooks.preempt(); !status.OK() {
			return status
		}
	}
}
