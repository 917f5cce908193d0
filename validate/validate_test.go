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

package validate

import (
	"testing"

	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/cspace"
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

func TestChainAcceptsWellFormedDerivationList(t *testing.T) {
	a := newArena(t, 8)
	parent, c1, c2 := a.PtrAt(0), a.PtrAt(1), a.PtrAt(2)
	root := cap.NewCNodeCap(0, 4, 0, 0)
	a.Set(parent, mdb.Slot{Cap: root})

	ep := cap.NewEndpointCap(0x1000, 0, true, true, true, true)
	cspace.InsertNewCap(a, parent, c1, ep)
	cspace.CteInsert(a, ep, c1, c2)

	if problems := Chain(a, parent); len(problems) != 0 {
		t.Errorf("Chain: unexpected problems on a well-formed list: %v", problems)
	}
}

func TestChainAcceptsCyclicZombieSentinelAsTerminal(t *testing.T) {
	a := newArena(t, 32)
	self := mdb.Ptr(32)
	a.Set(self, mdb.Slot{Cap: cap.NewZombieCap(2, 4, uint64(self))})

	if problems := Chain(a, self); len(problems) != 0 {
		t.Errorf("Chain: cyclic-zombie sentinel should not be reported, got %v", problems)
	}
}

func TestChainDetectsGenuineCycle(t *testing.T) {
	a := newArena(t, 8)
	s1, s2 := a.PtrAt(0), a.PtrAt(1)

	ep1 := cap.NewEndpointCap(0x1000, 0, true, true, true, true)
	ep2 := cap.NewEndpointCap(0x2000, 0, true, true, true, true)
	a.Set(s1, mdb.Slot{Cap: ep1, Node: mdb.NewNode().SetNext(s2)})
	a.Set(s2, mdb.Slot{Cap: ep2, Node: mdb.NewNode().SetNext(s1)})

	problems := Chain(a, s1)
	if len(problems) == 0 {
		t.Fatalf("Chain: expected a revisited-slot problem for a genuine cycle")
	}
}

func TestBacklinksFlagsAMismatchedPrev(t *testing.T) {
	a := newArena(t, 4)
	s1, s2 := a.PtrAt(0), a.PtrAt(1)

	ep1 := cap.NewEndpointCap(0x1000, 0, true, true, true, true)
	ep2 := cap.NewEndpointCap(0x2000, 0, true, true, true, true)
	a.Set(s1, mdb.Slot{Cap: ep1})
	// s2 claims s1 as its predecessor, but s1 does not point forward to s2.
	a.Set(s2, mdb.Slot{Cap: ep2, Node: mdb.NewNode().SetPrev(s1)})

	problems := Backlinks(a)
	if len(problems) != 1 || problems[0].Slot != s2 {
		t.Errorf("Backlinks: got %v, want a single problem at %v", problems, s2)
	}
}
