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

package mdb

import "testing"

func TestNodeLinkRoundTrip(t *testing.T) {
	n := NewNode().SetNext(0x40).SetPrev(0x20).SetRevocable(true).SetFirstBadged(true)

	if got := n.Next(); got != 0x40 {
		t.Errorf("Next() = %v, want 0x40", got)
	}
	if got := n.Prev(); got != 0x20 {
		t.Errorf("Prev() = %v, want 0x20", got)
	}
	if !n.Revocable() {
		t.Errorf("Revocable() = false, want true")
	}
	if !n.FirstBadged() {
		t.Errorf("FirstBadged() = false, want true")
	}
}

func TestNodeFlagsIndependentOfLinks(t *testing.T) {
	n := NewNode().SetNext(0x1000).SetPrev(0x2000)
	if n.Revocable() || n.FirstBadged() {
		t.Fatalf("fresh node with links set should not carry flags")
	}
	n = n.SetRevocable(true)
	if n.Next() != 0x1000 || n.Prev() != 0x2000 {
		t.Errorf("SetRevocable clobbered link pointers: next=%v prev=%v", n.Next(), n.Prev())
	}
	n = n.SetRevocable(false)
	if n.Revocable() {
		t.Errorf("SetRevocable(false) did not clear the flag")
	}
}

func TestArenaGetSetAndNullPtr(t *testing.T) {
	a, err := NewArena(8)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	if got := a.Get(0); !got.IsEmpty() {
		t.Errorf("Get(0) = %+v, want empty slot", got)
	}

	p := a.PtrAt(3)
	s := Slot{Node: NewNode().SetRevocable(true)}
	a.Set(p, s)

	got := a.Get(p)
	if !got.Node.Revocable() {
		t.Errorf("Get(%v).Node.Revocable() = false, want true", p)
	}

	if got := a.Get(Ptr(1000)); !got.IsEmpty() {
		t.Errorf("Get(out-of-range) = %+v, want empty slot", got)
	}
}

func TestArenaRejectsNonPositiveSize(t *testing.T) {
	if _, err := NewArena(0); err == nil {
		t.Fatalf("NewArena(0): expected error")
	}
}
