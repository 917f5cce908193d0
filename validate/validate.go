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

// Package validate audits a mapping database's doubly-linked derivation
// list for corruption: the list must never cycle back on itself except
// through the one construct that's allowed to, the cyclic-zombie sentinel
// left behind by a self-referential CNode's teardown.
package validate

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"

	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/mdb"
)

// Problem describes one invariant violation found while walking a chain.
type Problem struct {
	Slot mdb.Ptr
	Msg  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%v: %s", p.Slot, p.Msg)
}

// Chain walks the forward (Next) links starting at start and reports any
// slot address visited twice, except for the terminal cyclic-zombie
// sentinel (a Zombie capability whose target pointer equals the slot that
// holds it, which legitimately appears as the last node in the chain).
func Chain(a *mdb.Arena, start mdb.Ptr) []Problem {
	var problems []Problem
	visited := mapset.NewSet()

	cur := start
	for cur != 0 {
		if visited.Contains(cur) {
			problems = append(problems, Problem{Slot: cur, Msg: "slot revisited in forward mdb chain"})
			break
		}
		visited.Add(cur)

		s := a.Get(cur)
		if s.Cap.GetCapType() == cap.ZombieCap && cap.CyclicZombie(s.Cap, uint64(cur)) {
			// The sentinel terminates the chain here by construction;
			// anything past it would itself be a corruption, but there is
			// nothing past it to walk.
			break
		}

		next := s.Node.Next()
		if next != 0 {
			if a.Get(next).Node.Prev() != cur {
				problems = append(problems, Problem{Slot: cur, Msg: "next slot's prev link does not point back"})
			}
		}
		cur = next
	}

	return problems
}

// Backlinks reports every slot in [1, a.Len()] whose Prev link names a
// slot that does not, in turn, list it as Next — a cheaper, whole-arena
// sanity sweep that doesn't require knowing every chain's root.
func Backlinks(a *mdb.Arena) []Problem {
	var problems []Problem
	for i := 0; i < a.Len(); i++ {
		p := a.PtrAt(i)
		s := a.Get(p)
		if s.Cap.GetCapType() == cap.NullCap {
			continue
		}
		if prev := s.Node.Prev(); prev != 0 {
			if a.Get(prev).Node.Next() != p {
				problems = append(problems, Problem{Slot: p, Msg: "prev slot does not link forward to this slot"})
			}
		}
	}
	return problems
}
