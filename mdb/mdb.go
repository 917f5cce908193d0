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

// Package mdb implements the two-word doubly-linked mapping-database node
// that threads every non-null capability slot together in derivation order,
// and the slot arena it is addressed against.
package mdb

import "github.com/nestybox/sysbox-libs/cspace/cap"

// SlotAlign is log2(words per Slot); a Slot is a Cap (2 words) plus a Node
// (2 words), so it is 4 words (32 bytes) wide. The arena sizes its mapping
// from it.
const SlotAlign = 2

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func getField(word uint64, offset, width uint) uint64 {
	return (word >> offset) & mask(width)
}

func setField(word uint64, offset, width uint, value uint64) uint64 {
	return (word &^ (mask(width) << offset)) | ((value & mask(width)) << offset)
}

const (
	nextWord   = 1
	nextOffset = 2
	nextWidth  = 37
	nextShift  = 0

	revocableWord   = 1
	revocableOffset = 1

	firstBadgedWord   = 1
	firstBadgedOffset = 0

	prevWord = 0
)

// Ptr is an arena-relative slot address: an index into an Arena, not a raw
// machine pointer. Zero means "no slot" (nil), matching the null-check
// idiom of a C linked list built over cte_t*.
type Ptr uint64

// Node is the mapping-database link embedded in every Slot: the previous
// and next slot in derivation order, plus the revocable and first-badged
// flags (§3 of the capability model).
type Node struct {
	words [2]uint64
}

// NewNode returns the zero link: no neighbours, not revocable, not the
// first badged derivative.
func NewNode() Node { return Node{} }

func (n Node) Next() Ptr {
	return Ptr(getField(n.words[nextWord], nextOffset, nextWidth) << nextShift)
}

func (n Node) SetNext(p Ptr) Node {
	n.words[nextWord] = setField(n.words[nextWord], nextOffset, nextWidth, uint64(p)>>nextShift)
	return n
}

func (n Node) Prev() Ptr {
	return Ptr(n.words[prevWord])
}

func (n Node) SetPrev(p Ptr) Node {
	n.words[prevWord] = uint64(p)
	return n
}

func (n Node) Revocable() bool {
	return getField(n.words[revocableWord], revocableOffset, 1) != 0
}

func (n Node) SetRevocable(v bool) Node {
	var bit uint64
	if v {
		bit = 1
	}
	n.words[revocableWord] = setField(n.words[revocableWord], revocableOffset, 1, bit)
	return n
}

func (n Node) FirstBadged() bool {
	return getField(n.words[firstBadgedWord], firstBadgedOffset, 1) != 0
}

func (n Node) SetFirstBadged(v bool) Node {
	var bit uint64
	if v {
		bit = 1
	}
	n.words[firstBadgedWord] = setField(n.words[firstBadgedWord], firstBadgedOffset, 1, bit)
	return n
}

// Slot is a CTE (capability table entry): the capability stored there plus
// its mapping-database link. The null capability in a Slot always carries
// a zeroed Node (invariant: unlinking a slot on deletion clears both).
type Slot struct {
	Cap  cap.Cap
	Node Node
}

// IsEmpty reports whether the slot holds the null capability.
func (s Slot) IsEmpty() bool {
	return s.Cap.GetCapType() == cap.NullCap
}
