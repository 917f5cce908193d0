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

// Package resolve walks a guarded-radix chain of CNode capabilities to
// turn a flat capability-pointer bit string into the CSpace slot it names,
// the way a path lookup walks a directory tree component by component.
package resolve

import (
	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/capalg"
	"github.com/nestybox/sysbox-libs/cspace/mdb"
)

// wordRadix is log2(word size); guard shifts wrap modulo this, matching
// the word-sized shift-amount masking the kernel relies on.
const wordRadix = 6

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// Result reports where a capability-pointer lookup landed: Slot is valid
// whenever Status is StatusNone, or whenever the walk had to stop at an
// intermediate non-CNode slot (BitsRemaining > 0 in that case).
type Result struct {
	Status        capalg.Status
	Slot          mdb.Ptr
	BitsRemaining uint
}

// AddressBits walks nodeCap (which must be a CNode capability) guided by
// the top nBits bits of capPtr, descending through nested CNodes until
// the address is fully consumed. At each level, the next levelBits =
// radix+guardSize bits of capPtr must match the CNode's guard before its
// radix bits select the child slot. The walk stops, successfully, the
// moment a level consumes exactly the bits remaining; it stops with
// BitsRemaining > 0 if it lands on a slot that isn't itself a CNode before
// the address is exhausted.
func AddressBits(a *mdb.Arena, nodeCap cap.Cap, capPtr uint64, nBits uint) Result {
	if nodeCap.GetCapType() != cap.CNodeCap {
		return Result{Status: capalg.StatusLookupFault, BitsRemaining: nBits}
	}

	n := nBits
	cur := nodeCap
	for {
		radixBits := cur.GetCNodeRadix()
		guardBits := cur.GetCNodeGuardSize()
		levelBits := radixBits + guardBits
		if levelBits == 0 {
			panic("resolve: CNode radix+guard_size must be nonzero")
		}
		capGuard := cur.GetCNodeGuard()

		shift := (n - guardBits) & uint(mask(wordRadix))
		guard := (capPtr >> shift) & mask(guardBits)
		if guardBits > n || guard != capGuard {
			return Result{Status: capalg.StatusLookupFault, BitsRemaining: n}
		}
		if levelBits > n {
			return Result{Status: capalg.StatusLookupFault, BitsRemaining: n}
		}

		offset := (capPtr >> (n - levelBits)) & mask(radixBits)
		slot := mdb.Ptr(cur.GetCNodePtr() + offset)

		if n == levelBits {
			return Result{Status: capalg.StatusNone, Slot: slot, BitsRemaining: 0}
		}
		n -= levelBits

		next := a.Get(slot).Cap
		if next.GetCapType() != cap.CNodeCap {
			return Result{Status: capalg.StatusNone, Slot: slot, BitsRemaining: n}
		}
		cur = next
	}
}
