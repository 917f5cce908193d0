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

// Package capalg implements the capability algebra: the predicates and
// derivation rules that decide whether two capabilities name the same
// kernel object or memory region, whether a derived capability may be
// revoked independently of its parent, and how a new capability's rights
// are computed from the one it is minted or derived from.
package capalg

import "github.com/nestybox/sysbox-libs/cspace/cap"

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

const wordBits = 64

// SameRegionAs reports whether a and b refer to overlapping or identical
// memory regions / kernel objects. An Untyped capability's region test
// allows the region occupied by any physical capability to be enclosed.
func SameRegionAs(a, b cap.Cap) bool {
	switch a.GetCapType() {
	case cap.UntypedCap:
		if !b.GetCapIsPhysical() {
			return false
		}
		aBase := a.GetUntypedPtr()
		bBase := b.GetCapPtr()
		aTop := aBase + mask(a.GetUntypedBlockSize())
		bTop := bBase + mask(b.GetCapSizeBits())
		return aBase <= bBase && bTop <= aTop && bBase <= bTop

	case cap.EndpointCap, cap.NotificationCap, cap.PageTableCap, cap.ASIDPoolCap, cap.ThreadCap:
		if b.GetCapType() != a.GetCapType() {
			return false
		}
		return a.GetCapPtr() == b.GetCapPtr()

	case cap.ASIDControlCap, cap.DomainCap:
		return b.GetCapType() == a.GetCapType()

	case cap.CNodeCap:
		if b.GetCapType() != cap.CNodeCap {
			return false
		}
		return a.GetCNodePtr() == b.GetCNodePtr() && a.GetCNodeRadix() == b.GetCNodeRadix()

	case cap.IrqControlCap:
		switch b.GetCapType() {
		case cap.IrqControlCap, cap.IrqHandlerCap:
			return true
		default:
			return false
		}

	case cap.IrqHandlerCap:
		if b.GetCapType() != cap.IrqHandlerCap {
			return false
		}
		return a.GetIrqHandler() == b.GetIrqHandler()

	case cap.FrameCap, cap.PageDirectoryCap, cap.PageUpperDirectoryCap, cap.PageGlobalDirectoryCap:
		return archSameRegionAs(a, b)

	default:
		return false
	}
}

// SameObjectAs reports whether a and b are capabilities to the very same
// kernel object (a stronger relation than SameRegionAs: an Untyped never
// matches here since a freshly retyped region is a distinct object from
// the Untyped it was carved out of, and an IrqHandler never matches its
// IrqControl).
func SameObjectAs(a, b cap.Cap) bool {
	if a.GetCapType() == cap.UntypedCap {
		return false
	}
	if a.GetCapType() == cap.IrqControlCap && b.GetCapType() == cap.IrqHandlerCap {
		return false
	}
	if a.IsArchCap() && b.IsArchCap() {
		return archSameObjectAs(a, b)
	}
	return SameRegionAs(a, b)
}

// IsCapRevocable reports whether derived may be deleted without informing
// the holder of src, i.e. whether derived is NOT indistinguishable from
// src in a way that would make an independent revocation surprising.
// Architectural caps are never independently revocable here; the paging
// hooks express their own revocation rules through finaliseCap instead.
func IsCapRevocable(derived, src cap.Cap) bool {
	if derived.IsArchCap() {
		return false
	}
	switch derived.GetCapType() {
	case cap.EndpointCap:
		return derived.GetEPBadge() != src.GetEPBadge()
	case cap.NotificationCap:
		return derived.GetNtfnBadge() != src.GetNtfnBadge()
	case cap.IrqHandlerCap:
		return src.GetCapType() == cap.IrqControlCap
	case cap.UntypedCap:
		return true
	default:
		return false
	}
}

// cnodeCapData unpacks the guard/guard_size encoding carried in the word
// argument to Mutate/Mint (CNode's update_data payload).
type cnodeCapData struct {
	word uint64
}

func (d cnodeCapData) guard() uint64     { return (d.word & 0xffff_ffff_ffff_ffc0) >> 6 }
func (d cnodeCapData) guardSize() uint { return uint(d.word & 0x3f) }

// UpdateData applies a Mutate/Mint's new_data payload to cp, the way the
// kernel does when minting an Endpoint/Notification badge or reslicing a
// CNode's guard. An Endpoint/Notification takes newData as its badge only
// when preserve is false and its current badge is zero; in every other
// case (preserve true, or already badged) the result is the null
// capability. A CNode update whose guard_size would overflow the CNode's
// radix budget also yields the null capability. Architectural capabilities are passed through
// unchanged: only the address-space-independent algebra applies here.
func UpdateData(cp cap.Cap, preserve bool, newData uint64) cap.Cap {
	if cp.IsArchCap() {
		return cp
	}
	switch cp.GetCapType() {
	case cap.EndpointCap:
		if !preserve && cp.GetEPBadge() == 0 {
			return cp.SetEPBadge(newData)
		}
		return cap.NewNullCap()

	case cap.NotificationCap:
		if !preserve && cp.GetNtfnBadge() == 0 {
			return cp.SetNtfnBadge(newData)
		}
		return cap.NewNullCap()

	case cap.CNodeCap:
		d := cnodeCapData{word: newData}
		guardSize := d.guardSize()
		if uint64(guardSize)+uint64(cp.GetCNodeRadix()) > wordBits {
			return cap.NewNullCap()
		}
		guard := d.guard() & mask(guardSize)
		return cp.SetCNodeGuard(guard).SetCNodeGuardSize(guardSize)

	default:
		return cp
	}
}
