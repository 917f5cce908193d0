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

import "github.com/nestybox/sysbox-libs/cspace/cap"

// DeriveCap computes the capability that should be installed in a
// destination slot when src is copied/moved there. Zombie, Reply and
// IrqControl capabilities never survive a derivation (the derived slot
// gets the null capability); an Untyped capability only survives if the
// slot holding src currently has no children, which the caller supplies
// via ensureNoChildren since that check walks the mapping database and
// this package has no notion of slots. Every other generic capability, and
// every architectural capability via ArchDeriveCap, passes through
// unchanged (minus the paging-specific scrubs ArchDeriveCap applies).
func DeriveCap(src cap.Cap, ensureNoChildren func() Status) (cap.Cap, Status) {
	if src.IsArchCap() {
		return ArchDeriveCap(src)
	}

	switch src.GetCapType() {
	case cap.ZombieCap, cap.ReplyCap, cap.IrqControlCap:
		return cap.NewNullCap(), StatusNone

	case cap.UntypedCap:
		if st := ensureNoChildren(); !st.OK() {
			return cap.NewNullCap(), st
		}
		return src, StatusNone

	default:
		return src, StatusNone
	}
}
