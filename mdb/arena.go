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

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Arena backs a fixed number of Slots with an anonymous mmap region, giving
// every Slot a stable address that survives across goroutines the way a
// real CNode's backing memory would, rather than letting the Go runtime
// relocate a growable slice out from under in-flight Ptr values.
type Arena struct {
	mem   []byte
	slots []Slot
}

// NewArena allocates room for count Slots. count must be > 0.
func NewArena(count int) (*Arena, error) {
	if count <= 0 {
		return nil, errors.Errorf("mdb: arena size must be positive, got %d", count)
	}

	size := count << SlotAlign << 3 // count * (1<<SlotAlign) words * 8 bytes/word
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mdb: mmap arena")
	}

	a := &Arena{mem: mem}
	// A Slot is exactly 4 words (32 bytes, see SlotAlign) of plain uint64
	// fields with no pointers, so the mapped region can be viewed directly
	// as a []Slot instead of copying into a separately GC-managed slice —
	// Get/Set then read and write the mmap'd memory itself.
	a.slots = unsafe.Slice((*Slot)(unsafe.Pointer(&mem[0])), count)
	return a, nil
}

// Close unmaps the arena's backing memory. The Arena must not be used
// afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	a.slots = nil
	if err != nil {
		return errors.Wrap(err, "mdb: munmap arena")
	}
	return nil
}

// Len returns the number of slots in the arena.
func (a *Arena) Len() int { return len(a.slots) }

// index converts an arena-relative Ptr into a slice index, or (0, false)
// for the null pointer / an out-of-range value.
func (a *Arena) index(p Ptr) (int, bool) {
	if p == 0 {
		return 0, false
	}
	idx := int(p) - 1
	if idx < 0 || idx >= len(a.slots) {
		return 0, false
	}
	return idx, true
}

// PtrAt returns the Ptr addressing the slot at idx (0-based).
func (a *Arena) PtrAt(idx int) Ptr {
	return Ptr(idx + 1)
}

// Get returns the slot addressed by p. The zero Ptr and out-of-range
// pointers return the empty slot, mirroring a null cte_t* dereference
// guard in the original kernel.
func (a *Arena) Get(p Ptr) Slot {
	idx, ok := a.index(p)
	if !ok {
		return Slot{}
	}
	return a.slots[idx]
}

// Set stores s at the slot addressed by p. Writing to the null pointer is
// a no-op.
func (a *Arena) Set(p Ptr, s Slot) {
	idx, ok := a.index(p)
	if !ok {
		return
	}
	a.slots[idx] = s
}

// String renders p the way a debug log would reference a capability slot.
func (p Ptr) String() string {
	if p == 0 {
		return "<nil>"
	}
	return fmt.Sprintf("slot#%d", uint64(p))
}
