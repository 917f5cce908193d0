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

// Package manifest loads the bootstrap layout of an initial CSpace from a
// TOML description: how big the root CNode is, which architecture it was
// built for, and which Untyped regions must be installed before any thread
// runs. No other bootstrap objects are described by a manifest.
package manifest

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/nestybox/sysbox-libs/cspace/cap"
	"github.com/nestybox/sysbox-libs/cspace/utils"
)

// appFs is overridden in tests so a manifest can be loaded from an
// in-memory filesystem instead of the real one.
var appFs = afero.NewOsFs()

// searchPaths lists, in order, where a bootstrap manifest is looked for
// when no explicit path is given.
var searchPaths = []string{
	"/etc/cspace/bootstrap.toml",
	"/usr/local/etc/cspace/bootstrap.toml",
}

// UntypedRegion describes one Untyped capability to install in the root
// CNode at bootstrap.
type UntypedRegion struct {
	Slot      uint64 `toml:"slot"`
	Ptr       uint64 `toml:"ptr"`
	BlockSize uint   `toml:"block_size_bits"`
	IsDevice  bool   `toml:"is_device"`
}

// Manifest is the decoded form of a bootstrap TOML file.
type Manifest struct {
	Arch         string          `toml:"arch"`
	RootCNodeBits uint           `toml:"root_cnode_bits"`
	Untyped      []UntypedRegion `toml:"untyped"`
}

// ArchValue resolves the manifest's textual architecture name to cap.Arch.
func (m Manifest) ArchValue() (cap.Arch, error) {
	switch m.Arch {
	case "riscv64":
		return cap.RISCV64, nil
	case "aarch64":
		return cap.AArch64, nil
	default:
		return 0, fmt.Errorf("manifest: unknown arch %q", m.Arch)
	}
}

// Load reads and decodes the manifest at path.
func Load(path string) (Manifest, error) {
	var m Manifest

	f, err := appFs.Open(path)
	if err != nil {
		return m, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&m); err != nil {
		return m, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if m.RootCNodeBits == 0 {
		return m, fmt.Errorf("manifest: %s: root_cnode_bits must be nonzero", path)
	}
	if dups := duplicateSlots(m.Untyped); len(dups) != 0 {
		return m, fmt.Errorf("manifest: %s: slot numbers reused by more than one untyped region: %v", path, dups)
	}
	return m, nil
}

// duplicateSlots returns the slot numbers that more than one untyped
// region claims; a well-formed manifest must assign each a unique slot.
func duplicateSlots(regions []UntypedRegion) []uint64 {
	slots := make([]uint64, len(regions))
	for i, u := range regions {
		slots[i] = u.Slot
	}
	return utils.Uniquify(utils.Duplicates(slots))
}

// Discover loads the first manifest found among searchPaths, the way
// containerd's config is located by trying a fixed list of well-known
// paths in order.
func Discover() (Manifest, error) {
	var lastErr error
	for _, path := range searchPaths {
		m, err := Load(path)
		if err == nil {
			return m, nil
		}
		if _, statErr := appFs.Stat(path); afero.IsNotExist(statErr) {
			lastErr = statErr
			continue
		}
		return Manifest{}, err
	}
	return Manifest{}, fmt.Errorf("manifest: no bootstrap manifest found in %v: %w", searchPaths, lastErr)
}

// UntypedCaps converts the manifest's untyped regions into capability
// values ready for InsertNewCap at bootstrap.
func (m Manifest) UntypedCaps() []cap.Cap {
	caps := make([]cap.Cap, len(m.Untyped))
	for i, u := range m.Untyped {
		caps[i] = cap.NewUntypedCap(u.Ptr, u.BlockSize, u.IsDevice, 0)
	}
	return caps
}
