package cap

// Arch selects which architecture's bit layout the package's accessors use
// for the fields whose width or position depends on physical address size
// (RISC-V sv39 vs. AArch64's 48-bit physical addressing). Packages cspace,
// zombie and resolve never branch on Arch; besides this package's field
// accessors, only capalg's architectural-capability rules do (Frame
// derivation and the Frame page-size table), which is what the spec means
// by "the core's algorithms are architecture-independent."
//
// This is deliberately a runtime switch and not a build tag: a single test
// binary must be able to exercise both layouts, and the core is meant to be
// linked into either target without recompilation of this package.
type Arch int

const (
	RISCV64 Arch = iota
	AArch64
)

func (a Arch) String() string {
	if a == AArch64 {
		return "aarch64"
	}
	return "riscv64"
}

type layout struct {
	// ptrWidth is the width, in bits, of a physical pointer field for the
	// generic (non-paging) variants: Untyped, Endpoint, Notification,
	// Thread. (A Zombie's pointer lives in its full-word id instead.)
	ptrWidth uint
	// freeIndexShift is the bit offset of Untyped's free_index field in
	// word 1.
	freeIndexShift uint
	// cnodePtrWidth is the width of a CNode capability's ptr field.
	cnodePtrWidth uint
	// hasPageDirLevels reports whether PageDirectory/PageUpperDirectory/
	// PageGlobalDirectory capabilities exist on this architecture (true
	// only for AArch64; RISC-V sv39 has just Frame + PageTable).
	hasPageDirLevels bool
}

var layouts = [...]layout{
	RISCV64: {ptrWidth: 39, freeIndexShift: 25, cnodePtrWidth: 38, hasPageDirLevels: false},
	AArch64: {ptrWidth: 48, freeIndexShift: 16, cnodePtrWidth: 47, hasPageDirLevels: true},
}

// activeArch is the process-wide layout every Cap constructor and accessor
// in this package reads; none of them takes an Arch argument. Mirrors
// capability_linux.go's package-level capVers/CAP_LAST_CAP, determined once
// and consulted by every accessor thereafter.
var activeArch = RISCV64

// SetArch changes the architecture layout used by every constructor and
// accessor in this package. Intended to be called once at process start by
// the embedding kernel; not safe to call concurrently with cap construction
// or access.
func SetArch(a Arch) {
	activeArch = a
}

// CurrentArch returns the active default layout.
func CurrentArch() Arch {
	return activeArch
}

func (a Arch) layout() layout {
	return layouts[a]
}

// HasPageDirLevels reports whether a's paging hierarchy has separate
// PageDirectory/PageUpperDirectory/PageGlobalDirectory capabilities
// (AArch64) as opposed to just Frame+PageTable (RISC-V sv39).
func (a Arch) HasPageDirLevels() bool {
	return a.layout().hasPageDirLevels
}

func ptSizeBits() uint {
	// PageTable object size is architecture-fixed: 4096 bytes of PTEs on
	// both supported architectures (512 * 8-byte entries).
	return 12
}

// bitPos locates a field: which word, its offset and width, and (for
// pointer-shaped fields) the left-shift applied on store/load.
type bitPos struct {
	word, offset, width, shift uint
}

// pagingLayout pins down the per-architecture field tables for the paging
// capability variants (Frame, PageTable, and on AArch64 the PageDirectory/
// PageUpperDirectory/PageGlobalDirectory levels) and ASIDPool. These differ
// not just in width but in bit position between riscv64 sv39 and AArch64,
// so unlike the generic layout table above they are not reducible to a
// single ptrWidth parameter.
type pagingLayout struct {
	frameMappedASID, frameBasePtr, frameSize, frameVMRights, frameIsDevice, frameMappedAddress bitPos
	ptMappedASID, ptBasePtr, ptIsMapped, ptMappedAddress                                        bitPos
	pdMappedASID, pdBasePtr, pdIsMapped, pdMappedAddress                                        bitPos
	pudMappedASID, pudBasePtr, pudIsMapped, pudMappedAddress                                     bitPos
	pgdMappedASID, pgdBasePtr, pgdIsMapped                                                       bitPos
	asidBase, asidPool                                                                           bitPos
}

var pagingLayouts = [...]pagingLayout{
	RISCV64: {
		frameMappedASID:    bitPos{1, 48, 16, 0},
		frameBasePtr:       bitPos{1, 9, 39, 0},
		frameSize:          bitPos{0, 57, 2, 0},
		frameVMRights:      bitPos{0, 55, 2, 0},
		frameIsDevice:      bitPos{0, 54, 1, 0},
		frameMappedAddress: bitPos{0, 0, 39, 0},
		ptMappedASID:       bitPos{1, 48, 16, 0},
		ptBasePtr:          bitPos{1, 9, 39, 0},
		ptIsMapped:         bitPos{0, 39, 1, 0},
		ptMappedAddress:    bitPos{0, 0, 39, 0},
		asidBase:           bitPos{0, 43, 16, 0},
		asidPool:           bitPos{0, 0, 37, 2},
	},
	AArch64: {
		frameIsDevice:      bitPos{0, 6, 1, 0},
		frameVMRights:      bitPos{0, 7, 2, 0},
		frameMappedAddress: bitPos{0, 9, 48, 0},
		frameSize:          bitPos{0, 57, 2, 0},
		frameMappedASID:    bitPos{1, 48, 16, 0},
		frameBasePtr:       bitPos{1, 0, 48, 0},
		ptMappedASID:       bitPos{1, 48, 16, 0},
		ptBasePtr:          bitPos{1, 0, 48, 0},
		ptIsMapped:         bitPos{0, 48, 1, 0},
		ptMappedAddress:    bitPos{0, 20, 28, 0},
		pdMappedASID:       bitPos{1, 48, 16, 0},
		pdBasePtr:          bitPos{1, 0, 48, 0},
		pdIsMapped:         bitPos{0, 48, 1, 0},
		pdMappedAddress:    bitPos{0, 29, 19, 0},
		pudMappedASID:      bitPos{1, 48, 16, 0},
		pudBasePtr:         bitPos{1, 0, 48, 0},
		pudIsMapped:        bitPos{0, 58, 1, 0},
		pudMappedAddress:   bitPos{0, 48, 10, 0},
		pgdMappedASID:      bitPos{1, 48, 16, 0},
		pgdBasePtr:         bitPos{1, 0, 48, 0},
		pgdIsMapped:        bitPos{0, 58, 1, 0},
		asidBase:           bitPos{0, 43, 16, 0},
		// asid_pool shifts left 11 bits on AArch64, not 2; pools are larger.
		asidPool: bitPos{0, 0, 37, 11},
	},
}

func (a Arch) paging() pagingLayout {
	return pagingLayouts[a]
}
