package cap

// This file covers the capability variants whose existence does not depend
// on architecture (Untyped, Endpoint, Notification, Reply, CNode, Thread,
// IrqControl, IrqHandler, Zombie, Domain, ASIDControl) even though a few of
// their fields are sized by the active architecture's physical address
// width (see arch.go). Field offsets below mirror the ABI table in
// SPEC_FULL.md §6.1 and the zombie encoding in §4.8.

// ---- Untyped ----

const (
	untypedBlockSizeOffset = 0
	untypedBlockSizeWidth  = 6
	untypedIsDeviceOffset  = 6
)

// NewUntypedCap builds an Untyped capability over the region starting at
// ptr, sized 2^blockSize bytes, with the given device flag and watermark.
func NewUntypedCap(ptr uint64, blockSize uint, isDevice bool, freeIndex uint64) Cap {
	l := activeArch.layout()
	c := Cap{}.setTag(UntypedCap)
	c.words[0] = setPtrField(c.words[0], 0, l.ptrWidth, 0, ptr)
	c.words[1] = setField(c.words[1], untypedBlockSizeOffset, untypedBlockSizeWidth, uint64(blockSize))
	if isDevice {
		c.words[1] = setField(c.words[1], untypedIsDeviceOffset, 1, 1)
	}
	c.words[1] = setField(c.words[1], l.freeIndexShift, wordBits-l.freeIndexShift, freeIndex)
	return c
}

func (c Cap) GetUntypedPtr() uint64 {
	l := activeArch.layout()
	return getPtrField(c.words[0], 0, l.ptrWidth, 0)
}

func (c Cap) GetUntypedBlockSize() uint {
	return uint(getField(c.words[1], untypedBlockSizeOffset, untypedBlockSizeWidth))
}

func (c Cap) GetUntypedIsDevice() bool {
	return getField(c.words[1], untypedIsDeviceOffset, 1) != 0
}

func (c Cap) GetUntypedFreeIndex() uint64 {
	l := activeArch.layout()
	return getField(c.words[1], l.freeIndexShift, wordBits-l.freeIndexShift)
}

// SetUntypedFreeIndex returns c with its free_index watermark updated.
func (c Cap) SetUntypedFreeIndex(freeIndex uint64) Cap {
	l := activeArch.layout()
	c.words[1] = setField(c.words[1], l.freeIndexShift, wordBits-l.freeIndexShift, freeIndex)
	return c
}

// MaxFreeIndex returns the free_index watermark that marks an untyped
// region of the given block size as fully consumed (§4.3 step 2).
func MaxFreeIndex(blockSize uint) uint64 {
	return uint64(1) << blockSize
}

// ---- Endpoint ----

const (
	epBadgeOffset       = 0
	epBadgeWidth        = 64
	epCanSendOffset     = 55
	epCanReceiveOffset  = 56
	epCanGrantOffset    = 57
	epCanGrantReplyBit  = 58
)

func NewEndpointCap(ptr uint64, badge uint64, canSend, canReceive, canGrant, canGrantReply bool) Cap {
	l := activeArch.layout()
	c := Cap{}.setTag(EndpointCap)
	c.words[0] = setPtrField(c.words[0], 0, l.ptrWidth, 0, ptr)
	c.words[0] = setBool(c.words[0], epCanSendOffset, canSend)
	c.words[0] = setBool(c.words[0], epCanReceiveOffset, canReceive)
	c.words[0] = setBool(c.words[0], epCanGrantOffset, canGrant)
	c.words[0] = setBool(c.words[0], epCanGrantReplyBit, canGrantReply)
	c.words[1] = setField(c.words[1], epBadgeOffset, epBadgeWidth, badge)
	return c
}

func setBool(word uint64, offset uint, v bool) uint64 {
	if v {
		return setField(word, offset, 1, 1)
	}
	return setField(word, offset, 1, 0)
}

func (c Cap) GetEPPtr() uint64 {
	l := activeArch.layout()
	return getPtrField(c.words[0], 0, l.ptrWidth, 0)
}
func (c Cap) GetEPBadge() uint64     { return getField(c.words[1], epBadgeOffset, epBadgeWidth) }
func (c Cap) GetEPCanSend() bool     { return getField(c.words[0], epCanSendOffset, 1) != 0 }
func (c Cap) GetEPCanReceive() bool  { return getField(c.words[0], epCanReceiveOffset, 1) != 0 }
func (c Cap) GetEPCanGrant() bool    { return getField(c.words[0], epCanGrantOffset, 1) != 0 }
func (c Cap) GetEPCanGrantReply() bool {
	return getField(c.words[0], epCanGrantReplyBit, 1) != 0
}

// SetEPBadge returns c with its badge replaced (used by update_data).
func (c Cap) SetEPBadge(badge uint64) Cap {
	c.words[1] = setField(c.words[1], epBadgeOffset, epBadgeWidth, badge)
	return c
}

// ---- Notification ----

const (
	nfBadgeOffset      = 0
	nfBadgeWidth       = 64
	nfCanSendOffset    = 57
	nfCanReceiveOffset = 58
)

func NewNotificationCap(ptr uint64, badge uint64, canSend, canReceive bool) Cap {
	l := activeArch.layout()
	c := Cap{}.setTag(NotificationCap)
	c.words[0] = setPtrField(c.words[0], 0, l.ptrWidth, 0, ptr)
	c.words[0] = setBool(c.words[0], nfCanSendOffset, canSend)
	c.words[0] = setBool(c.words[0], nfCanReceiveOffset, canReceive)
	c.words[1] = setField(c.words[1], nfBadgeOffset, nfBadgeWidth, badge)
	return c
}

func (c Cap) GetNtfnPtr() uint64 {
	l := activeArch.layout()
	return getPtrField(c.words[0], 0, l.ptrWidth, 0)
}
func (c Cap) GetNtfnBadge() uint64     { return getField(c.words[1], nfBadgeOffset, nfBadgeWidth) }
func (c Cap) GetNtfnCanSend() bool     { return getField(c.words[0], nfCanSendOffset, 1) != 0 }
func (c Cap) GetNtfnCanReceive() bool  { return getField(c.words[0], nfCanReceiveOffset, 1) != 0 }

// SetNtfnBadge returns c with its badge replaced (used by update_data).
func (c Cap) SetNtfnBadge(badge uint64) Cap {
	c.words[1] = setField(c.words[1], nfBadgeOffset, nfBadgeWidth, badge)
	return c
}

// ---- Reply ----

const (
	replyMasterOffset    = 0
	replyCanGrantOffset  = 1
	replyTCBPtrOffset    = 0
	replyTCBPtrWidth     = 64
)

func NewReplyCap(tcbPtr uint64, master, canGrant bool) Cap {
	c := Cap{}.setTag(ReplyCap)
	c.words[0] = setBool(c.words[0], replyMasterOffset, master)
	c.words[0] = setBool(c.words[0], replyCanGrantOffset, canGrant)
	c.words[1] = setField(c.words[1], replyTCBPtrOffset, replyTCBPtrWidth, tcbPtr)
	return c
}

func (c Cap) GetReplyTCBPtr() uint64 {
	return getField(c.words[1], replyTCBPtrOffset, replyTCBPtrWidth)
}
func (c Cap) GetReplyMaster() bool   { return getField(c.words[0], replyMasterOffset, 1) != 0 }
func (c Cap) GetReplyCanGrant() bool { return getField(c.words[0], replyCanGrantOffset, 1) != 0 }

// ---- CNode ----

const (
	cnodeRadixOffset     = 47
	cnodeRadixWidth      = 6
	cnodeGuardSizeOffset = 53
	cnodeGuardSizeWidth  = 6
	cnodeGuardOffset     = 0
	cnodeGuardWidth      = 64
)

func NewCNodeCap(ptr uint64, radix, guardSize uint, guard uint64) Cap {
	l := activeArch.layout()
	c := Cap{}.setTag(CNodeCap)
	c.words[0] = setPtrField(c.words[0], 0, l.cnodePtrWidth, SlotBits, ptr)
	c.words[0] = setField(c.words[0], cnodeRadixOffset, cnodeRadixWidth, uint64(radix))
	c.words[0] = setField(c.words[0], cnodeGuardSizeOffset, cnodeGuardSizeWidth, uint64(guardSize))
	c.words[1] = setField(c.words[1], cnodeGuardOffset, cnodeGuardWidth, guard)
	return c
}

func (c Cap) GetCNodePtr() uint64 {
	l := activeArch.layout()
	return getPtrField(c.words[0], 0, l.cnodePtrWidth, SlotBits)
}
func (c Cap) GetCNodeRadix() uint {
	return uint(getField(c.words[0], cnodeRadixOffset, cnodeRadixWidth))
}
func (c Cap) GetCNodeGuardSize() uint {
	return uint(getField(c.words[0], cnodeGuardSizeOffset, cnodeGuardSizeWidth))
}
func (c Cap) GetCNodeGuard() uint64 {
	return getField(c.words[1], cnodeGuardOffset, cnodeGuardWidth)
}
func (c Cap) SetCNodeGuard(guard uint64) Cap {
	c.words[1] = setField(c.words[1], cnodeGuardOffset, cnodeGuardWidth, guard)
	return c
}
func (c Cap) SetCNodeGuardSize(guardSize uint) Cap {
	c.words[0] = setField(c.words[0], cnodeGuardSizeOffset, cnodeGuardSizeWidth, uint64(guardSize))
	return c
}

// ---- Thread ----

func NewThreadCap(tcbPtr uint64) Cap {
	l := activeArch.layout()
	c := Cap{}.setTag(ThreadCap)
	c.words[0] = setPtrField(c.words[0], 0, l.ptrWidth, 0, tcbPtr)
	return c
}

func (c Cap) GetTCBPtr() uint64 {
	l := activeArch.layout()
	return getPtrField(c.words[0], 0, l.ptrWidth, 0)
}

// ---- IrqControl / IrqHandler ----

func NewIrqControlCap() Cap { return Cap{}.setTag(IrqControlCap) }

const (
	irqOffset = 0
	irqWidth  = 12
)

func NewIrqHandlerCap(irq uint) Cap {
	c := Cap{}.setTag(IrqHandlerCap)
	c.words[1] = setField(c.words[1], irqOffset, irqWidth, uint64(irq))
	return c
}

func (c Cap) GetIrqHandler() uint {
	return uint(getField(c.words[1], irqOffset, irqWidth))
}

// ---- Domain ----

func NewDomainCap() Cap { return Cap{}.setTag(DomainCap) }

// ---- Zombie (§4.8) ----

const (
	zombieIDOffset   = 0
	zombieIDWidth    = 64
	zombieTypeOffset = 0
	zombieTypeWidth  = 7
)

// ZombieTCB is the zombie "type" value meaning the zombie's target is a
// TCB's CNode, as opposed to a plain CNode of a given radix.
const ZombieTCB = uint(1) << wordRadix

// TCBCNodeRadix is the (fixed) radix of a thread's embedded CNode.
const TCBCNodeRadix = 4

func (c Cap) GetZombieID() uint64 {
	return getField(c.words[1], zombieIDOffset, zombieIDWidth)
}
func (c Cap) setZombieID(id uint64) Cap {
	c.words[1] = setField(c.words[1], zombieIDOffset, zombieIDWidth, id)
	return c
}
func (c Cap) GetZombieTypeRaw() uint {
	return uint(getField(c.words[0], zombieTypeOffset, zombieTypeWidth))
}

// zombieRadix returns the radix to use when splitting a zombie's id word
// into {ptr, number}, per §4.8.
func zombieRadix(zombieType uint) uint {
	if zombieType == ZombieTCB {
		return TCBCNodeRadix
	}
	return zombieType & uint(mask(wordRadix))
}

// newMask returns (1<<width)-1 for use against the 64-bit id word.
func newMask(width uint) uint64 { return mask(width) }

// NewZombieCap packs ptr and number into a Zombie capability of the given
// type (either ZombieTCB or a CNode radix).
func NewZombieCap(number uint64, zombieType uint, ptr uint64) Cap {
	r := zombieRadix(zombieType)
	m := newMask(r + 1)
	id := (ptr &^ m) | (number & m)
	c := Cap{}.setTag(ZombieCap)
	c.words[0] = setField(c.words[0], zombieTypeOffset, zombieTypeWidth, uint64(zombieType))
	c = c.setZombieID(id)
	return c
}

// GetZombiePtr returns the target pointer embedded in a zombie's id word.
func (c Cap) GetZombiePtr() uint64 {
	r := zombieRadix(c.GetZombieTypeRaw())
	return c.GetZombieID() &^ newMask(r+1)
}

// GetZombieNumber returns the residue count embedded in a zombie's id word.
func (c Cap) GetZombieNumber() uint64 {
	r := zombieRadix(c.GetZombieTypeRaw())
	return c.GetZombieID() & newMask(r+1)
}

// SetZombieNumber returns c with its residue count updated, preserving ptr.
func (c Cap) SetZombieNumber(n uint64) Cap {
	r := zombieRadix(c.GetZombieTypeRaw())
	m := newMask(r + 1)
	ptr := c.GetZombieID() &^ m
	return c.setZombieID(ptr | (n & m))
}

// CyclicZombie reports whether cap is the self-referential zombie sentinel
// that terminates teardown of a self-referential CNode (invariant 8): a
// Zombie whose target pointer equals the address of slot itself.
func CyclicZombie(c Cap, slotAddr uint64) bool {
	return c.GetCapType() == ZombieCap && c.GetZombiePtr() == slotAddr
}
