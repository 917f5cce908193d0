// Package idfmt renders capability-slot and kernel-object identifiers the
// way log lines and error messages want to show them: a short form for
// everyday output, the full form when precision matters.
package idfmt

import (
	"fmt"

	"github.com/docker/docker/pkg/stringid"

	"github.com/nestybox/sysbox-libs/cspace/mdb"
)

// SlotID formats an mdb.Ptr as a hex identifier, the way a container or
// image ID gets truncated for everyday display and expanded on demand.
type SlotID struct {
	Ptr mdb.Ptr
}

func (s SlotID) full() string {
	return fmt.Sprintf("%016x", uint64(s.Ptr))
}

// ShortID returns a truncated identifier suitable for log lines.
func (s SlotID) ShortID() string {
	return stringid.TruncateID(s.full())
}

// LongID returns the full, untruncated identifier.
func (s SlotID) LongID() string {
	return s.full()
}

func (s SlotID) String() string {
	return s.ShortID()
}

// ObjectID formats the physical pointer a capability names (an Untyped
// region, a Frame, a TCB, ...), independent of which slot currently holds
// a capability to it.
type ObjectID struct {
	Ptr uint64
}

func (o ObjectID) full() string {
	return fmt.Sprintf("%016x", o.Ptr)
}

func (o ObjectID) ShortID() string {
	return stringid.TruncateID(o.full())
}

func (o ObjectID) LongID() string {
	return o.full()
}

func (o ObjectID) String() string {
	return o.ShortID()
}
