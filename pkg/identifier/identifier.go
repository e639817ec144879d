// Package identifier builds the 29-bit Cyphal/CAN extended identifier
// whose numeric value encodes transfer priority and, for messages, the
// subject being published.
package identifier

import "github.com/samsamfire/cyphalcan/pkg/txerr"

// Priority is the 3-bit Cyphal transfer priority; 0 is highest, 7 is
// lowest, and a smaller numeric value wins CAN bus arbitration.
type Priority uint8

const (
	Exceptional Priority = iota
	Immediate
	Fast
	High
	Nominal
	Low
	Slow
	Optional
)

// Field limits, CiA-1030-compatible.
const (
	MaxNodeID    = 127
	MaxServiceID = 511
	MaxSubjectID = 8191
)

const (
	priorityShift = 26
	serviceBit    = 1 << 25
	requestBit    = 1 << 24
	msgReserved   = (1 << 22) | (1 << 21)
	serviceShift  = 14
	serviceMask   = uint32(MaxServiceID) << serviceShift
	subjectShift  = 8
	subjectMask   = uint32(MaxSubjectID) << subjectShift
	destShift     = 7
	destMask      = uint32(MaxNodeID) << destShift
	sourceMask    = uint32(MaxNodeID)
)

// Params describes one Cyphal/CAN identifier. Only message transfers
// (IsService == false) are produced by this module's transmit path, but
// the codec implements the full field layout so it stays reusable
// should a service-side transmitter be built on top later.
type Params struct {
	Priority      Priority
	IsService     bool
	IsRequest     bool
	ServiceID     uint16
	SubjectID     uint16
	DestinationID uint8
	SourceID      uint8
}

// Make validates Params and packs them into the 29-bit identifier
// described in the Cyphal/CAN transport specification. Bit 28 is the
// MSB of the returned value; bits above 28 are always zero.
func Make(p Params) (uint32, error) {
	if p.Priority > Optional ||
		p.ServiceID > MaxServiceID ||
		p.SubjectID > MaxSubjectID ||
		p.DestinationID > MaxNodeID ||
		p.SourceID > MaxNodeID {
		return 0, txerr.ErrInvalidArgument
	}

	id := uint32(p.Priority) << priorityShift
	if p.IsService {
		id |= serviceBit
		if p.IsRequest {
			id |= requestBit
		}
		id |= (uint32(p.ServiceID) << serviceShift) & serviceMask
		id |= (uint32(p.DestinationID) << destShift) & destMask
	} else {
		id |= msgReserved
		id |= (uint32(p.SubjectID) << subjectShift) & subjectMask
	}
	id |= uint32(p.SourceID) & sourceMask
	return id, nil
}
