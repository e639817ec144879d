package transmitter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/samsamfire/cyphalcan/pkg/can"
	"github.com/samsamfire/cyphalcan/pkg/crc16"
	"github.com/samsamfire/cyphalcan/pkg/identifier"
	"github.com/samsamfire/cyphalcan/pkg/txerr"
)

// CompletionFunc is invoked exactly once when a transfer reaches a
// terminal state: success (status == nil), or one of the txerr
// sentinels / a *txerr.DriverError.
type CompletionFunc func(user any, status error)

type transferState uint8

const (
	stateIdle transferState = iota
	stateArmed
	stateInFlight
)

// initialTransferID is seeded so the transfer-id of the first publish
// on a freshly initialized handle is 0 (31+1 mod 32).
const initialTransferID uint8 = 31

// Transfer is one transmitter handle. A handle carries at most one
// in-flight transfer at a time; Publish on an already-pending handle
// fails with txerr.ErrBusy. Handles are meant to be reused across
// publishes rather than allocated per message.
type Transfer struct {
	owner *Instance

	// next links this transfer into the owner's intrusive queue.
	// Owner-mutex protected, like every field below except pending
	// and status.
	next *Transfer

	id         uint32
	deadline   time.Time
	payload    []byte
	written    int
	crc        crc16.CRC16
	crcWritten int
	toggle     bool
	transferID uint8
	state      transferState

	// lastPayloadInFrame/lastCRCInFrame/lastCRC are what buildFrame
	// computed for the most recently built frame; the scheduler commits
	// them to written/crcWritten/crc only after a successful
	// controller.Send, since a frame that fails to send (Busy) is
	// rebuilt identically on the next turn.
	lastPayloadInFrame int
	lastCRCInFrame     int
	lastCRC            crc16.CRC16

	onDone CompletionFunc
	user   any

	// pending and status cross the driver-callback / scheduler
	// boundary. pending is the only field the callback updates
	// atomically; status is written right before the atomic operation
	// that publishes it (Store(0) on error, or the Add(-1) that
	// brings pending to zero on success), so a goroutine observing
	// pending == 0 also observes the status written before it.
	pending atomic.Int32
	status  error
}

// Init binds t to its owning instance and resets its transfer-id
// counter. Must be called once before the handle's first Publish.
func (t *Transfer) Init(owner *Instance) error {
	if owner == nil {
		return txerr.ErrInvalidArgument
	}
	*t = Transfer{owner: owner, transferID: initialTransferID}
	return nil
}

// Pending reports whether a transfer submitted through this handle is
// still in flight.
func (t *Transfer) Pending() bool {
	return t.pending.Load() > 0
}

// Publish arms, enqueues, and returns as soon as the transfer has been
// accepted onto the queue; completion is reported later through
// onDone. ctx bounds only the wait for the instance mutex during
// enqueue, not the transfer's own lifetime.
func (t *Transfer) Publish(ctx context.Context, priority identifier.Priority, subjectID uint16, payload []byte, deadline time.Time, onDone CompletionFunc) error {
	return t.publish(ctx, priority, subjectID, payload, deadline, onDone, nil)
}

// PublishWait publishes and blocks until the transfer reaches a
// terminal state, returning its status.
func (t *Transfer) PublishWait(ctx context.Context, priority identifier.Priority, subjectID uint16, payload []byte, deadline time.Time) error {
	done := make(chan error, 1)
	err := t.publish(ctx, priority, subjectID, payload, deadline, func(_ any, status error) {
		done <- status
	}, nil)
	if err != nil {
		return err
	}
	select {
	case status := <-done:
		return status
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transfer) publish(ctx context.Context, priority identifier.Priority, subjectID uint16, payload []byte, deadline time.Time, onDone CompletionFunc, user any) error {
	if t.owner == nil {
		return txerr.ErrInvalidArgument
	}
	id, err := identifier.Make(identifier.Params{
		Priority:  priority,
		SubjectID: subjectID,
		SourceID:  t.owner.nodeID,
	})
	if err != nil {
		return err
	}

	numFrames := framesFor(len(payload), t.owner.mtu)
	if !t.pending.CompareAndSwap(0, int32(numFrames)) {
		return txerr.ErrBusy
	}

	t.id = id
	t.deadline = deadline
	t.payload = payload
	t.written = 0
	t.crc = crc16.Init
	t.crcWritten = 0
	t.toggle = true
	t.transferID = (t.transferID + 1) % 32
	t.status = nil
	t.onDone = onDone
	t.user = user
	t.state = stateArmed

	if err := t.owner.enqueue(ctx, t); err != nil {
		t.pending.Store(0)
		t.state = stateIdle
		return err
	}
	return nil
}

// Cancel makes a best-effort attempt to remove a still-queued
// transfer. If t is no longer queued — already drained to the
// controller, or already idle — it returns txerr.ErrNotPending and
// leaves the transfer to complete naturally.
func (t *Transfer) Cancel() error {
	return t.owner.cancelTransfer(t)
}

// framesFor is the frame count a payload of payloadLen bytes needs:
// one frame if it fits under mtu, else enough frames to also carry the
// trailing 2-byte CRC.
func framesFor(payloadLen, mtu int) int {
	if payloadLen < mtu {
		return 1
	}
	return (payloadLen + 2 + mtu - 2) / (mtu - 1)
}

// buildFrame produces the next frame for t without mutating written,
// crcWritten, or toggle — those are only advanced by the scheduler
// after a successful controller.Send, since a frame that fails to send
// must be retried unchanged.
func (t *Transfer) buildFrame(fd bool) can.Frame {
	mtu := t.owner.mtu
	start := t.written == 0
	end := t.pending.Load() == 1
	single := start && end

	var frame can.Frame
	frame.ID = t.id
	frame.Flags = can.FlagExtended
	if fd {
		frame.Flags |= can.FlagFD | can.FlagBRS
	}

	avail := mtu - 1
	payloadInFrame := len(t.payload) - t.written
	if payloadInFrame > avail {
		payloadInFrame = avail
	}
	if payloadInFrame < 0 {
		payloadInFrame = 0
	}
	copy(frame.Data[:payloadInFrame], t.payload[t.written:t.written+payloadInFrame])

	crc := t.crc
	if !single {
		crc = crc.Add(t.payload[t.written : t.written+payloadInFrame])
	}

	crcInFrame := 0
	if !single {
		remaining := 2 - t.crcWritten
		room := avail - payloadInFrame
		crcInFrame = remaining
		if room < crcInFrame {
			crcInFrame = room
		}
		if crcInFrame < 0 {
			crcInFrame = 0
		}
	}

	used := payloadInFrame + crcInFrame + 1
	dlc := can.BytesToDLC(used, fd)
	totalBytes := can.DLCToBytes(dlc, fd)
	padding := totalBytes - used

	offset := payloadInFrame
	for i := 0; i < padding; i++ {
		frame.Data[offset+i] = 0
	}
	if !single && padding > 0 {
		crc = crc.Add(frame.Data[offset : offset+padding])
	}
	offset += padding

	crcValue := uint16(crc)
	for i := 0; i < crcInFrame; i++ {
		byteIndex := t.crcWritten + i
		if byteIndex == 0 {
			frame.Data[offset+i] = byte(crcValue >> 8)
		} else {
			frame.Data[offset+i] = byte(crcValue)
		}
	}
	offset += crcInFrame

	tail := t.transferID & 0x1F
	if start {
		tail |= 0x80
	}
	if end {
		tail |= 0x40
	}
	if t.toggle {
		tail |= 0x20
	}
	frame.Data[offset] = tail

	frame.DLC = dlc

	t.lastCRC = crc
	t.lastPayloadInFrame = payloadInFrame
	t.lastCRCInFrame = crcInFrame

	return frame
}
