package transmitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/cyphalcan/pkg/can"
	"github.com/samsamfire/cyphalcan/pkg/crc16"
)

// newScenarioTransfer builds a Transfer ready to drive through
// buildFrame directly, bypassing Publish/enqueue so these tests can
// focus purely on frame layout.
func newScenarioTransfer(mtu int, payload []byte, transferID uint8) *Transfer {
	t := &Transfer{
		owner:      &Instance{mtu: mtu},
		payload:    payload,
		toggle:     true,
		transferID: transferID,
		crc:        crc16.Init,
	}
	t.pending.Store(int32(framesFor(len(payload), mtu)))
	return t
}

// driveFrames runs t to completion the way the scheduler would,
// applying buildFrame's staged increments after every "successful
// send" and returning every frame produced in order.
func driveFrames(t *Transfer, fd bool) []can.Frame {
	var frames []can.Frame
	for t.pending.Load() > 0 {
		f := t.buildFrame(fd)
		frames = append(frames, f)
		t.written += t.lastPayloadInFrame
		t.crcWritten += t.lastCRCInFrame
		t.crc = t.lastCRC
		t.toggle = !t.toggle
		t.pending.Add(-1)
	}
	return frames
}

func repeat(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestBuildFrameSingleMaxSize(t *testing.T) {
	payload := repeat(0x11, 63)
	tr := newScenarioTransfer(64, payload, 0)
	frames := driveFrames(tr, true)
	require.Len(t, frames, 1)
	f := frames[0]
	assert.EqualValues(t, 15, f.DLC)
	assert.Equal(t, payload, f.Data[:63])
	assert.EqualValues(t, 0xE0, f.Data[63])
}

func TestBuildFrameSinglePadded(t *testing.T) {
	payload := repeat(0x22, 32)
	tr := newScenarioTransfer(64, payload, 1)
	frames := driveFrames(tr, true)
	require.Len(t, frames, 1)
	f := frames[0]
	assert.EqualValues(t, 14, f.DLC)
	assert.Equal(t, payload, f.Data[:32])
	for i := 32; i < 47; i++ {
		assert.EqualValuesf(t, 0, f.Data[i], "padding byte %d", i)
	}
	assert.EqualValues(t, 0xE1, f.Data[47])
}

func TestBuildFrameEmptyPayload(t *testing.T) {
	tr := newScenarioTransfer(64, nil, 2)
	frames := driveFrames(tr, true)
	require.Len(t, frames, 1)
	f := frames[0]
	assert.EqualValues(t, 1, f.DLC)
	assert.EqualValues(t, 0xE2, f.Data[0])
}

func TestBuildFrameThreeFullFrames(t *testing.T) {
	payload := repeat(0x33, 187)
	tr := newScenarioTransfer(64, payload, 0)
	frames := driveFrames(tr, true)
	require.Len(t, frames, 3)

	assert.Equal(t, payload[:63], frames[0].Data[:63])
	assert.EqualValues(t, 0xA0, frames[0].Data[63])

	assert.Equal(t, payload[63:126], frames[1].Data[:63])
	assert.EqualValues(t, 0x00, frames[1].Data[63])

	assert.Equal(t, payload[126:187], frames[2].Data[:61])
	assert.EqualValues(t, 0x95, frames[2].Data[61])
	assert.EqualValues(t, 0x90, frames[2].Data[62])
	assert.EqualValues(t, 0x60, frames[2].Data[63])

	full := crc16.Init.Add(payload)
	assert.EqualValues(t, 0x9590, full)
}

func TestBuildFrameSplitCRC(t *testing.T) {
	payload := repeat(0x55, 125)
	tr := newScenarioTransfer(64, payload, 2)
	frames := driveFrames(tr, true)
	require.Len(t, frames, 3)

	assert.Equal(t, payload[:63], frames[0].Data[:63])
	assert.EqualValues(t, 0xA2, frames[0].Data[63])

	assert.Equal(t, payload[63:125], frames[1].Data[:62])
	assert.EqualValues(t, 0xEE, frames[1].Data[62])
	assert.EqualValues(t, 0x02, frames[1].Data[63])

	assert.EqualValues(t, 0x63, frames[2].Data[0])
	assert.EqualValues(t, 0x62, frames[2].Data[1])

	full := crc16.Init.Add(payload)
	assert.EqualValues(t, 0xEE63, full)
}

func TestBuildFrameTransferIDWraps(t *testing.T) {
	tr := &Transfer{owner: &Instance{mtu: 64}, transferID: initialTransferID}
	var tails []byte
	for i := 0; i < 33; i++ {
		tr.transferID = (tr.transferID + 1) % 32
		tr.payload = []byte{0xAB}
		tr.written = 0
		tr.crcWritten = 0
		tr.toggle = true
		tr.crc = crc16.Init
		tr.pending.Store(1)
		f := tr.buildFrame(true)
		tails = append(tails, f.Data[1])
		tr.pending.Store(0)
	}
	assert.EqualValues(t, 0xE0, tails[0])
	assert.EqualValues(t, 0xE1, tails[1])
	assert.EqualValues(t, 0xFF, tails[31])
	assert.EqualValues(t, 0xE0, tails[32])
}

func TestTransferPendingReflectsInFlightState(t *testing.T) {
	tr := newScenarioTransfer(64, []byte{1, 2, 3}, 0)
	assert.True(t, tr.Pending())
	tr.pending.Store(0)
	assert.False(t, tr.Pending())
}
