// Package can defines the CAN controller collaborators this module
// consumes: the synchronous Bus a concrete driver implements, and the
// asynchronous, mailbox-shaped Controller the transmit scheduler drives.
// Both interfaces and the frame/DLC definitions here are named
// collaborators, not core logic — concrete drivers live in the sibling
// virtual/socketcan/socketcanfd packages.
package can

import "fmt"

// Frame flags, matching the "extended identifier" / "FD frame" /
// "bit-rate switch" controller flags the transmit path must set.
const (
	FlagExtended uint8 = 1 << 0
	FlagFD       uint8 = 1 << 1
	FlagBRS      uint8 = 1 << 2
)

// Frame is a single CAN classic or CAN-FD frame. Data is sized for the
// largest CAN-FD payload (64 bytes); classic frames only ever use the
// first 8.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [64]byte
}

// classicDLCBytes maps a CAN classic DLC directly to its byte count;
// unlike CAN-FD the mapping is linear.
var classicDLCBytes = [9]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8}

// fdDLCBytes maps a CAN-FD DLC to its byte count; non-linear above 8.
var fdDLCBytes = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// BytesToDLC returns the smallest DLC whose byte count covers length.
func BytesToDLC(length int, fd bool) uint8 {
	table := classicDLCBytes[:]
	if fd {
		table = fdDLCBytes[:]
	}
	for dlc, n := range table {
		if int(n) >= length {
			return uint8(dlc)
		}
	}
	return uint8(len(table) - 1)
}

// DLCToBytes returns the byte count a DLC value covers.
func DLCToBytes(dlc uint8, fd bool) int {
	table := classicDLCBytes[:]
	if fd {
		table = fdDLCBytes[:]
	}
	if int(dlc) >= len(table) {
		dlc = uint8(len(table) - 1)
	}
	return int(table[dlc])
}

// FrameListener handles a received CAN frame. The transmit-only scope
// of this module never implements one itself, but drivers still expose
// Subscribe so a receive path can be layered on later without touching
// the driver.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the synchronous interface a concrete CAN driver implements:
// one blocking Send call per frame, plus connection lifecycle and
// reception plumbing for a future receive path.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// SendCallback is invoked exactly once per Controller.Send call,
// reporting whether the controller's mailbox accepted and transmitted
// the frame. It runs from driver/ISR context: it must not block and
// must not itself call back into the transmit path synchronously.
type SendCallback func(user any, err error)

// Controller is the asynchronous "send(frame, timeout, cb)" contract
// the transmit scheduler is built against. Send must return immediately:
// ErrBusy (see pkg/txerr) when the mailbox is currently full, nil once
// the frame has been handed to the mailbox (with cb firing later), or
// any other error to reject the frame synchronously.
type Controller interface {
	Send(frame Frame, timeout uint8, cb SendCallback, user any) error
}

// NewInterfaceFunc constructs a Bus for a given channel string (e.g. an
// interface name or network address), mirroring the driver-registry
// pattern of the CANopen stack this module is adapted from.
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a new Bus constructor under a name. Driver
// packages call this from an init() function.
func RegisterInterface(name string, fn NewInterfaceFunc) {
	interfaceRegistry[name] = fn
}

// NewBus constructs a Bus for a previously registered interface name.
func NewBus(interfaceName, channel string) (Bus, error) {
	fn, ok := interfaceRegistry[interfaceName]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", interfaceName)
	}
	return fn(channel)
}
