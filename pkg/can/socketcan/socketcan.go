// Package socketcan wraps github.com/brutella/can to drive a Linux
// SocketCAN classic interface. CAN-FD frames belong to the sibling
// socketcanfd package, since brutella/can is classic-only (8-byte MTU).
package socketcan

import (
	sockcan "github.com/brutella/can"

	can "github.com/samsamfire/cyphalcan/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
}

func (socketcan *SocketcanBus) Connect(...any) error {
	go socketcan.bus.ConnectAndPublish()
	return nil
}

func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

func (socketcan *SocketcanBus) Send(frame can.Frame) error {
	var data [8]byte
	copy(data[:], frame.Data[:8])
	return socketcan.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Res0:   0,
		Res1:   0,
		Data:   data,
	})
}

func (socketcan *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// Handle satisfies brutella/can's receive callback interface.
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	var out can.Frame
	out.ID = frame.ID
	out.DLC = frame.Length
	out.Flags = frame.Flags
	copy(out.Data[:8], frame.Data[:])
	socketcan.rxCallback.Handle(out)
}

func NewSocketCanBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	return &SocketcanBus{bus: bus}, err
}
