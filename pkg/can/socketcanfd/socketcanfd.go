// Package socketcanfd drives a Linux SocketCAN interface in CAN-FD
// mode via raw syscalls, since neither the standard library nor
// brutella/can (classic-only, 8-byte MTU) expose the wider canfd_frame
// wire format. It is the only driver in this module able to carry the
// 64-byte frames the transmit path builds once FD is negotiated.
package socketcanfd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	can "github.com/samsamfire/cyphalcan/pkg/can"
)

func init() {
	can.RegisterInterface("socketcanfd", NewBus)
}

const (
	// canfdFrameSize is sizeof(struct canfd_frame): 4-byte id, 1-byte
	// len, 1-byte flags, 2 reserved bytes, 64 bytes of data.
	canfdFrameSize = 72
	// msgBatchSize is the number of frames read per recvmmsg call.
	msgBatchSize = 64
	// canEFFFlag marks an identifier as 29-bit extended, matching the
	// Linux CAN_EFF_FLAG bit in canid_t.
	canEFFFlag uint32 = 0x80000000
	// canfdBRS is the bit-rate-switch flag in canfd_frame.flags.
	canfdBRS uint8 = 0x01
)

// canfdFrame mirrors struct canfd_frame from linux/can.h byte for byte.
type canfdFrame struct {
	ID    uint32
	Len   uint8
	Flags uint8
	res0  uint8
	res1  uint8
	Data  [64]byte
}

var defaultTimeVal = unix.Timeval{Usec: 100_000}

// Bus drives a CAN-FD capable SocketCAN interface directly through the
// raw socket syscalls, bypassing the net package entirely for the
// frame path (only used to resolve the interface index by name).
type Bus struct {
	fd         int
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewBus opens and binds a CAN-FD raw socket on the named interface
// (e.g. "can0"), which must already be up and configured for FD.
func NewBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcanfd: failed to create CAN socket: %w", err)
	}
	enableFD := 1
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, enableFD); err != nil {
		return nil, fmt.Errorf("socketcanfd: failed to enable CAN_RAW_FD_FRAMES: %w", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &defaultTimeVal); err != nil {
		return nil, fmt.Errorf("socketcanfd: failed to set read timeout: %w", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, err
	}
	return &Bus{fd: fd, logger: slog.Default().With("bus", "socketcanfd", "channel", channel)}, nil
}

func (b *Bus) Connect(...any) error {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

func (b *Bus) Disconnect() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.wg.Wait()
	return unix.Close(b.fd)
}

// Send writes one frame in canfd_frame format. Classic frames (8 bytes
// or fewer, FlagFD unset) are written through the same FD-enabled
// socket; the kernel accepts both once CAN_RAW_FD_FRAMES is set.
func (b *Bus) Send(frame can.Frame) error {
	raw := canfdFrame{ID: frame.ID, Len: uint8(can.DLCToBytes(frame.DLC, true))}
	if frame.Flags&can.FlagExtended != 0 {
		raw.ID |= canEFFFlag
	}
	if frame.Flags&can.FlagBRS != 0 {
		raw.Flags |= canfdBRS
	}
	raw.Data = frame.Data

	rawBytes := (*(*[canfdFrameSize]byte)(unsafe.Pointer(&raw)))[:]
	n, err := unix.Write(b.fd, rawBytes)
	if err != nil {
		return err
	}
	if n != canfdFrameSize {
		return fmt.Errorf("socketcanfd: short write: wrote %d of %d bytes", n, canfdFrameSize)
	}
	return nil
}

func (b *Bus) processIncoming(ctx context.Context) {
	if err := unix.SetNonblock(b.fd, false); err != nil {
		b.logger.Error("failed to set blocking mode", "err", err)
		return
	}

	frames := make([]canfdFrame, msgBatchSize)
	iovecs := make([]unix.Iovec, msgBatchSize)
	mmsgs := make([]Mmsghdr, msgBatchSize)

	for i := range msgBatchSize {
		iovecs[i].Base = (*byte)(unsafe.Pointer(&frames[i]))
		iovecs[i].SetLen(canfdFrameSize)
		mmsgs[i].Hdr.Iov = &iovecs[i]
		mmsgs[i].Hdr.Iovlen = 1
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("exiting CAN-FD reception, closed")
			return
		default:
			ts := unix.Timespec{Nsec: 10_000_000} // 10ms

			n, _, errno := unix.Syscall6(
				unix.SYS_RECVMMSG,
				uintptr(b.fd),
				uintptr(unsafe.Pointer(&mmsgs[0])),
				uintptr(msgBatchSize),
				0,
				uintptr(unsafe.Pointer(&ts)),
				0,
			)

			if errno != 0 {
				if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR {
					continue
				}
				b.logger.Error("recvmmsg syscall error", "err", errno)
				return
			}

			nbMsg := int(n)
			if nbMsg == 0 {
				b.logger.Info("socket closed")
				return
			}

			for i := range nbMsg {
				frame := frames[i]
				out := can.Frame{ID: frame.ID &^ canEFFFlag, DLC: can.BytesToDLC(int(frame.Len), true), Data: frame.Data}
				if frame.ID&canEFFFlag != 0 {
					out.Flags |= can.FlagExtended
				}
				if frame.Flags&canfdBRS != 0 {
					out.Flags |= can.FlagFD | can.FlagBRS
				}
				if b.rxCallback != nil {
					b.rxCallback.Handle(out)
				}
			}
		}
	}
}

func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	return nil
}

// SetReceiveOwn toggles CAN_RAW_RECV_OWN_MSGS, useful in tests.
func (b *Bus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// SetFilters installs kernel-side CAN-ID filters.
func (b *Bus) SetFilters(filters []unix.CanFilter) error {
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}
