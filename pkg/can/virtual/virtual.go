// Package virtual implements a CAN bus over a TCP loopback, for use
// against a virtualcan-compatible broker in tests and local development.
// See https://github.com/windelbouwman/virtualcan.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	can "github.com/samsamfire/cyphalcan/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

// VirtualCanBus is a can.Bus backed by a TCP connection to a virtualcan
// broker. Every connected client sees every frame any client sends,
// which makes it a convenient stand-in for a physical bus in tests.
type VirtualCanBus struct {
	logger        *slog.Logger
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	receiveOwn    bool
	framehandler  can.FrameListener
	stopChan      chan bool
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &VirtualCanBus{
		channel:  channel,
		stopChan: make(chan bool),
		logger:   slog.Default().With("bus", "virtual", "channel", channel),
	}, nil
}

// wireFrame is the on-the-wire layout: fixed-size, so it round-trips
// through binary.Write/Read without a custom codec.
type wireFrame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	_     [2]byte
	Data  [64]byte
}

func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	w := wireFrame{ID: frame.ID, Flags: frame.Flags, DLC: frame.DLC, Data: frame.Data}
	if err := binary.Write(buffer, binary.BigEndian, w); err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	frameBytes = append(frameBytes, dataBytes...)
	return frameBytes, nil
}

func deserializeFrame(buffer []byte) (*can.Frame, error) {
	var w wireFrame
	buf := bytes.NewBuffer(buffer)
	if err := binary.Read(buf, binary.BigEndian, &w); err != nil {
		return nil, err
	}
	frame := can.Frame{ID: w.ID, Flags: w.Flags, DLC: w.DLC, Data: w.Data}
	return &frame, nil
}

// Connect dials the broker, e.g. "localhost:18888".
func (b *VirtualCanBus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	return nil
}

func (b *VirtualCanBus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.errSubscriber && b.isRunning {
		b.stopChan <- true
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *VirtualCanBus) Send(frame can.Frame) error {
	if b.receiveOwn && b.framehandler != nil {
		b.framehandler.Handle(frame)
	} else if b.conn == nil {
		return errors.New("virtual: no active connection, abort send")
	}
	if b.conn != nil {
		frameBytes, err := serializeFrame(frame)
		if err != nil {
			return err
		}
		_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
		_, err = b.conn.Write(frameBytes)
		return err
	}
	return nil
}

func (b *VirtualCanBus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning {
		return nil
	}
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

func (b *VirtualCanBus) Recv() (*can.Frame, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("virtual: no active connection, abort receive")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	headerBytes := make([]byte, 4)
	n, err := b.conn.Read(headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n < 4 || err != nil {
		return nil, fmt.Errorf("virtual: error deserializing header: expected %v, got %v, err: %v", 4, n, err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = b.conn.Read(frameBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n != int(length) || err != nil {
		return nil, fmt.Errorf("virtual: error deserializing: expected %v, got %v", length, n)
	}
	return deserializeFrame(frameBytes)
}

func (b *VirtualCanBus) handleReception() {
	defer func() {
		b.isRunning = false
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			if !b.mu.TryLock() {
				break
			}
			frame, err := b.Recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// no message, expected
			} else if err != nil {
				b.logger.Error("listening routine closed", "err", err)
				b.errSubscriber = true
				b.mu.Unlock()
				return
			} else if b.framehandler != nil {
				b.framehandler.Handle(*frame)
			}
			b.mu.Unlock()
		}
	}
}

func (b *VirtualCanBus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}
