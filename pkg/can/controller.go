package can

import (
	"sync"

	"github.com/samsamfire/cyphalcan/pkg/txerr"
)

// AsyncController adapts any synchronous Bus into the single-mailbox
// Controller contract the transmit scheduler drives, mirroring the
// mutex-guarded send path a BusManager wraps around a Bus, but with a
// single in-flight slot standing in for one hardware mailbox: a second
// Send call arrives while the first is still in flight, and that is
// exactly the ErrBusy backpressure the scheduler is built to expect.
type AsyncController struct {
	bus Bus

	mu   sync.Mutex
	busy bool
}

// NewAsyncController wraps bus as a single-mailbox Controller.
func NewAsyncController(bus Bus) *AsyncController {
	return &AsyncController{bus: bus}
}

// Send hands frame to the underlying Bus on a new goroutine and
// returns immediately. timeout is accepted for interface compatibility
// with a real controller's re-arm delay; this adapter has no hardware
// re-arm to wait for, since Bus.Send either completes or fails inline.
func (c *AsyncController) Send(frame Frame, timeout uint8, cb SendCallback, user any) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return txerr.ErrBusy
	}
	c.busy = true
	c.mu.Unlock()

	go func() {
		err := c.bus.Send(frame)
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		if cb != nil {
			cb(user, err)
		}
	}()
	return nil
}
