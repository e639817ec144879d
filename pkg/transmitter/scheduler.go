package transmitter

import (
	"time"

	"github.com/samsamfire/cyphalcan/pkg/txerr"
)

// rearmDelay is how long the scheduler waits before retrying after a
// contended mutex or a busy controller mailbox.
const rearmDelay = 100 * time.Microsecond

// run is the scheduler's dedicated goroutine. It wakes on in.wake,
// does as much queue progress as a single non-blocking mutex
// acquisition allows, then goes back to sleep until the next signal.
func (in *Instance) run() {
	for {
		select {
		case <-in.done:
			return
		case <-in.wake:
			in.tick()
		}
	}
}

func (in *Instance) signal() {
	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *Instance) rearm() {
	time.AfterFunc(rearmDelay, in.signal)
}

// tick is one scheduler turn, per the driver-loop body: drop an
// expired or already-drained head, else build and submit the next
// frame for the current head.
func (in *Instance) tick() {
	if !in.mu.TryAcquire(1) {
		in.rearm()
		return
	}

	if head := in.head; head != nil {
		switch {
		case head.pending.Load() == 0:
			onDone, user, status := in.finishLocked(head, head.status)
			in.mu.Release(1)
			in.metrics.TransferCompleted(statusLabel(status))
			in.notify(onDone, user, status)
			in.signal()
			return
		case !head.deadline.IsZero() && time.Now().After(head.deadline):
			onDone, user, status := in.finishLocked(head, txerr.ErrTimeout)
			in.mu.Release(1)
			in.metrics.TransferCompleted(statusLabel(status))
			in.notify(onDone, user, status)
			in.signal()
			return
		}
	}

	head := in.head
	if head == nil {
		in.mu.Release(1)
		return
	}

	frame := head.buildFrame(in.fd)
	err := in.controller.Send(frame, 0, in.onSent, head)
	switch {
	case err == txerr.ErrBusy:
		in.mu.Release(1)
		in.metrics.BusyRearm()
		in.rearm()
	case err != nil:
		onDone, user, status := in.finishLocked(head, &txerr.DriverError{Code: err})
		in.mu.Release(1)
		in.metrics.TransferCompleted(statusLabel(status))
		in.notify(onDone, user, status)
		in.signal()
	default:
		head.written += head.lastPayloadInFrame
		head.crcWritten += head.lastCRCInFrame
		head.crc = head.lastCRC
		head.toggle = !head.toggle
		head.state = stateInFlight
		in.metrics.FrameSent()
		in.mu.Release(1)
	}
}

// finishLocked unlinks t from wherever it sits in the queue and marks
// it idle. The caller must hold the mutex and must release it before
// invoking the returned completion callback — onDone may itself call
// back into Publish, and the mutex is not reentrant.
func (in *Instance) finishLocked(t *Transfer, status error) (CompletionFunc, any, error) {
	if in.head == t {
		queuePop(&in.head)
	} else {
		queueRemove(&in.head, t)
	}
	in.metrics.SetQueueDepth(queueLen(in.head))
	in.logCompletion(t, status)
	t.status = status
	t.state = stateIdle
	t.pending.Store(0)
	return t.onDone, t.user, status
}

// logCompletion logs a transfer's terminal outcome exactly once, at the
// point it's unlinked from the queue — Debug for a clean finish
// (including Cancel), Warn for a timeout or a driver-reported error.
// Must be called with the instance mutex held, so t's id/transferID
// can't be mutated underneath it by a concurrent Publish.
func (in *Instance) logCompletion(t *Transfer, status error) {
	switch {
	case status == nil:
		in.logger.Debug("transfer completed", "canID", t.id, "transferID", t.transferID)
	case status == txerr.ErrCanceled:
		in.logger.Debug("transfer canceled", "canID", t.id, "transferID", t.transferID)
	default:
		in.logger.Warn("transfer failed", "canID", t.id, "transferID", t.transferID, "error", status)
	}
}

func (in *Instance) notify(onDone CompletionFunc, user any, status error) {
	if onDone != nil {
		onDone(user, status)
	}
}

// onSent is the controller.SendCallback: it runs from driver/ISR
// context with no mutex held. It only touches pending (atomically) and,
// on error, status, then schedules the next scheduler turn; the
// mutex-protected pop is
// attempted with TryAcquire only; if contended, the scheduler's own
// tick picks up the drained head on its next turn instead of blocking
// the driver thread.
func (in *Instance) onSent(user any, err error) {
	t, ok := user.(*Transfer)
	if !ok || t == nil {
		return
	}
	if err != nil {
		t.status = &txerr.DriverError{Code: err}
		t.pending.Store(0)
	} else {
		t.pending.Add(-1)
	}

	if in.mu.TryAcquire(1) {
		if t.pending.Load() == 0 {
			onDone, user, status := in.finishLocked(t, t.status)
			in.mu.Release(1)
			in.metrics.TransferCompleted(statusLabel(status))
			in.notify(onDone, user, status)
		} else {
			in.mu.Release(1)
		}
	}
	in.signal()
}

func statusLabel(status error) string {
	if status == nil {
		return "ok"
	}
	return status.Error()
}
