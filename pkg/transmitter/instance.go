// Package transmitter implements the Cyphal/CAN transmit path: a
// priority-ordered queue of in-progress transfers, a frame builder
// that lays out per-frame payload/CRC/padding/tail bytes, and a
// cooperative scheduler that drains the queue through an asynchronous
// CAN controller one mailbox slot at a time.
package transmitter

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/samsamfire/cyphalcan/pkg/can"
	"github.com/samsamfire/cyphalcan/pkg/identifier"
	"github.com/samsamfire/cyphalcan/pkg/metrics"
	"github.com/samsamfire/cyphalcan/pkg/txerr"
)

// Instance owns the controller handle, the node identity, and the
// transmit queue. One Instance drives one CAN interface.
type Instance struct {
	controller can.Controller
	nodeID     uint8
	fd         bool
	mtu        int

	mu   *semaphore.Weighted
	head *Transfer

	wake chan struct{}
	done chan struct{}

	logger  *slog.Logger
	metrics *metrics.Collector
}

// Init validates node_id, rejects a nil controller with
// txerr.ErrNoDevice (it does not query the controller for readiness),
// and starts the scheduler's background loop. The core has no
// explicit destroy requirement, but Close stops the goroutine so
// long-running hosts and tests don't leak it.
func (in *Instance) Init(controller can.Controller, nodeID uint8, opts ...Option) error {
	if controller == nil {
		return txerr.ErrNoDevice
	}
	if nodeID > identifier.MaxNodeID {
		return txerr.ErrInvalidArgument
	}

	*in = Instance{
		controller: controller,
		nodeID:     nodeID,
		mtu:        8,
		mu:         semaphore.NewWeighted(1),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     slog.Default(),
		metrics:    metrics.NoOp(),
	}
	for _, opt := range opts {
		opt(in)
	}

	go in.run()
	return nil
}

// Close stops the scheduler goroutine. Safe to call once; calling it
// twice panics on the closed channel, matching the stdlib's own
// close-is-a-one-shot convention.
func (in *Instance) Close() {
	close(in.done)
}

// enqueue arms t onto the queue and wakes the scheduler. ctx bounds
// only the wait for the instance mutex.
func (in *Instance) enqueue(ctx context.Context, t *Transfer) error {
	if err := in.mu.Acquire(ctx, 1); err != nil {
		return err
	}
	queuePush(&in.head, t)
	in.metrics.SetQueueDepth(queueLen(in.head))
	in.mu.Release(1)
	in.signal()
	return nil
}

// cancelTransfer makes a best-effort attempt to remove t from the
// queue. If t is the head and has already handed at least one frame to
// the controller, or is not queued at all, it reports
// txerr.ErrNotPending and leaves the transfer to complete naturally.
func (in *Instance) cancelTransfer(t *Transfer) error {
	if err := in.mu.Acquire(context.Background(), 1); err != nil {
		return err
	}
	if in.head == t && t.state == stateInFlight {
		in.mu.Release(1)
		return txerr.ErrNotPending
	}
	if !queueRemove(&in.head, t) {
		in.mu.Release(1)
		return txerr.ErrNotPending
	}
	in.logCompletion(t, txerr.ErrCanceled)
	t.status = txerr.ErrCanceled
	t.state = stateIdle
	t.pending.Store(0)
	onDone, user := t.onDone, t.user
	in.metrics.SetQueueDepth(queueLen(in.head))
	in.mu.Release(1)
	in.metrics.TransferCompleted(statusLabel(txerr.ErrCanceled))
	in.notify(onDone, user, txerr.ErrCanceled)
	return nil
}
