// Package eventloop implements the cooperative async task driver for one
// isolate: it tracks in-flight async ops, delivers their results back to
// the engine in completion order, fires timers, and bridges blocking OS
// work onto a bounded worker pool.
package eventloop

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strandjs/strand/internal/core"
)

// ErrDeadline is returned by Run when the execution deadline elapses with
// work still pending.
var ErrDeadline = errors.New("eventloop: execution deadline exceeded")

// pendingOp is the driver's bookkeeping record for one in-flight async
// operation, correlated to a script-side promise by id.
type pendingOp struct {
	id     uint64
	what   string
	cancel *core.CancelHandle

	// Result slot, written once by the completing goroutine. The driver
	// reads it only after the id appears on the completed queue.
	value core.Value
	err   *core.OpError

	fulfilled bool
	deadline  time.Time // non-zero for driver-native timer ops
}

// Driver is the event loop core for one isolate. All delivery happens on
// the goroutine calling Turn/Run (the isolate's cooperative thread);
// completions may arrive from blocking-pool goroutines.
type Driver struct {
	mu        sync.Mutex
	pending   map[uint64]*pendingOp
	completed []uint64 // promise ids ready to deliver, in completion order
	nextID    uint64
	wake      chan struct{}
	shutdown  bool
}

// NewDriver creates an idle driver.
func NewDriver() *Driver {
	return &Driver{
		pending: make(map[uint64]*pendingOp),
		wake:    make(chan struct{}, 1),
	}
}

// Wake nudges a blocked Run loop. Safe from any goroutine.
func (d *Driver) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Register adds a pending op and returns its promise id plus the fulfill
// callback the async work must invoke exactly once, from any goroutine.
// Later calls on the same op are ignored; cancellation requested before
// delivery always wins over a buffered result.
func (d *Driver) Register(what string, cancel *core.CancelHandle) (uint64, func(core.Value, error)) {
	if cancel == nil {
		cancel = core.NewCancelHandle()
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	op := &pendingOp{id: id, what: what, cancel: cancel}
	d.pending[id] = op
	d.mu.Unlock()

	fulfill := func(v core.Value, err error) {
		d.mu.Lock()
		if op.fulfilled {
			d.mu.Unlock()
			return
		}
		op.fulfilled = true
		op.value = v
		op.err = core.AsOpError(err)
		d.completed = append(d.completed, id)
		d.mu.Unlock()
		d.Wake()
	}
	return id, fulfill
}

// RegisterTimer adds a driver-native timer op resolving (with undefined)
// at now+delay and returns its promise id. The caller's cancel handle is
// what clearTimeout-style ops raise.
func (d *Driver) RegisterTimer(delay time.Duration, cancel *core.CancelHandle) uint64 {
	if cancel == nil {
		cancel = core.NewCancelHandle()
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.pending[id] = &pendingOp{
		id:       id,
		what:     "timer",
		cancel:   cancel,
		deadline: time.Now().Add(delay),
	}
	d.mu.Unlock()
	d.Wake()
	return id
}

// Cancel requests cancellation of a pending op. The op resolves to
// Canceled on the next turn even if its future already produced a value.
// Unknown ids are ignored (the op may have been delivered already).
func (d *Driver) Cancel(id uint64) {
	d.mu.Lock()
	op, ok := d.pending[id]
	if ok {
		op.cancel.Cancel()
		d.completed = append(d.completed, id)
	}
	d.mu.Unlock()
	if ok {
		d.Wake()
	}
}

// CancelAll marks every remaining pending op cancel-pending. Used by the
// shutdown coordinator.
func (d *Driver) CancelAll() {
	d.mu.Lock()
	for id, op := range d.pending {
		op.cancel.Cancel()
		d.completed = append(d.completed, id)
	}
	d.mu.Unlock()
	d.Wake()
}

// Shutdown flags the driver so Run exits once the pending set drains, and
// cancels everything still in flight.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	d.shutdown = true
	d.mu.Unlock()
	d.CancelAll()
}

// Len returns the number of in-flight ops (timers included).
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// fireDueTimers moves due timer ops onto the completed queue and returns
// the nearest remaining deadline.
func (d *Driver) fireDueTimers(now time.Time) (next time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, op := range d.pending {
		if op.deadline.IsZero() || op.fulfilled {
			continue
		}
		if !op.deadline.After(now) {
			op.fulfilled = true
			op.value = core.Undefined()
			d.completed = append(d.completed, id)
			continue
		}
		if next.IsZero() || op.deadline.Before(next) {
			next = op.deadline
		}
	}
	return next
}

// Turn delivers everything currently deliverable, in completion order, and
// reports whether it made progress. Cancellation wins races: an op whose
// cancel handle is raised delivers Canceled even when a success result is
// already buffered. Must be called on the isolate's cooperative thread.
func (d *Driver) Turn(sink core.ResultSink) bool {
	d.fireDueTimers(time.Now())

	didWork := false
	for {
		d.mu.Lock()
		if len(d.completed) == 0 {
			d.mu.Unlock()
			return didWork
		}
		id := d.completed[0]
		d.completed = d.completed[1:]
		op, ok := d.pending[id]
		if ok {
			delete(d.pending, id)
		}
		d.mu.Unlock()

		if !ok {
			// Already delivered; a cancel and a completion can both
			// enqueue the same id.
			continue
		}

		didWork = true
		if op.cancel.Canceled() {
			sink.DeliverResult(id, core.Undefined(), core.Canceled(op.what))
		} else if op.err != nil {
			sink.DeliverResult(id, core.Undefined(), op.err)
		} else {
			sink.DeliverResult(id, op.value, nil)
		}
	}
}

// Run turns the loop until the pending set is empty and quiescent reports
// no engine-internal work, or the deadline passes. When a turn makes no
// synchronous progress the loop blocks on the wake channel with a timeout
// derived from the nearest timer.
func (d *Driver) Run(sink core.ResultSink, deadline time.Time, quiescent func() bool) error {
	for {
		if d.Turn(sink) {
			continue
		}

		d.mu.Lock()
		idle := len(d.pending) == 0 && len(d.completed) == 0
		down := d.shutdown
		d.mu.Unlock()

		if idle && (down || quiescent == nil || quiescent()) {
			return nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			core.Logger().Warn("event loop abandoned with work pending",
				zap.Int("pending", d.Len()))
			return ErrDeadline
		}

		wait := deadline.Sub(now)
		if next := d.fireDueTimers(now); !next.IsZero() {
			if until := next.Sub(now); until < wait {
				wait = until
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-d.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}
