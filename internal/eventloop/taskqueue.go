package eventloop

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// TaskQueue serializes access to one shared external resource (a disk
// cache, a lockfile) across concurrent async ops. At most one Permit is
// outstanding at a time; waiters are granted strictly in arrival order.
// A waiter that gives up before being granted (context cancellation) is
// skipped without stalling the queue, and a grant that races the
// cancellation is forwarded to the next waiter rather than lost.
type TaskQueue struct {
	mu      sync.Mutex
	waiters *queue.Queue // of *Permit
	held    bool
}

// Permit represents one turn of exclusive access. Release exactly once.
type Permit struct {
	q       *TaskQueue
	ready   chan struct{}
	granted bool
	dropped bool
	done    bool
}

// NewTaskQueue creates an idle queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{waiters: queue.New()}
}

// Acquire blocks until the caller holds the queue's turn or ctx is done.
// Grants among non-dropped acquirers are strictly FIFO.
func (q *TaskQueue) Acquire(ctx context.Context) (*Permit, error) {
	p := &Permit{q: q, ready: make(chan struct{})}

	q.mu.Lock()
	if !q.held && q.waiters.Length() == 0 {
		q.held = true
		p.granted = true
		close(p.ready)
		q.mu.Unlock()
		return p, nil
	}
	q.waiters.Add(p)
	q.mu.Unlock()

	select {
	case <-p.ready:
		return p, nil
	case <-ctx.Done():
	}

	// Drop while queued and grant while releasing are both processed
	// under the queue mutex, so the two events cannot interleave.
	q.mu.Lock()
	if p.granted {
		// The holder released between ctx firing and us taking the lock;
		// pass the turn on instead of swallowing it.
		q.grantNextLocked()
		q.mu.Unlock()
		return nil, ctx.Err()
	}
	p.dropped = true
	q.mu.Unlock()
	return nil, ctx.Err()
}

// Release ends the permit's turn and promotes the next live waiter.
func (p *Permit) Release() {
	q := p.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	q.grantNextLocked()
}

// grantNextLocked hands the turn to the first waiter that has not been
// dropped, lazily discarding dropped entries. Clears held when the queue
// empties.
func (q *TaskQueue) grantNextLocked() {
	for q.waiters.Length() > 0 {
		next := q.waiters.Remove().(*Permit)
		if next.dropped {
			continue
		}
		next.granted = true
		close(next.ready)
		return
	}
	q.held = false
}
