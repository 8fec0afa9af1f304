package eventloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/strandjs/strand/internal/core"
)

// BlockingPool runs blocking OS calls (disk I/O, DNS, subprocess waits) on
// a bounded set of worker goroutines. It is the only sanctioned way
// blocking work enters the system; op implementations must never block the
// cooperative thread directly.
type BlockingPool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewBlockingPool starts size workers.
func NewBlockingPool(size int) *BlockingPool {
	if size <= 0 {
		size = 1
	}
	p := &BlockingPool{tasks: make(chan func(), size*16)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p
}

// Go queues fn for execution on a worker. Blocks briefly when every worker
// is busy and the queue is full; fails once the pool is closed. The send
// happens under the same lock Close takes before closing the channel, so a
// Go racing a Close can never send on a closed channel.
func (p *BlockingPool) Go(fn func()) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return fmt.Errorf("blocking pool closed")
	}
	p.tasks <- fn
	return nil
}

// Close stops accepting work and waits for in-flight tasks to finish.
// Tasks are expected to observe their cancel handles and return promptly.
func (p *BlockingPool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// GoWithCancel runs fn on the pool with a context that is canceled when
// the cancel handle fires, so a close or shutdown mid-flight unblocks the
// task, and routes the outcome to fulfill. Used by blocking op
// implementations that already hold a registration's fulfill closure.
func GoWithCancel(p *BlockingPool, what string, cancel *core.CancelHandle, fulfill func(core.Value, error), fn func(ctx context.Context) (core.Value, error)) {
	err := p.Go(func() {
		ctx, stop := context.WithCancel(context.Background())
		defer stop()
		go func() {
			select {
			case <-cancel.Done():
				stop()
			case <-ctx.Done():
			}
		}()
		v, ferr := fn(ctx)
		fulfill(v, ferr)
	})
	if err != nil {
		fulfill(core.Undefined(), core.Canceled(what))
	}
}

// SubmitBlocking registers an async op whose work runs on the pool.
// Returns the promise id.
func (d *Driver) SubmitBlocking(p *BlockingPool, what string, cancel *core.CancelHandle, fn func(ctx context.Context) (core.Value, error)) uint64 {
	if cancel == nil {
		cancel = core.NewCancelHandle()
	}
	id, fulfill := d.Register(what, cancel)
	GoWithCancel(p, what, cancel, fulfill, fn)
	return id
}
