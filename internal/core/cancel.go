package core

import "sync"

// CancelHandle is a one-shot cancellation signal shared between a pending
// op (or a resource with in-flight borrows) and whoever tears it down.
// Cancel is idempotent and safe to call from any goroutine.
type CancelHandle struct {
	once sync.Once
	done chan struct{}
}

// NewCancelHandle creates an un-canceled handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{done: make(chan struct{})}
}

// Cancel raises the signal. Subsequent calls are no-ops.
func (c *CancelHandle) Cancel() {
	c.once.Do(func() { close(c.done) })
}

// Canceled reports whether Cancel has been called.
func (c *CancelHandle) Canceled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation, for use in selects
// alongside blocking work.
func (c *CancelHandle) Done() <-chan struct{} { return c.done }
