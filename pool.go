package strand

import (
	"fmt"
	"sync"
)

// Pool manages a fixed set of pre-warmed isolates so embedders serving
// many short scripts skip per-request engine startup. Acquire blocks until
// an isolate is free; Release returns it or, when the pool has shut down
// meanwhile, tears it down.
type Pool struct {
	isolates chan *Isolate
	size     int

	mu     sync.Mutex
	closed bool
}

// NewPool creates size isolates with identical options.
func NewPool(opts IsolateOptions) (*Pool, error) {
	cfg := opts.Config.WithDefaults()
	p := &Pool{
		isolates: make(chan *Isolate, cfg.PoolSize),
		size:     cfg.PoolSize,
	}
	for i := 0; i < p.size; i++ {
		iso, err := NewIsolate(opts)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating pool isolate %d: %w", i, err)
		}
		p.isolates <- iso
	}
	return p, nil
}

// Acquire takes an isolate out of the pool.
func (p *Pool) Acquire() (*Isolate, error) {
	iso, ok := <-p.isolates
	if !ok {
		return nil, fmt.Errorf("isolate pool is closed")
	}
	return iso, nil
}

// Release returns an isolate to the pool. Isolates that have been shut
// down must not be released; create a replacement instead. The send is
// non-blocking and held under the same lock Close takes before closing
// the channel, so a Release racing a Close shuts the isolate down instead
// of panicking.
func (p *Pool) Release(iso *Isolate) {
	p.mu.Lock()
	if !p.closed {
		select {
		case p.isolates <- iso:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()
	iso.Shutdown()
}

// Close shuts down every pooled isolate. In-use isolates are torn down by
// their eventual Release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.isolates)
	p.mu.Unlock()

	for iso := range p.isolates {
		iso.Shutdown()
	}
}
