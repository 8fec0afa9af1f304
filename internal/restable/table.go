// Package restable implements the per-isolate resource table: the single
// authoritative registry of native objects (files, sockets, processes,
// locks, timers) referenced from script by integer handle.
package restable

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/strandjs/strand/internal/core"
)

// Resource is the capability interface every table entry implements.
// Close must be idempotent on the object itself; the table additionally
// guarantees the hook is invoked at most once per entry. Optional
// capabilities are discovered by interface assertion: io.Reader,
// io.Writer, and Shutdowner.
type Resource interface {
	// Name returns a human-readable description for diagnostics.
	Name() string

	// Close tears the resource down.
	Close() error
}

// Shutdowner is implemented by stream-like resources supporting half-close.
type Shutdowner interface {
	Shutdown() error
}

// Handles pack a slot index and a generation counter so a reused slot can
// never be mistaken for its previous occupant: a stale handle decodes to a
// live slot but the wrong generation and fails with BadResource.
const (
	genBits  = 12
	genMask  = 1<<genBits - 1
	maxSlots = 1<<(32-genBits) - 2
)

type entry struct {
	res    Resource
	cancel *core.CancelHandle
	gen    uint16
	live   bool
}

// Table is a generational slot map from handle to resource. It is owned by
// exactly one isolate; cross-isolate handle sharing is not supported. The
// mutex only guards against misuse from blocking-pool goroutines touching
// diagnostics; all mutation happens on the isolate's cooperative thread.
type Table struct {
	mu      sync.Mutex
	entries []entry
	free    []uint32
	live    int
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make([]entry, 0, 16)}
}

func packHandle(slot uint32, gen uint16) core.Handle {
	return core.Handle((slot+1)<<genBits | uint32(gen)&genMask)
}

func unpackHandle(h core.Handle) (slot uint32, gen uint16, ok bool) {
	if h == 0 {
		return 0, 0, false
	}
	raw := uint32(h) >> genBits
	if raw == 0 {
		return 0, 0, false
	}
	return raw - 1, uint16(uint32(h) & genMask), true
}

// Add inserts a resource and returns a fresh handle not currently in use.
func (t *Table) Add(res Resource) core.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := entry{res: res, cancel: core.NewCancelHandle(), live: true}

	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		e.gen = t.entries[slot].gen
		t.entries[slot] = e
		t.live++
		return packHandle(slot, e.gen)
	}

	if len(t.entries) >= maxSlots {
		// Programmer error territory: a runtime leaking a million live
		// resources is broken well before this trips.
		panic("restable: table slot space exhausted")
	}
	t.entries = append(t.entries, e)
	t.live++
	return packHandle(uint32(len(t.entries)-1), e.gen)
}

func (t *Table) lookup(h core.Handle) (*entry, error) {
	slot, gen, ok := unpackHandle(h)
	if !ok || int(slot) >= len(t.entries) {
		return nil, core.BadResourcef("unknown resource handle %d", h)
	}
	e := &t.entries[slot]
	if !e.live || e.gen != gen {
		return nil, core.BadResourcef("resource handle %d is closed", h)
	}
	return e, nil
}

// GetAny returns the resource for a handle without narrowing its type.
// The returned reference is a borrow: the table keeps its strong reference
// and the caller must stop using it once the entry's cancel handle fires.
func (t *Table) GetAny(h core.Handle) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.res, nil
}

// Get returns the resource for a handle narrowed to T. A live handle of
// the wrong concrete type fails with BadResource naming both types.
func Get[T Resource](t *Table, h core.Handle) (T, error) {
	var zero T
	res, err := t.GetAny(h)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, core.BadResourcef("resource handle %d is %T, not %T", h, res, zero)
	}
	return typed, nil
}

// Take removes the entry and transfers ownership of the resource to the
// caller without invoking Close. Used when a resource is promoted to a
// next pipeline stage rather than torn down.
func Take[T Resource](t *Table, h core.Handle) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.lookup(h)
	if err != nil {
		return zero, err
	}
	typed, ok := e.res.(T)
	if !ok {
		return zero, core.BadResourcef("resource handle %d is %T, not %T", h, e.res, zero)
	}
	t.removeLocked(h, e)
	return typed, nil
}

// removeLocked frees the entry's slot and bumps the generation so the
// handle can never resolve again.
func (t *Table) removeLocked(h core.Handle, e *entry) {
	slot, _, _ := unpackHandle(h)
	e.live = false
	e.res = nil
	e.gen = (e.gen + 1) & genMask
	t.free = append(t.free, slot)
	t.live--
}

// CancelHandle returns the cancellation handle paired with the entry.
// Ops that borrow the resource for an in-flight read or write watch it so
// a close during the operation is observed as cancellation rather than a
// use of freed state.
func (t *Table) CancelHandle(h core.Handle) (*core.CancelHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.cancel, nil
}

// Close invokes the resource's close hook exactly once and removes the
// entry. A second Close on the same handle fails with BadResource, never
// a panic. In-flight operations borrowing the resource observe the
// entry's cancel handle firing before the hook runs.
func (t *Table) Close(h core.Handle) error {
	t.mu.Lock()
	e, err := t.lookup(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	res := e.res
	cancel := e.cancel
	t.removeLocked(h, e)
	t.mu.Unlock()

	cancel.Cancel()
	if err := res.Close(); err != nil {
		return core.IoError(fmt.Errorf("closing %s: %w", res.Name(), err))
	}
	return nil
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Names returns handle → description for every live entry, for
// diagnostics (e.g. "leaked resources" reports at isolate exit).
func (t *Table) Names() map[core.Handle]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[core.Handle]string, t.live)
	for slot := range t.entries {
		e := &t.entries[slot]
		if e.live {
			out[packHandle(uint32(slot), e.gen)] = e.res.Name()
		}
	}
	return out
}

// DrainAll closes every remaining entry at isolate teardown. Individual
// close failures are logged and skipped so one misbehaving resource cannot
// block shutdown of the rest. After DrainAll the table is empty and every
// previously live resource's close hook has run exactly once.
func (t *Table) DrainAll() {
	for h := range t.Names() {
		if err := t.Close(h); err != nil {
			core.Logger().Warn("resource close failed during drain",
				zap.Uint32("handle", uint32(h)),
				zap.Error(err))
		}
	}
}
