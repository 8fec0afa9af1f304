// Package ops implements the op registry and dispatcher: the routing layer
// between script-side op calls and native Go functions, covering the sync,
// async, and fast calling conventions.
package ops

import (
	"fmt"

	"github.com/strandjs/strand/internal/core"
)

// Fn is a synchronous native op. It must not block the calling thread for
// an unbounded duration; anything that can block belongs on the async path.
type Fn func(s *State, args []core.Value) (core.Value, error)

// AsyncFn starts asynchronous work and arranges for fulfill to be called
// exactly once, from any goroutine. Returning a non-nil error rejects the
// promise immediately without fulfill being called. The cancel handle is
// raised when the op is torn down mid-flight; blocking work must observe
// it.
type AsyncFn func(s *State, args []core.Value, cancel *core.CancelHandle, fulfill func(core.Value, error)) error

// FastFn is the optional allocation-free variant for ops with purely
// numeric arguments and returns. Returning ok=false falls back to the
// general path; the fast path is a latency optimization and never changes
// observable behavior.
type FastFn func(s *State, args []float64) (float64, bool)

// Op is the static descriptor for one registered operation.
type Op struct {
	Name string

	// Arity is the minimum argument count; fewer arguments fail with
	// TypeMismatch before the native function runs.
	Arity int

	// Blocking marks async ops whose work must run on the blocking pool.
	// Purely informational at dispatch time (the op's AsyncFn does the
	// submitting); kept for diagnostics and registration-time sanity.
	Blocking bool

	// MutatesState disqualifies the op from the fast path: a mutable
	// borrow of shared per-isolate state risks re-entrancy.
	MutatesState bool

	// Cap, when set, is checked against the permission hook before
	// dispatch touches anything. CapTargetArg names the argument index
	// holding the check target (-1 for none).
	Cap          core.Capability
	CapTargetArg int

	Fn      Fn
	AsyncFn AsyncFn
	FastFn  FastFn
}

// IsAsync reports whether the op uses the boxed-future calling convention.
func (o *Op) IsAsync() bool { return o.AsyncFn != nil }

// FastEligible reports whether a fast-path call may be attempted.
func (o *Op) FastEligible() bool { return o.FastFn != nil && !o.MutatesState }

// Registry maps op ids and names to descriptors. Registration happens at
// isolate construction; the registry is frozen before the first dispatch.
type Registry struct {
	ops    []Op
	byName map[string]uint32
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]uint32)}
}

// Register adds an op and assigns it the next id.
func (r *Registry) Register(op Op) (uint32, error) {
	if r.frozen {
		return 0, fmt.Errorf("registry frozen, cannot register %q", op.Name)
	}
	if op.Name == "" {
		return 0, fmt.Errorf("op name must not be empty")
	}
	if _, dup := r.byName[op.Name]; dup {
		return 0, fmt.Errorf("op %q already registered", op.Name)
	}
	if (op.Fn == nil) == (op.AsyncFn == nil) {
		return 0, fmt.Errorf("op %q must have exactly one of Fn or AsyncFn", op.Name)
	}
	if op.Blocking && op.AsyncFn == nil {
		return 0, fmt.Errorf("op %q is blocking but not async", op.Name)
	}
	if op.CapTargetArg == 0 && op.Cap == "" {
		op.CapTargetArg = -1
	}
	id := uint32(len(r.ops))
	r.ops = append(r.ops, op)
	r.byName[op.Name] = id
	return id, nil
}

// MustRegister is Register for init-time wiring of built-in ops.
func (r *Registry) MustRegister(op Op) uint32 {
	id, err := r.Register(op)
	if err != nil {
		panic(err)
	}
	return id
}

// Freeze ends registration.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup returns the descriptor for an id.
func (r *Registry) Lookup(id uint32) (*Op, bool) {
	if int(id) >= len(r.ops) {
		return nil, false
	}
	return &r.ops[id], true
}

// ID resolves an op name.
func (r *Registry) ID(name string) (uint32, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Names lists op names in id order, used by engine adapters to build the
// script-side name table.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ops))
	for i := range r.ops {
		names[i] = r.ops[i].Name
	}
	return names
}
