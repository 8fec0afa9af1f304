package ops

import (
	"github.com/strandjs/strand/internal/core"
)

// Dispatcher is the call-site logic binding a registry to one isolate's
// state. It implements core.Dispatcher for the engine adapters.
type Dispatcher struct {
	reg   *Registry
	state *State
}

// NewDispatcher freezes the registry and binds it to state.
func NewDispatcher(reg *Registry, state *State) *Dispatcher {
	reg.Freeze()
	return &Dispatcher{reg: reg, state: state}
}

// State exposes the per-isolate state for the embedding isolate.
func (d *Dispatcher) State() *State { return d.state }

// OpID implements core.Dispatcher.
func (d *Dispatcher) OpID(name string) (uint32, bool) { return d.reg.ID(name) }

// OpNames implements core.Dispatcher.
func (d *Dispatcher) OpNames() []string { return d.reg.Names() }

// precheck runs the shared guards: op existence, arity, and the permission
// hook, before any resource is touched.
func (d *Dispatcher) precheck(opID uint32, args []core.Value) (*Op, *core.OpError) {
	op, ok := d.reg.Lookup(opID)
	if !ok {
		return nil, core.TypeMismatchf("no op with id %d", opID)
	}
	if len(args) < op.Arity {
		return nil, core.TypeMismatchf("%s requires at least %d argument(s), got %d",
			op.Name, op.Arity, len(args))
	}
	if op.Cap != "" {
		target := ""
		if op.CapTargetArg >= 0 && op.CapTargetArg < len(args) {
			if s, err := args[op.CapTargetArg].AsString(); err == nil {
				target = s
			}
		}
		if err := d.state.Check(op.Cap, target); err != nil {
			return nil, core.AsOpError(err)
		}
	}
	return op, nil
}

// Dispatch routes one call. Sync ops return an immediate value or tagged
// error; async ops return the correlation id of the pending promise.
// Expected failures (bad handle, bad argument, permission denial,
// cancellation) never panic; panics below here are programmer errors and
// intentionally fatal to the isolate.
func (d *Dispatcher) Dispatch(opID uint32, args []core.Value) core.DispatchResult {
	op, oerr := d.precheck(opID, args)
	if oerr != nil {
		return core.DispatchResult{Err: oerr}
	}

	if op.IsAsync() {
		cancel := core.NewCancelHandle()
		id, fulfill := d.state.Driver.Register(op.Name, cancel)
		if err := op.AsyncFn(d.state, args, cancel, fulfill); err != nil {
			// Setup failed before any work started: reject the promise.
			fulfill(core.Undefined(), err)
		}
		return core.DispatchResult{Async: true, PromiseID: id}
	}

	v, err := op.Fn(d.state, args)
	if err != nil {
		return core.DispatchResult{Err: core.AsOpError(err)}
	}
	return core.DispatchResult{Value: v}
}

// DispatchFast attempts the allocation-minimal calling convention for ops
// with purely numeric signatures. Returns ok=false when the op is not
// fast-eligible or bails out, in which case the caller falls back to
// Dispatch; absence of the fast path only changes latency, never behavior.
func (d *Dispatcher) DispatchFast(opID uint32, args []float64) (float64, bool) {
	op, ok := d.reg.Lookup(opID)
	if !ok || !op.FastEligible() || len(args) < op.Arity {
		return 0, false
	}
	if op.Cap != "" {
		// Permission-checked ops take the general path so denials surface
		// as proper exceptions.
		return 0, false
	}
	return op.FastFn(d.state, args)
}
