//go:build !v8

package qjsengine

import (
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"modernc.org/quickjs"

	"github.com/strandjs/strand/internal/core"
)

// Engine is the QuickJS backend. Unlike V8 there is no native promise
// resolver API on the Go side, so async results are delivered by evaluating
// a settle call against resolve/reject pairs the prelude parks under
// __strand.pending. Methods are confined to the loop goroutine.
type Engine struct {
	vm   *quickjs.VM
	disp core.Dispatcher

	// ids of promises the script side is still waiting on.
	pending  map[uint64]struct{}
	disposed bool
}

var _ core.ScriptEngine = (*Engine)(nil)

// New creates a QuickJS VM and installs the value prelude.
func New(cfg core.Config) (*Engine, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) * 1024 * 1024)
	}

	e := &Engine{vm: vm, pending: make(map[uint64]struct{})}
	if err := e.Eval(preludeJS, "strand:prelude"); err != nil {
		vm.Close()
		return nil, fmt.Errorf("installing prelude: %w", err)
	}
	return e, nil
}

// Eval evaluates JavaScript source and discards the result. QuickJS has no
// per-script origin hook in this wrapper, so origin only decorates errors.
func (e *Engine) Eval(src, origin string) error {
	v, err := e.vm.EvalValue(src, quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("%s: %w", origin, err)
	}
	v.Free()
	return nil
}

// BindOps installs __dispatch_raw and the op name table. The raw function
// always returns an encoded wire value: sync results and errors directly,
// async dispatches as a pending tag the prelude converts into a promise.
func (e *Engine) BindOps(d core.Dispatcher) error {
	e.disp = d

	raw := func(opID int, argsJSON string) string {
		decoded, err := core.DecodeWireArgs(argsJSON)
		if err != nil {
			oe := core.AsOpError(err)
			return core.EncodeWire(core.ErrValue(oe.Kind, oe.Message))
		}

		res := e.disp.Dispatch(uint32(opID), decoded)
		if !res.Async {
			if res.Err != nil {
				return core.EncodeWire(core.ErrValue(res.Err.Kind, res.Err.Message))
			}
			return core.EncodeWire(res.Value)
		}
		e.pending[res.PromiseID] = struct{}{}
		return fmt.Sprintf(`{"t":"pending","n":%d}`, res.PromiseID)
	}
	if err := e.vm.RegisterFunc("__dispatch_raw", raw, false); err != nil {
		return fmt.Errorf("binding __dispatch_raw: %w", err)
	}

	table := make(map[string]uint32)
	for i, name := range d.OpNames() {
		table[name] = uint32(i)
	}
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encoding op table: %w", err)
	}
	return e.Eval("__strand.setOps("+strconv.Quote(string(tableJSON))+");", "strand:optable")
}

// DeliverResult settles the parked promise for promiseID by evaluating the
// prelude's settle hook, then pumps the job queue so the continuation runs
// before the next delivery.
func (e *Engine) DeliverResult(promiseID uint64, v core.Value, opErr *core.OpError) {
	if _, ok := e.pending[promiseID]; !ok {
		core.Logger().Debug("dropping result for unknown promise",
			zap.Uint64("promise_id", promiseID))
		return
	}
	delete(e.pending, promiseID)

	payload := v
	if opErr != nil {
		payload = core.ErrValue(opErr.Kind, opErr.Message)
	}
	js := fmt.Sprintf("__strand.settle(%d, %s);", promiseID, strconv.Quote(core.EncodeWire(payload)))
	if err := e.Eval(js, "strand:settle"); err != nil {
		core.Logger().Error("settling promise", zap.Uint64("promise_id", promiseID), zap.Error(err))
	}
	pumpJobs(e.vm)
}

// RunMicrotasks drains the QuickJS pending job queue.
func (e *Engine) RunMicrotasks() {
	pumpJobs(e.vm)
}

// HasPendingWork reports promises the script side is still waiting on.
func (e *Engine) HasPendingWork() bool {
	return len(e.pending) > 0
}

// Dispose closes the VM. Safe to call once, after drain.
func (e *Engine) Dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	e.pending = nil
	e.vm.Close()
}
