//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"strconv"

	v8 "github.com/tommie/v8go"
	"go.uber.org/zap"

	"github.com/strandjs/strand/internal/core"
)

// Engine is the V8 backend: one isolate+context pair bound to a dispatcher.
// All methods must run on the isolate's goroutine; V8 handles are not safe
// to touch from anywhere else, and the loop already confines them.
type Engine struct {
	iso  *v8.Isolate
	ctx  *v8.Context
	disp core.Dispatcher

	// promise id -> resolver for in-flight async ops. Written by the
	// __dispatch callback, consumed by DeliverResult, both on the loop
	// goroutine.
	resolvers map[uint64]*v8.PromiseResolver
	disposed  bool
}

var _ core.ScriptEngine = (*Engine)(nil)

// New creates a V8 isolate+context and installs the value prelude.
func New(cfg core.Config) (*Engine, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)

	e := &Engine{
		iso:       iso,
		ctx:       ctx,
		resolvers: make(map[uint64]*v8.PromiseResolver),
	}
	if _, err := ctx.RunScript(preludeJS, "strand:prelude"); err != nil {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("installing prelude: %w", err)
	}
	return e, nil
}

// Eval evaluates JavaScript source and discards the result.
func (e *Engine) Eval(src, origin string) error {
	_, err := e.ctx.RunScript(src, origin)
	return err
}

// BindOps installs __dispatch and the op name table. The callback decodes
// the argument vector, routes through the dispatcher, and hands back either
// an encoded result string (sync) or a promise of one (async). Errors ride
// the wire as tagged values; the prelude revives and throws them, so this
// side never throws for op failures.
func (e *Engine) BindOps(d core.Dispatcher) error {
	e.disp = d

	tmpl := v8.NewFunctionTemplate(e.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < 2 {
			msg, _ := v8.NewValue(e.iso, "__dispatch requires (opID, argsJSON)")
			e.iso.ThrowException(msg)
			return nil
		}
		opID := uint32(args[0].Uint32())
		decoded, err := core.DecodeWireArgs(args[1].String())
		if err != nil {
			return e.encodedValue(core.EncodeWire(errToValue(err)))
		}

		res := e.disp.Dispatch(opID, decoded)
		if !res.Async {
			if res.Err != nil {
				return e.encodedValue(core.EncodeWire(core.ErrValue(res.Err.Kind, res.Err.Message)))
			}
			return e.encodedValue(core.EncodeWire(res.Value))
		}

		resolver, rerr := v8.NewPromiseResolver(e.ctx)
		if rerr != nil {
			return e.encodedValue(core.EncodeWire(core.ErrValue(core.ErrIo, rerr.Error())))
		}
		e.resolvers[res.PromiseID] = resolver
		return resolver.GetPromise().Value
	})

	fnObj := tmpl.GetFunction(e.ctx)
	if err := e.ctx.Global().Set("__dispatch", fnObj); err != nil {
		return fmt.Errorf("binding __dispatch: %w", err)
	}

	// The numeric fast path skips all JSON and string traffic. Null means
	// the op bailed out and the caller takes the general path.
	if fd, ok := d.(core.FastDispatcher); ok {
		fastTmpl := v8.NewFunctionTemplate(e.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
			args := info.Args()
			if len(args) < 1 {
				return v8.Null(e.iso)
			}
			opID := uint32(args[0].Uint32())
			nums := make([]float64, len(args)-1)
			for i := 1; i < len(args); i++ {
				nums[i-1] = args[i].Number()
			}
			out, ok := fd.DispatchFast(opID, nums)
			if !ok {
				return v8.Null(e.iso)
			}
			v, err := v8.NewValue(e.iso, out)
			if err != nil {
				return v8.Null(e.iso)
			}
			return v
		})
		if err := e.ctx.Global().Set("__dispatch_fast", fastTmpl.GetFunction(e.ctx)); err != nil {
			return fmt.Errorf("binding __dispatch_fast: %w", err)
		}
	}

	table := make(map[string]uint32)
	for i, name := range d.OpNames() {
		table[name] = uint32(i)
	}
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encoding op table: %w", err)
	}
	script := "__strand.setOps(" + strconv.Quote(string(tableJSON)) + ");"
	if _, err := e.ctx.RunScript(script, "strand:optable"); err != nil {
		return fmt.Errorf("installing op table: %w", err)
	}
	return nil
}

// DeliverResult settles the promise registered for promiseID. The payload
// always arrives as an encoded wire value; the prelude's then-hook decodes
// it and turns error tags into rejections, so Resolve is the only settle
// path here. Unknown ids are dropped: the promise was already settled or
// the op was dispatched before a shutdown cleared the table.
func (e *Engine) DeliverResult(promiseID uint64, v core.Value, opErr *core.OpError) {
	resolver, ok := e.resolvers[promiseID]
	if !ok {
		core.Logger().Debug("dropping result for unknown promise",
			zap.Uint64("promise_id", promiseID))
		return
	}
	delete(e.resolvers, promiseID)

	payload := v
	if opErr != nil {
		payload = core.ErrValue(opErr.Kind, opErr.Message)
	}
	jsVal, err := v8.NewValue(e.iso, core.EncodeWire(payload))
	if err != nil {
		core.Logger().Error("encoding result for promise", zap.Error(err))
		return
	}
	resolver.Resolve(jsVal)
	e.ctx.PerformMicrotaskCheckpoint()
}

// RunMicrotasks pumps the V8 microtask queue.
func (e *Engine) RunMicrotasks() {
	e.ctx.PerformMicrotaskCheckpoint()
}

// HasPendingWork reports unsettled op promises held by the adapter. V8
// microtasks are drained eagerly at every checkpoint, so the resolver
// table is the only engine-side work that can outlive a turn.
func (e *Engine) HasPendingWork() bool {
	return len(e.resolvers) > 0
}

// Dispose tears down the context and isolate. Safe to call once; the
// isolate owner guarantees ordering after drain.
func (e *Engine) Dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	e.resolvers = nil
	e.ctx.Close()
	e.iso.Dispose()
}

func (e *Engine) encodedValue(s string) *v8.Value {
	v, err := v8.NewValue(e.iso, s)
	if err != nil {
		msg, _ := v8.NewValue(e.iso, "encoding op result: "+err.Error())
		e.iso.ThrowException(msg)
		return nil
	}
	return v
}

func errToValue(err error) core.Value {
	oe := core.AsOpError(err)
	return core.ErrValue(oe.Kind, oe.Message)
}
