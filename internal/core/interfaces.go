package core

// Capability names a privileged action class checked before an op touches
// the outside world.
type Capability string

const (
	CapRead  Capability = "read"
	CapWrite Capability = "write"
	CapNet   Capability = "net"
	CapEnv   Capability = "env"
	CapRun   Capability = "run"
)

// PermissionChecker is the sandboxing hook consulted before any
// filesystem, network, or env op executes. Check runs before the native
// function and may short-circuit dispatch; a denial surfaces to script as
// a PermissionDenied exception.
type PermissionChecker interface {
	Check(cap Capability, target string) error
}

// MediaType classifies a loaded module source for the transpile step.
type MediaType uint8

const (
	MediaJavaScript MediaType = iota
	MediaTypeScript
	MediaJSX
	MediaTSX
	MediaJSON
)

// NeedsTranspile reports whether the source must be transformed to plain
// JavaScript before the engine can evaluate it.
func (m MediaType) NeedsTranspile() bool {
	return m == MediaTypeScript || m == MediaJSX || m == MediaTSX
}

// ModuleLoader is the engine's hook for resolving and loading imports.
type ModuleLoader interface {
	// Resolve turns a specifier (possibly relative) plus its referrer into
	// a canonical specifier.
	Resolve(specifier, referrer string) (string, error)

	// Load fetches the source for a canonical specifier.
	Load(canonical string) ([]byte, MediaType, error)
}

// DispatchResult is what a dispatch call hands back to the engine adapter:
// either an immediate value/error (sync path) or a correlation id the
// adapter associates with a script promise (async path).
type DispatchResult struct {
	Async     bool
	PromiseID uint64
	Value     Value
	Err       *OpError
}

// Dispatcher routes (op id, arguments) calls from the engine adapter into
// native code. Implemented by internal/ops.
type Dispatcher interface {
	Dispatch(opID uint32, args []Value) DispatchResult

	// OpID resolves an op name to its id; used by adapters to build the
	// script-side op name table at startup.
	OpID(name string) (uint32, bool)

	// OpNames lists registered ops in id order.
	OpNames() []string
}

// FastDispatcher is optionally implemented by dispatchers supporting the
// allocation-minimal numeric calling convention. Adapters discover it by
// assertion; engines without a cheap numeric call path just ignore it.
type FastDispatcher interface {
	DispatchFast(opID uint32, args []float64) (float64, bool)
}

// ResultSink receives completed async op results from the driver, in
// completion order, and resolves or rejects the associated script promise.
// Engine adapters implement this; tests substitute a collector.
type ResultSink interface {
	DeliverResult(promiseID uint64, v Value, err *OpError)
}

// ScriptEngine abstracts the JavaScript engine backend (V8 or QuickJS)
// behind the surface the isolate needs: evaluate source, pump microtasks,
// dispose. Argument and return values cross only as Values; the adapter
// owns all engine-native value handling.
type ScriptEngine interface {
	ResultSink

	// Eval evaluates JavaScript source with the given script origin and
	// discards the result.
	Eval(src, origin string) error

	// BindOps installs the op calling convention (__dispatch and the op
	// name table) into the engine's global scope.
	BindOps(d Dispatcher) error

	// RunMicrotasks pumps the engine's microtask queue (promise
	// callbacks). Called by the driver after each delivery.
	RunMicrotasks()

	// HasPendingWork reports engine-internal pending work (unsettled
	// dynamic imports, queued microtasks) that should keep the loop alive.
	HasPendingWork() bool

	// Dispose releases the engine instance. The isolate calls it exactly
	// once, after drain.
	Dispose()
}
