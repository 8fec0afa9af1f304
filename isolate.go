package strand

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strandjs/strand/internal/core"
	"github.com/strandjs/strand/internal/ops"
)

// IsolateOptions configures a new isolate.
type IsolateOptions struct {
	Config core.Config

	// Permissions guards filesystem, network, and env ops. Nil means
	// allow everything, for embedders that sandbox some other way.
	Permissions core.PermissionChecker

	// Loader resolves and loads module imports. Nil disables EvalModule.
	Loader core.ModuleLoader

	// Register lets the embedder add custom ops before the registry
	// freezes.
	Register func(reg *ops.Registry) error
}

// Isolate is one script execution context: an engine instance, its op
// dispatcher, resource table, and async driver. All methods must be called
// from the goroutine that created it; the blocking pool is the only place
// isolate-adjacent work runs elsewhere.
type Isolate struct {
	cfg    core.Config
	state  *ops.State
	disp   *ops.Dispatcher
	engine core.ScriptEngine
	loader core.ModuleLoader
	cache  *EmitCache

	shutdown bool
}

// NewIsolate creates an isolate with the built-in ops plus any embedder
// extras registered.
func NewIsolate(opts IsolateOptions) (*Isolate, error) {
	cfg := opts.Config.WithDefaults()

	state := ops.NewState(cfg, opts.Permissions)
	reg := ops.NewRegistry()
	registerCoreOps(reg)
	registerTimerOps(reg)
	registerFSOps(reg)
	registerNetOps(reg)
	registerWSOps(reg)
	registerKVOps(reg)
	registerCompressOps(reg)
	if opts.Register != nil {
		if err := opts.Register(reg); err != nil {
			state.Pool.Close()
			return nil, fmt.Errorf("registering custom ops: %w", err)
		}
	}
	disp := ops.NewDispatcher(reg, state)

	engine, err := newBackend(cfg)
	if err != nil {
		state.Pool.Close()
		return nil, fmt.Errorf("creating engine backend: %w", err)
	}
	if err := engine.BindOps(disp); err != nil {
		engine.Dispose()
		state.Pool.Close()
		return nil, fmt.Errorf("binding ops: %w", err)
	}

	iso := &Isolate{
		cfg:    cfg,
		state:  state,
		disp:   disp,
		engine: engine,
		loader: opts.Loader,
	}
	if cfg.DataDir != "" {
		cache, err := OpenEmitCache(cfg.DataDir, cfg.Version)
		if err != nil {
			core.Logger().Warn("emit cache unavailable", zap.Error(err))
		} else {
			iso.cache = cache
		}
	}
	return iso, nil
}

// State exposes per-isolate state for embedder bindings.
func (i *Isolate) State() *ops.State { return i.state }

// Eval evaluates plain JavaScript and pumps microtasks once. Fatal engine
// panics are converted to errors so the embedder can tear the isolate down
// instead of crashing the process.
func (i *Isolate) Eval(src, origin string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Fatalf("engine panic in %s: %v", origin, r)
		}
	}()
	if err := i.engine.Eval(src, origin); err != nil {
		return err
	}
	i.engine.RunMicrotasks()
	return nil
}

// EvalModule resolves, loads, transpiles if needed, and evaluates a module
// specifier through the configured loader. Transpiled output goes through
// the emit cache when one is open.
func (i *Isolate) EvalModule(specifier string) error {
	if i.loader == nil {
		return core.TypeMismatchf("no module loader configured")
	}
	canonical, err := i.loader.Resolve(specifier, ".")
	if err != nil {
		return fmt.Errorf("resolving %q: %w", specifier, err)
	}
	src, media, err := i.loader.Load(canonical)
	if err != nil {
		return fmt.Errorf("loading %q: %w", canonical, err)
	}

	code := string(src)
	if media == core.MediaJSON {
		code = "globalThis.__module_json = " + code + ";"
	} else {
		code, err = i.transpile(canonical, src, media)
		if err != nil {
			return err
		}
	}
	return i.Eval(code, canonical)
}

func (i *Isolate) transpile(canonical string, src []byte, media core.MediaType) (string, error) {
	if i.cache != nil {
		if out, ok := i.cache.Get(canonical, src); ok {
			return string(out), nil
		}
	}
	out, err := Transpile(canonical, string(src), media)
	if err != nil {
		return "", fmt.Errorf("transpiling %q: %w", canonical, err)
	}
	if i.cache != nil {
		if err := i.cache.Put(canonical, src, []byte(out)); err != nil {
			core.Logger().Warn("emit cache write failed",
				zap.String("specifier", canonical), zap.Error(err))
		}
	}
	return out, nil
}

// Run drives the event loop until quiescence or the configured execution
// timeout. Quiescence means no pending ops, no timers, and no unsettled
// engine-side work.
func (i *Isolate) Run() error {
	deadline := time.Now().Add(time.Duration(i.cfg.ExecutionTimeout) * time.Millisecond)
	return i.RunUntil(deadline)
}

// RunUntil is Run with an explicit deadline.
func (i *Isolate) RunUntil(deadline time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Fatalf("engine panic during event loop: %v", r)
		}
	}()
	return i.state.Driver.Run(i.engine, deadline, func() bool {
		return !i.engine.HasPendingWork()
	})
}

// Shutdown tears the isolate down in dependency order: cancel in-flight
// ops and deliver their rejections, close every resource, stop the
// blocking pool, then dispose the engine. Idempotent.
func (i *Isolate) Shutdown() {
	if i.shutdown {
		return
	}
	i.shutdown = true

	i.state.Driver.Shutdown()
	// Deliver the cancellation rejections so script-side finalizers run
	// before their resources disappear.
	for i.state.Driver.Turn(i.engine) {
	}
	i.state.Resources.DrainAll()
	i.state.Pool.Close()
	if i.cache != nil {
		i.cache.Close()
	}
	i.engine.Dispose()
}
